// Package verifier closes the loop between a declared-complete task and the
// persistent record of what the agent actually got wrong along the way.
//
// It owns two things: VerifyCompletion, a read-only check of a task against
// its recorded steps and an optional quality gate, and VerifyAndTrack, which
// wraps that check with a feedback loop into a versioned gold-memory store
// of structured invariants. Storage is an interface so this package never
// imports internal/storage, avoiding the cycle storage would otherwise
// create (storage depends on nothing here; the engine wires the two
// together at startup).
package verifier
