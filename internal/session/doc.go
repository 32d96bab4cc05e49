// Package session implements the Conversation Runner (spec.md §4.4): the
// round-based loop that binds a session's message history to LLM calls,
// branches on tool calls versus a final answer, and feeds completed tasks
// through the Task Verifier's gold-memory loop.
//
// # Core Components
//
//   - Runner: RunMainLoop drives one user turn end to end — LLM rounds,
//     tool execution via internal/gateway and internal/permission, and
//     optional verification via internal/verifier.
//   - SessionStore / RunnerSession: the process-wide, lock-protected
//     session table (spec.md §4.7), one RunnerSession per conversation,
//     holding message history, token totals, and a bounded event Timeline.
//   - SystemPrompt: builds the system message a brand-new session's history
//     is seeded with — provider header, agent profile prompt, model-specific
//     guidance, environment context, custom project rules, and tool-usage
//     guidelines.
//   - sanitizeToolOutput: the defensive boundary spec.md §9 requires between
//     a tool's raw output and the LLM message history (UTF-8 enforcement,
//     control-sequence stripping, size cap).
//
// # Usage
//
//	runner := &session.Runner{
//		Completer: provider.NewProviderCompleter(p),
//		Model:     "claude-sonnet-4-20250514",
//		Tools:     toolRegistry,
//		Confirmer: permEngine,
//		Verifier:  taskVerifier,
//		Sessions:  session.NewSessionStore(),
//		Storage:   jsonStore,
//		SystemPrompt: session.NewSystemPrompt(workDir, agentProfile, "anthropic", model).Build(),
//	}
//	resp, err := runner.RunMainLoop(ctx, sessionID, workDir, "fix the bug in main.go", session.RunOptions{
//		ActiveTaskID: "task-1",
//		AutoVerify:   true,
//	})
//
// # Integration Points
//
//   - internal/provider: the Completer seam the Runner calls each round.
//   - internal/gateway: classifies tool calls into permission keys and
//     retries under the runtime-confirmation protocol.
//   - internal/permission: resolves the Allow/Ask/Deny decision and prompts
//     for confirmation.
//   - internal/verifier: the gold-memory feedback loop run after a
//     tool-call-free round when an active task is set.
//   - internal/event: the ExecutionEvent kinds and Timeline the Runner
//     emits into every round.
//   - internal/storage: the JSON store sessions are persisted to after
//     every round.
package session
