package event

import "sync"

const maxTimelineEvents = 1000

// TimelineSignalKind distinguishes the three things a Timeline subscriber
// can observe, per spec.md §6's broadcast channel: a message, a lag
// notification, or channel closure.
type TimelineSignalKind string

const (
	TimelineMessage TimelineSignalKind = "message"
	TimelineLagged  TimelineSignalKind = "lagged"
	TimelineClosed  TimelineSignalKind = "closed"
)

// TimelineSignal is what a Timeline subscriber receives from try-receive.
type TimelineSignal struct {
	Kind    TimelineSignalKind
	Event   ExecutionEvent
	Skipped int // set when Kind == TimelineLagged
}

type timelineSub struct {
	ch     chan TimelineSignal
	closed bool
}

// Timeline is a per-session bounded broadcast of ExecutionEvents: it keeps
// the most recent maxTimelineEvents for late subscribers to catch up from
// (via Recent) and fans out live events to subscribers over bounded
// channels. A slow subscriber whose channel fills does not block the
// publisher; it instead receives a Lagged(n) signal on its next read and
// resumes from the live edge.
type Timeline struct {
	mu          sync.Mutex
	sessionID   string
	ring        []ExecutionEvent
	subs        map[uint64]*timelineSub
	nextSubID   uint64
	subBuffer   int
}

// NewTimeline creates a Timeline for a session. subBuffer is the per-
// subscriber channel capacity before a slow reader starts lagging; 0 picks
// a sane default.
func NewTimeline(sessionID string, subBuffer int) *Timeline {
	if subBuffer <= 0 {
		subBuffer = 64
	}
	return &Timeline{
		sessionID: sessionID,
		subs:      make(map[uint64]*timelineSub),
		subBuffer: subBuffer,
	}
}

// Record appends an event to the bounded history and fans it out to every
// live subscriber.
func (t *Timeline) Record(ev ExecutionEvent) {
	t.mu.Lock()
	t.ring = append(t.ring, ev)
	if len(t.ring) > maxTimelineEvents {
		t.ring = t.ring[len(t.ring)-maxTimelineEvents:]
	}

	subs := make([]*timelineSub, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- TimelineSignal{Kind: TimelineMessage, Event: ev}:
		default:
			// Subscriber's buffer is full: evict its oldest queued signal
			// to make room, then leave a lag notification in its place
			// rather than blocking the publisher on a slow reader. The
			// notification counts this event plus whatever the evicted
			// signal stood for.
			skipped := 1
			select {
			case old := <-s.ch:
				if old.Kind == TimelineLagged {
					skipped += old.Skipped
				} else {
					skipped++
				}
			default:
			}
			select {
			case s.ch <- TimelineSignal{Kind: TimelineLagged, Skipped: skipped}:
			default:
			}
		}
	}

	Publish(Event{Type: EventType("session." + t.sessionID + ".execution"), Data: ev})
}

// Recent returns a snapshot of up to the most recent maxTimelineEvents
// events, oldest first.
func (t *Timeline) Recent() []ExecutionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExecutionEvent, len(t.ring))
	copy(out, t.ring)
	return out
}

// Subscribe registers a live subscriber and returns its signal channel plus
// an unsubscribe function. If the caller does not unsubscribe first, Close
// delivers TimelineClosed as the final signal when the channel has buffer
// space for it, and then closes the channel.
func (t *Timeline) Subscribe() (<-chan TimelineSignal, func()) {
	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	sub := &timelineSub{ch: make(chan TimelineSignal, t.subBuffer)}
	t.subs[id] = sub
	t.mu.Unlock()

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if s, ok := t.subs[id]; ok && !s.closed {
			s.closed = true
			delete(t.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Close shuts down every live subscriber, delivering a final TimelineClosed
// signal where buffer space allows.
func (t *Timeline) Close() {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[uint64]*timelineSub)
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- TimelineSignal{Kind: TimelineClosed}:
		default:
		}
		close(s.ch)
	}
}
