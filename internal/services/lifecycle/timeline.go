package lifecycle

import (
	"context"
	"sync"
	"time"

	"veilchat/internal/domain"
)

// State of a message on the timeline.
type State uint8

const (
	Fresh State = iota + 1
	Stale
)

func (s State) String() string {
	if s == Stale {
		return "stale"
	}
	return "fresh"
}

// DefaultCapacity bounds how many messages a Timeline keeps.
const DefaultCapacity = 1000

type entry struct {
	msg     domain.Message
	arrived time.Time
	stale   bool
}

// Timeline holds received messages and decides which are still fit to show.
//
// Staleness is evaluated lazily on every read and by Sweep; once a message
// is stale it stays stale. Deadlines run from local arrival, never from the
// sender's CreatedAt, so clock skew between machines does not move them. Expiry hides messages, it does not wipe them.
type Timeline struct {
	policy   Policy
	clock    domain.Clock
	capacity int

	mu          sync.Mutex
	entries     []entry
	lastArrival time.Time
}

// NewTimeline returns an empty timeline. A nil clock means the wall clock;
// capacity <= 0 means DefaultCapacity.
func NewTimeline(p Policy, clock domain.Clock, capacity int) *Timeline {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Timeline{policy: p, clock: clock, capacity: capacity}
}

// Add records an arrival. Under the inactivity policy the arrival restarts
// the window for every message that is still fresh.
func (t *Timeline) Add(m domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.latchLocked(now)
	t.entries = append(t.entries, entry{msg: m, arrived: now})
	if over := len(t.entries) - t.capacity; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
	t.lastArrival = now
}

// latchLocked marks every message whose deadline has passed as stale.
func (t *Timeline) latchLocked(now time.Time) int {
	n := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.stale {
			continue
		}
		if t.expiredLocked(e, now) {
			e.stale = true
			n++
		}
	}
	return n
}

func (t *Timeline) expiredLocked(e *entry, now time.Time) bool {
	switch t.policy.Mode {
	case Inactivity:
		return now.Sub(t.lastArrival) >= t.policy.Delay
	default:
		return now.Sub(e.arrived) >= t.policy.Delay
	}
}

// State reports the state of message id; false if it is not held.
func (t *Timeline) State(id string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latchLocked(t.clock.Now())
	for _, e := range t.entries {
		if e.msg.ID == id {
			if e.stale {
				return Stale, true
			}
			return Fresh, true
		}
	}
	return 0, false
}

// Visible returns the fresh messages in arrival order.
func (t *Timeline) Visible() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latchLocked(t.clock.Now())
	var out []domain.Message
	for _, e := range t.entries {
		if !e.stale {
			out = append(out, e.msg)
		}
	}
	return out
}

// Sweep latches expired messages and drops stale ones, returning how many
// went stale in this call.
func (t *Timeline) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.latchLocked(t.clock.Now())
	kept := t.entries[:0]
	for _, e := range t.entries {
		if !e.stale {
			kept = append(kept, e)
		}
	}
	clear(t.entries[len(kept):])
	t.entries = kept
	return n
}

// Run sweeps every interval until ctx is done. onStale, if set, is called
// after a sweep that expired something.
func (t *Timeline) Run(ctx context.Context, interval time.Duration, onStale func(n int)) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := t.Sweep(); n > 0 && onStale != nil {
				onStale(n)
			}
		}
	}
}

// Clear forgets every message.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
	t.entries = t.entries[:0]
}

// Len is the number of messages held, fresh or stale.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
