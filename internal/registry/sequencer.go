package registry

import (
	"sync"
	"time"

	"live-auction/utils"
)

// DefaultSequenceWait bounds how long a ticket waits for its predecessor
const DefaultSequenceWait = 5 * time.Second

// Sequencer orders fan-out per auction in commit order. A Ticket must be
// taken while the auction row is locked, so ticket order is commit order.
type Sequencer struct {
	mu      sync.Mutex
	tails   map[string]*Ticket // key: auctionID -> most recent ticket
	maxWait time.Duration
}

// Ticket is one slot in an auction's fan-out order. A nil *Ticket is valid
// and never waits.
type Ticket struct {
	seq  *Sequencer
	key  string
	prev <-chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSequencer creates a sequencer. A non-positive maxWait uses DefaultSequenceWait.
func NewSequencer(maxWait time.Duration) *Sequencer {
	if maxWait <= 0 {
		maxWait = DefaultSequenceWait
	}
	return &Sequencer{tails: make(map[string]*Ticket), maxWait: maxWait}
}

// Next issues the ticket following every ticket already issued for key.
// It never blocks.
func (s *Sequencer) Next(key string) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Ticket{seq: s, key: key, done: make(chan struct{})}
	if tail, ok := s.tails[key]; ok {
		t.prev = tail.done
	}
	s.tails[key] = t
	return t
}

// Pending returns the number of keys with an unfinished ticket
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}

// Wait blocks until the previous ticket for the same key is done. A
// predecessor that never finishes is given up on after the sequencer's
// max wait so one lost ticket cannot stall an auction's fan-out.
func (t *Ticket) Wait() {
	if t == nil || t.prev == nil {
		return
	}

	timer := time.NewTimer(t.seq.maxWait)
	defer timer.Stop()

	select {
	case <-t.prev:
	case <-timer.C:
		utils.Warn("registry: gave up waiting for earlier fan-out", map[string]any{
			"component":  "registry",
			"auction_id": t.key,
			"waited":     t.seq.maxWait.String(),
		})
	}
}

// Done releases the ticket. Safe to call more than once.
func (t *Ticket) Done() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		close(t.done)

		t.seq.mu.Lock()
		if t.seq.tails[t.key] == t {
			delete(t.seq.tails, t.key)
		}
		t.seq.mu.Unlock()
	})
}
