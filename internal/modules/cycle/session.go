package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSessionIncomplete is returned when results are read before every
	// strategy has reported.
	ErrSessionIncomplete = errors.New("session incomplete")
	// ErrUnknownStrategy is returned when a result arrives for a strategy the
	// session does not expect.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrDuplicateResult is returned when a strategy reports twice.
	ErrDuplicateResult = errors.New("duplicate result")
)

// Session is the barrier between concurrent evaluation and aggregation. It
// knows which strategies must report and releases their results only once
// all of them have.
type Session struct {
	mu       sync.Mutex
	index    map[string]int
	results  []StrategyResult
	received []bool
	pending  int
	done     chan struct{}
}

// NewSession expects one result for each id.
func NewSession(ids []string) *Session {
	s := &Session{
		index:    make(map[string]int, len(ids)),
		results:  make([]StrategyResult, len(ids)),
		received: make([]bool, len(ids)),
		done:     make(chan struct{}),
	}
	for i, id := range ids {
		s.index[id] = i
	}
	s.pending = len(ids)
	if s.pending == 0 {
		close(s.done)
	}
	return s
}

// Record accepts the result for one expected strategy. Safe for concurrent use.
func (s *Session) Record(r StrategyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[r.StrategyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, r.StrategyID)
	}
	if s.received[i] {
		return fmt.Errorf("%w: %s", ErrDuplicateResult, r.StrategyID)
	}
	s.results[i] = r
	s.received[i] = true
	s.pending--
	if s.pending == 0 {
		close(s.done)
	}
	return nil
}

// Pending returns how many strategies have not reported.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Done is closed once every strategy has reported.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every strategy has reported or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the results in the order the ids were given, or
// ErrSessionIncomplete while any are missing.
func (s *Session) Results() ([]StrategyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		return nil, fmt.Errorf("%w: %d of %d pending", ErrSessionIncomplete, s.pending, len(s.results))
	}
	out := make([]StrategyResult, len(s.results))
	copy(out, s.results)
	return out, nil
}
