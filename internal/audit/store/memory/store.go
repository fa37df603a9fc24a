package memory

import (
	"context"
	"sync"

	"edushield/internal/audit"
)

// Store keeps events in memory. Test double for the file and postgres sinks;
// same append-only contract.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
	// failWith, when set, makes Append fail. Lets tests exercise the
	// recorder's swallow-and-surface path.
	failWith error
}

func New() *Store {
	return &Store{}
}

// NewFailing returns a store whose Append always fails with err.
func NewFailing(err error) *Store {
	return &Store{failWith: err}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) Scan(_ context.Context, fn func(audit.Event) bool) error {
	s.mu.RLock()
	snapshot := append([]audit.Event{}, s.events...)
	s.mu.RUnlock()

	for _, event := range snapshot {
		if !fn(event) {
			return nil
		}
	}
	return nil
}

// Events returns a copy of everything appended so far.
func (s *Store) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...)
}
