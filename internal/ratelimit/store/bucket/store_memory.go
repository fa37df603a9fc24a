package bucket

import (
	"context"
	"sync"
	"time"

	"edushield/internal/ratelimit/models"
)

// InMemoryStore implements Store with fixed-window counters. A window is
// anchored at the first request after expiry and resets atomically once
// now - windowStart >= window. Adequate for a single process; use the
// Redis store when counters must be shared.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*fixedWindow
	// now is swappable so tests can drive the clock.
	now func() time.Time
}

// fixedWindow is one counter: requests observed since windowStart.
type fixedWindow struct {
	windowStart time.Time
	count       int
}

// NewInMemoryStore creates an empty in-memory counter store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		buckets: make(map[string]*fixedWindow),
		now:     time.Now,
	}
}

// Allow consumes one request from the key's window, creating the bucket
// lazily on first use. The count is incremented before the comparison, so a
// bucket at the limit rejects without exceeding max.
func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	fw := s.buckets[key]
	if fw == nil {
		fw = &fixedWindow{windowStart: now}
		s.buckets[key] = fw
	} else if now.Sub(fw.windowStart) >= window {
		fw.windowStart = now
		fw.count = 0
	}

	resetAt := fw.windowStart.Add(window)

	if fw.count+1 > limit {
		retryAfter := int(resetAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}

	fw.count++
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - fw.count,
		ResetAt:   resetAt,
	}, nil
}

// Status reports the bucket state without consuming a request.
func (s *InMemoryStore) Status(_ context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	fw := s.buckets[key]
	if fw == nil || now.Sub(fw.windowStart) >= window {
		return &models.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(window),
		}, nil
	}

	remaining := limit - fw.count
	if remaining < 0 {
		remaining = 0
	}
	return &models.Result{
		Allowed:   remaining > 0,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   fw.windowStart.Add(window),
	}, nil
}

// Reset clears the counter for a key.
func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}
