package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/avabearer/internal/observability"
)

const cleanupInterval = time.Minute

// memoryStore keeps keys in process memory.
type memoryStore struct {
	logger     observability.Logger
	metrics    *Metrics
	now        func() time.Time
	maxEntries int

	mu     sync.Mutex
	items  map[string]time.Time
	closed bool

	stopCh chan struct{}
}

func newMemoryStore(maxEntries int, o options) *memoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	s := &memoryStore{
		logger:     o.logger,
		metrics:    o.metrics,
		now:        o.now,
		maxEntries: maxEntries,
		items:      make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}

	go s.cleanupLoop()

	s.logger.Info("memory cache store initialized",
		observability.Int("maxEntries", maxEntries))

	return s
}

func (s *memoryStore) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	now := s.now()
	if exp, ok := s.items[key]; ok && now.Before(exp) {
		s.metrics.recordOp(TypeMemory, "setnx", resultExists, time.Since(start))
		return false, nil
	}

	if len(s.items) >= s.maxEntries {
		s.removeExpiredLocked(now)
		if len(s.items) >= s.maxEntries {
			s.metrics.recordOp(TypeMemory, "setnx", resultError, time.Since(start))
			return false, ErrStoreFull
		}
	}

	s.items[key] = now.Add(ttl)
	s.metrics.setSize(TypeMemory, len(s.items))
	s.metrics.recordOp(TypeMemory, "setnx", resultStored, time.Since(start))
	return true, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.items, key)
	s.metrics.setSize(TypeMemory, len(s.items))
	return nil
}

// Ping fails once the store is closed.
func (s *memoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the cleanup goroutine and drops every key.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.items = nil

	s.logger.Info("memory cache store closed")
	return nil
}

func (s *memoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *memoryStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *memoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if removed := s.removeExpiredLocked(s.now()); removed > 0 {
		s.logger.Debug("cache cleanup completed",
			observability.Int("removed", removed))
	}
}

// removeExpiredLocked must be called with s.mu held.
func (s *memoryStore) removeExpiredLocked(now time.Time) int {
	removed := 0
	for k, exp := range s.items {
		if !now.Before(exp) {
			delete(s.items, k)
			removed++
		}
	}
	if removed > 0 {
		s.metrics.addEvictions(TypeMemory, removed)
		s.metrics.setSize(TypeMemory, len(s.items))
	}
	return removed
}
