package session

import (
	"context"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the number of sessions a MemoryStore tracks.
const DefaultCapacity = 50000

type entry struct {
	lockedUntil  time.Time
	lockReason   string
	attempts     []time.Time
	asked        []string
	lastNotFound time.Time
	touched      time.Time
}

// MemoryStore is a thread-safe in-memory Store. Least recently used
// sessions are evicted past capacity. For several gateway replicas use
// RedisStore.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
	opts  Options
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore. capacity <= 0 uses DefaultCapacity.
func NewMemoryStore(capacity int, opts Options) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, *entry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache, opts: opts.withDefaults(), now: time.Now}, nil
}

// SetClock replaces the store's clock. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// get returns the entry for id, creating it when create is set. Caller holds
// s.mu.
func (s *MemoryStore) get(id string, create bool) *entry {
	e, ok := s.cache.Get(id)
	if ok && s.now().Sub(e.touched) > s.opts.StateTTL && !s.now().Before(e.lockedUntil) {
		s.cache.Remove(id)
		e, ok = nil, false
	}
	if !ok {
		if !create {
			return nil
		}
		e = &entry{}
		s.cache.Add(id, e)
	}
	if create {
		e.touched = s.now()
	}
	return e
}

func (s *MemoryStore) LockSession(_ context.Context, id, reason string, d time.Duration) error {
	if id == "" {
		return ErrNoSession
	}
	if d <= 0 {
		d = s.opts.LockDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(id, true)
	until := s.now().Add(d)
	if until.After(e.lockedUntil) {
		e.lockedUntil = until
	}
	e.lockReason = reason
	return nil
}

func (s *MemoryStore) IsSessionLocked(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(id, false)
	return e != nil && s.now().Before(e.lockedUntil), nil
}

// LockReason returns the reason of an active lock.
func (s *MemoryStore) LockReason(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.get(id, false); e != nil && s.now().Before(e.lockedUntil) {
		return e.lockReason
	}
	return ""
}

func (s *MemoryStore) CheckEnumerationAttempt(_ context.Context, id string, a Attempt) (EnumerationResult, error) {
	if id == "" {
		return EnumerationResult{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.get(id, true)
	cutoff := now.Add(-s.opts.Window)
	kept := e.attempts[:0]
	for _, t := range e.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.attempts = append(kept, now)

	res := EnumerationResult{Count: len(e.attempts)}
	if res.Count >= s.opts.Threshold && !now.Before(e.lockedUntil) {
		e.lockedUntil = now.Add(s.opts.LockDuration)
		e.lockReason = EnumerationReason(a)
		res.Locked = true
	}
	return res, nil
}

func (s *MemoryStore) Recall(_ context.Context, id string) (Memory, error) {
	if id == "" {
		return Memory{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(id, false)
	if e == nil {
		return Memory{}, nil
	}
	return Memory{LastNotFoundAt: e.lastNotFound, AskedFields: slices.Clone(e.asked)}, nil
}

func (s *MemoryStore) MarkAsked(_ context.Context, id, field string) error {
	if id == "" {
		return ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(id, true)
	if !slices.Contains(e.asked, field) {
		e.asked = append(e.asked, field)
	}
	return nil
}

func (s *MemoryStore) MarkNotFound(_ context.Context, id string, at time.Time) error {
	if id == "" {
		return ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.get(id, true).lastNotFound = at
	return nil
}

// Len returns the number of tracked sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
