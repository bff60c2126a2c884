package cache

import (
	"context"
	"sync"
	"time"
)

// LocalIdempotencyStore keeps responses in process memory.
type LocalIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

type localEntry struct {
	value   []byte
	expires time.Time
}

// NewLocalIdempotencyStore creates an in-process idempotency store
func NewLocalIdempotencyStore() *LocalIdempotencyStore {
	return &LocalIdempotencyStore{entries: make(map[string]localEntry), now: time.Now}
}

// Get returns the stored response for key, if any
func (s *LocalIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expires) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores a response for key
func (s *LocalIdempotencyStore) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = localEntry{value: append([]byte(nil), response...), expires: now.Add(ttl)}
	return nil
}

// LocalLocker serializes callers per key inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process keyed lock
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is held by the caller or ctx ends.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, kl, true) })
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// LocalRateLimiter is an in-process fixed-window counter.
type LocalRateLimiter struct {
	mu      sync.Mutex
	limit   int64
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int64
}

// NewLocalRateLimiter allows limit requests per key per window
func NewLocalRateLimiter(limit int64, w time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{limit: limit, window: w, windows: make(map[string]*window), now: time.Now}
}

// Allow counts a request for key and reports whether it is within the limit
func (l *LocalRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.limit, nil
}
