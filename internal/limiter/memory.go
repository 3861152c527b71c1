package limiter

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*Memory)(nil)

type counter struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is an in-process Limiter with the same sliding window and lockout
// rules as PG.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*counter
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
	swept    time.Time
}

func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		entries:  map[string]*counter{},
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func key(subject string, ipHash []byte) string { return subject + "\x00" + string(ipHash) }

func (m *Memory) Allow(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.entries[key(subject, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); c.blockedUntil.After(now) {
		return false, c.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, subject string, ipHash []byte) error {
	m.mu.Lock()
	delete(m.entries, key(subject, ipHash))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Failure(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.swept) > m.window {
		m.sweepLocked(now)
	}
	k := key(subject, ipHash)
	c, ok := m.entries[k]
	if !ok || now.Sub(c.updatedAt) > m.window {
		c = &counter{}
		m.entries[k] = c
	}
	c.fails++
	c.updatedAt = now
	if c.fails >= m.maxFails {
		c.blockedUntil = now.Add(m.blockFor)
		return true, m.blockFor, nil
	}
	return false, 0, nil
}

// sweepLocked drops counters whose window and block have both lapsed.
func (m *Memory) sweepLocked(now time.Time) {
	for k, c := range m.entries {
		if now.Sub(c.updatedAt) > m.window && !c.blockedUntil.After(now) {
			delete(m.entries, k)
		}
	}
	m.swept = now
}

// Len returns the number of tracked (subject, ip) pairs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
