// Package cache provides session verification caches keyed by token
// fingerprint, with a reverse index by external subject so that user
// writes can invalidate every cached session belonging to that subject.
//
// Two backends implement [auth.VerificationCache]: [Memory] for
// single-instance deployments and tests, and [Redis] for deployments
// where several gateway replicas must share session state.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/VetGrid/vetgrid-identity-core/pkg/auth"
	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// MemoryConfig holds the configuration for [Memory].
type MemoryConfig struct {
	// MaxEntries bounds the number of cached verifications. When the
	// cache is full, expired entries are evicted first; if still at
	// capacity, the entry closest to expiry is removed. Defaults to
	// 10000.
	MaxEntries int `json:"max_entries" env:"CACHE_MAX_ENTRIES" envDefault:"10000"`
}

// Validate checks the configuration for logical correctness and returns
// a *[vgerr.Error] with code [vgerr.CodeValidation] if any field is invalid.
func (c *MemoryConfig) Validate() *vgerr.Error {
	if c.MaxEntries <= 0 {
		return vgerr.New(vgerr.CodeValidation, "cache: max entries must be positive")
	}
	return nil
}

// DefaultMemoryConfig returns a MemoryConfig with sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{MaxEntries: 10000}
}

// memoryEntry stores a cached verification and its expiration time.
type memoryEntry struct {
	value     *auth.CachedVerification
	expiresAt time.Time
}

// Memory is an in-process [auth.VerificationCache]. Entries expire
// passively on read and can be reaped in bulk with [Memory.Sweep],
// typically from a background worker.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	bySubject  map[string]map[string]struct{}
	maxEntries int
}

var _ auth.VerificationCache = (*Memory)(nil)

// NewMemory creates a Memory cache for the given configuration.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMemoryConfig().MaxEntries
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Memory{
		entries:    make(map[string]*memoryEntry),
		bySubject:  make(map[string]map[string]struct{}),
		maxEntries: cfg.MaxEntries,
	}, nil
}

// Get implements [auth.VerificationCache]. Expired entries are treated
// as misses; their removal is deferred to the next write or sweep so
// reads stay on the read lock.
func (m *Memory) Get(_ context.Context, fingerprint string) (*auth.CachedVerification, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Put implements [auth.VerificationCache]. A non-positive ttl stores
// nothing. When the cache is at capacity, expired entries are evicted
// first; if still full, the entry closest to expiry makes room.
func (m *Memory) Put(_ context.Context, fingerprint string, v *auth.CachedVerification, ttl time.Duration) error {
	if v == nil {
		return vgerr.New(vgerr.CodeValidation, "cache: verification must not be nil")
	}
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Replacing an entry must also replace its index membership.
	m.removeLocked(fingerprint)

	if len(m.entries) >= m.maxEntries {
		m.sweepLocked(time.Now())
	}
	if len(m.entries) >= m.maxEntries {
		var soonestKey string
		var soonest time.Time
		first := true
		for k, e := range m.entries {
			if first || e.expiresAt.Before(soonest) {
				soonestKey = k
				soonest = e.expiresAt
				first = false
			}
		}
		if soonestKey != "" {
			m.removeLocked(soonestKey)
		}
	}

	m.entries[fingerprint] = &memoryEntry{
		value:     v,
		expiresAt: time.Now().Add(ttl),
	}
	if subject := v.User.ExternalID; subject != "" {
		set, ok := m.bySubject[subject]
		if !ok {
			set = make(map[string]struct{})
			m.bySubject[subject] = set
		}
		set[fingerprint] = struct{}{}
	}
	return nil
}

// InvalidateUser implements [auth.VerificationCache]. All entries
// indexed under the subject are dropped; unknown subjects are a no-op.
func (m *Memory) InvalidateUser(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for fingerprint := range m.bySubject[subject] {
		delete(m.entries, fingerprint)
	}
	delete(m.bySubject, subject)
	return nil
}

// Sweep removes all expired entries and returns how many were removed.
// A background worker calls this periodically so the cache does not
// accumulate entries for tokens that are never presented again.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(time.Now())
}

// Len returns the number of live plus not-yet-swept entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// sweepLocked removes expired entries. Caller must hold the write lock.
func (m *Memory) sweepLocked(now time.Time) int {
	removed := 0
	for fingerprint, entry := range m.entries {
		if now.After(entry.expiresAt) {
			m.removeLocked(fingerprint)
			removed++
		}
	}
	return removed
}

// removeLocked deletes an entry and its index membership. Caller must
// hold the write lock.
func (m *Memory) removeLocked(fingerprint string) {
	entry, ok := m.entries[fingerprint]
	if !ok {
		return
	}
	delete(m.entries, fingerprint)

	subject := entry.value.User.ExternalID
	if set, ok := m.bySubject[subject]; ok {
		delete(set, fingerprint)
		if len(set) == 0 {
			delete(m.bySubject, subject)
		}
	}
}
