package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sumire/career/internal/identity"
)

const (
	DefaultIdleTTL         = time.Hour
	DefaultCleanupInterval = time.Minute
)

// ProviderFactory builds the identity provider of one browser session.
type ProviderFactory func(sessionID string) identity.Provider

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTTL sets how long an unused Manager is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithCleanupInterval sets how often idle Managers are evicted by Run.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithObserver subscribes o to every Manager the Registry creates.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

type entry struct {
	mgr      *Manager
	lastUsed time.Time
	unsubs   []func()
}

// Registry holds one Manager per browser session.
type Registry struct {
	factory   ProviderFactory
	idleTTL   time.Duration
	interval  time.Duration
	observers []Observer
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(factory ProviderFactory, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		idleTTL:  DefaultIdleTTL,
		interval: DefaultCleanupInterval,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Manager returns the Manager of sessionID, creating it on first use.
func (r *Registry) Manager(sessionID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sessionID]; ok {
		e.lastUsed = r.now()
		return e.mgr
	}

	mgr := NewManager(r.factory(sessionID))
	e := &entry{mgr: mgr, lastUsed: r.now()}
	for _, o := range r.observers {
		e.unsubs = append(e.unsubs, mgr.Subscribe(o))
	}
	r.entries[sessionID] = e
	return mgr
}

// Forget closes and drops the Manager of sessionID.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if ok {
		e.close()
	}
}

// Len returns the number of live Managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes Managers unused for longer than the idle TTL. A Manager with
// subscribers of its own, such as an open event stream, is kept.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*entry
	for id, e := range r.entries {
		if e.lastUsed.After(cutoff) || e.mgr.subscriberCount() > len(e.unsubs) {
			continue
		}
		idle = append(idle, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, e := range idle {
		e.close()
	}
	return len(idle)
}

// Run evicts idle Managers until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("idle sessions evicted", "count", n)
			}
		}
	}
}

// Close closes every Manager.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
}

func (e *entry) close() {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.mgr.Close()
}
