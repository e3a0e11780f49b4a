// Package session owns the authentication state of one client session and
// republishes identity provider session changes to observers.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/identity"
)

var tracer = otel.Tracer("github.com/sumire/career/internal/session")

// Observer is notified of session state changes.
type Observer func(domain.SessionState)

// Registration holds the fields of the registration form.
type Registration struct {
	DisplayName string
	Email       string
	PhotoURL    string
	Password    string
}

// RegisterResult is the outcome of a successful account creation. ProfileErr
// is set when the account exists but its display fields could not be applied.
type RegisterResult struct {
	User       domain.User
	ProfileErr error
}

type subscription struct {
	id        uint64
	fn        Observer
	cancelled atomic.Bool
}

type delivery struct {
	state domain.SessionState
	subs  []*subscription
}

// Manager is the single owner of a client session's current user. UI code
// reads state through Current and Subscribe and changes it only through the
// Manager's operations.
type Manager struct {
	provider    identity.Provider
	unsubscribe func()

	mu        sync.Mutex
	state     domain.SessionState
	published domain.SessionState
	held      int
	pending   bool
	loading   bool
	ready     chan struct{}
	subs      map[uint64]*subscription
	nextID    uint64
	queue     []delivery
	closed    bool

	wake chan struct{}
	done chan struct{}
}

// NewManager creates a Manager over provider and starts its dispatch loop.
// The Manager is loading until the provider first reports the session.
func NewManager(provider identity.Provider) *Manager {
	m := &Manager{
		provider: provider,
		loading:  true,
		ready:    make(chan struct{}),
		subs:     make(map[uint64]*subscription),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go m.dispatch()
	m.unsubscribe = provider.OnSessionChange(m.handleReport)
	return m
}

// Current returns the current session state.
func (m *Manager) Current() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Loading reports whether the initial session is still being resolved.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Ready is closed once the initial session has been resolved.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Subscribe registers fn. Once the initial session is resolved fn receives the
// current state, then every change. Notifications are delivered one at a time
// on the Manager's dispatch goroutine. No notification starts after the
// returned function has been called.
func (m *Manager) Subscribe(fn Observer) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	sub := &subscription{id: m.nextID, fn: fn}
	m.subs[sub.id] = sub
	if !m.loading && !m.pending {
		m.enqueueLocked(delivery{state: m.published, subs: []*subscription{sub}})
	}
	m.mu.Unlock()

	return func() {
		sub.cancelled.Store(true)
		m.mu.Lock()
		delete(m.subs, sub.id)
		m.mu.Unlock()
	}
}

func (m *Manager) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Register creates an email/password account and applies the display fields.
// A password that fails the policy is rejected before contacting the provider.
// A failed profile update leaves the account in place and is reported in
// RegisterResult.ProfileErr. Observers see the new user once, after the
// profile step has settled.
func (m *Manager) Register(ctx context.Context, reg Registration) (RegisterResult, error) {
	ctx, span := tracer.Start(ctx, "session.Register")
	defer span.End()

	if err := domain.CheckPassword(reg.Password); err != nil {
		recordError(span, err)
		return RegisterResult{}, fmt.Errorf("register: %w", err)
	}

	m.hold()
	defer m.release()

	user, err := m.provider.CreateAccount(ctx, reg.Email, reg.Password)
	if err != nil {
		recordError(span, err)
		return RegisterResult{}, fmt.Errorf("register: %w", err)
	}
	span.SetAttributes(attribute.String("user.uid", user.UID))
	m.adopt(user)

	update := domain.ProfileUpdate{DisplayName: &reg.DisplayName, PhotoURL: &reg.PhotoURL}
	updated, err := m.UpdateProfile(ctx, update)
	if err != nil {
		slog.Warn("profile update after registration failed", "uid", user.UID, "error", err)
		span.AddEvent("profile update failed", trace.WithAttributes(attribute.String("error", err.Error())))
		return RegisterResult{User: user, ProfileErr: err}, nil
	}
	return RegisterResult{User: updated}, nil
}

// Login signs in with email and password.
func (m *Manager) Login(ctx context.Context, email, password string) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "session.Login")
	defer span.End()

	user, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		recordError(span, err)
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	span.SetAttributes(attribute.String("user.uid", user.UID))
	m.adopt(user)
	return user, nil
}

// LoginWithProvider signs in through the interactive flow of kind. A dismissed
// flow fails with an error matching domain.ErrUserCancelled.
func (m *Manager) LoginWithProvider(ctx context.Context, kind domain.ProviderKind) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "session.LoginWithProvider",
		trace.WithAttributes(attribute.String("provider", string(kind))))
	defer span.End()

	user, err := m.provider.SignInInteractive(ctx, kind)
	if err != nil {
		if domain.Classify(err) == domain.KindCancelled {
			span.AddEvent("cancelled by user")
		} else {
			recordError(span, err)
		}
		return domain.User{}, fmt.Errorf("login with %s: %w", kind, err)
	}
	span.SetAttributes(attribute.String("user.uid", user.UID))
	m.adopt(user)
	return user, nil
}

// UpdateProfile changes the signed-in user's display fields and notifies
// observers of the new state.
func (m *Manager) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "session.UpdateProfile")
	defer span.End()

	current, ok := m.Current().User()
	if !ok {
		recordError(span, domain.ErrUnauthorized)
		return domain.User{}, fmt.Errorf("update profile: %w", domain.ErrUnauthorized)
	}

	if err := m.provider.UpdateProfile(ctx, update); err != nil {
		recordError(span, err)
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.User()
	if !ok || u.UID != current.UID {
		// Signed out or replaced while the update was in flight.
		return current.Apply(update), nil
	}
	u = u.Apply(update)
	m.setLocked(domain.Present(u))
	return u, nil
}

// LogOut ends the session. On success the current state is absent.
func (m *Manager) LogOut(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session.LogOut")
	defer span.End()

	if err := m.provider.SignOut(ctx); err != nil {
		recordError(span, err)
		return fmt.Errorf("log out: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(domain.Absent())
	return nil
}

// Close detaches from the provider and stops the dispatch loop. Pending
// notifications are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.mu.Unlock()

	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	close(m.done)
	if c, ok := m.provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close identity provider", "error", err)
		}
	}
}

// handleReport receives the provider's session reports.
func (m *Manager) handleReport(state domain.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(state)
}

// adopt makes u current unless the provider has already reported it. The
// provider's own report then matches and is not republished.
func (m *Manager) adopt(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.state.User(); ok && cur.UID == u.UID && !m.loading {
		return
	}
	m.applyLocked(domain.Present(u))
}

func (m *Manager) applyLocked(state domain.SessionState) {
	if m.resolveLocked() {
		m.state = state
		if m.held > 0 {
			m.pending = true
			return
		}
		m.publishLocked()
		return
	}
	m.setLocked(state)
}

// hold defers notifications until the matching release.
func (m *Manager) hold() {
	m.mu.Lock()
	m.held++
	m.mu.Unlock()
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held--
	if m.held == 0 && !m.loading && (m.pending || !m.published.Equal(m.state)) {
		m.publishLocked()
	}
}

// resolveLocked ends the loading phase and reports whether it was still on.
func (m *Manager) resolveLocked() bool {
	if !m.loading {
		return false
	}
	m.loading = false
	close(m.ready)
	return true
}

// setLocked stores state and notifies observers if it differs from what they
// were last told.
func (m *Manager) setLocked(state domain.SessionState) {
	m.state = state
	if m.held == 0 && !m.published.Equal(state) {
		m.publishLocked()
	}
}

func (m *Manager) publishLocked() {
	m.pending = false
	m.published = m.state
	m.enqueueLocked(delivery{state: m.state, subs: m.snapshotLocked()})
}

func (m *Manager) snapshotLocked() []*subscription {
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	return subs
}

func (m *Manager) enqueueLocked(d delivery) {
	if m.closed || len(d.subs) == 0 {
		return
	}
	m.queue = append(m.queue, d)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			m.mu.Lock()
			if len(m.queue) == 0 || m.closed {
				m.mu.Unlock()
				break
			}
			d := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			for _, sub := range d.subs {
				if sub.cancelled.Load() {
					continue
				}
				sub.fn(d.state)
			}
		}
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.Classify(err).String())
}
