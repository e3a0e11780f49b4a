package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/identity"
)

// DefaultFlowTTL bounds how long a consent screen may stay open.
const DefaultFlowTTL = 10 * time.Minute

type flow struct {
	sessionID string
	kind      domain.ProviderKind
	verifier  string
	createdAt time.Time

	completed   bool
	code        string
	callbackErr string
	errorDesc   string
}

// Broker tracks pending consent flows per browser session. Begin starts a
// flow, Complete records the provider's callback, and the session's Prompter
// consumes the completed flow.
type Broker struct {
	connectors map[domain.ProviderKind]Connector
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	flows map[string]*flow
}

// NewBroker creates a Broker serving the given connectors. A zero ttl uses
// DefaultFlowTTL.
func NewBroker(ttl time.Duration, connectors ...Connector) *Broker {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	m := make(map[domain.ProviderKind]Connector, len(connectors))
	for _, c := range connectors {
		m[c.Kind()] = c
	}
	return &Broker{
		connectors: m,
		ttl:        ttl,
		now:        time.Now,
		flows:      make(map[string]*flow),
	}
}

// Kinds returns the configured provider kinds in a stable order.
func (b *Broker) Kinds() []domain.ProviderKind {
	kinds := make([]domain.ProviderKind, 0, len(b.connectors))
	for k := range b.connectors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Supports reports whether kind has a connector.
func (b *Broker) Supports(kind domain.ProviderKind) bool {
	_, ok := b.connectors[kind]
	return ok
}

// Begin opens a consent flow for sessionID and returns the URL to send the
// browser to. Starting a flow replaces any pending flow of the same kind for
// that session.
func (b *Broker) Begin(sessionID string, kind domain.ProviderKind) (string, error) {
	conn, ok := b.connectors[kind]
	if !ok {
		return "", fmt.Errorf("%w: unsupported provider %q", domain.ErrInvalidInput, kind)
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	b.mu.Lock()
	for s, f := range b.flows {
		if f.sessionID == sessionID && f.kind == kind {
			delete(b.flows, s)
		}
	}
	b.flows[state] = &flow{
		sessionID: sessionID,
		kind:      kind,
		verifier:  verifier,
		createdAt: b.now(),
	}
	b.mu.Unlock()

	return conn.AuthCodeURL(state, oauth2.S256ChallengeFromVerifier(verifier)), nil
}

// Complete records the authorization server's callback for sessionID.
// The state must belong to a live flow of the same session and kind.
func (b *Broker) Complete(sessionID string, kind domain.ProviderKind, query url.Values) error {
	state := query.Get("state")
	if state == "" {
		return fmt.Errorf("%w: missing state parameter", domain.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.flows[state]
	if !ok || f.sessionID != sessionID || f.kind != kind {
		return fmt.Errorf("%w: state mismatch", domain.ErrInvalidInput)
	}
	if b.expired(f) {
		delete(b.flows, state)
		return fmt.Errorf("%w: sign-in flow expired", domain.ErrUserCancelled)
	}

	f.completed = true
	if e := query.Get("error"); e != "" {
		f.callbackErr = e
		f.errorDesc = query.Get("error_description")
		return nil
	}
	f.code = query.Get("code")
	if f.code == "" {
		f.callbackErr = "missing_code"
	}
	return nil
}

// Prompter returns the identity.Prompter for one browser session.
func (b *Broker) Prompter(sessionID string) identity.Prompter {
	return prompter{broker: b, sessionID: sessionID}
}

// Sweep drops expired flows and returns how many were dropped.
func (b *Broker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for s, f := range b.flows {
		if b.expired(f) {
			delete(b.flows, s)
			n++
		}
	}
	return n
}

// Run sweeps expired flows every interval until ctx is done.
func (b *Broker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				slog.Info("expired sign-in flows dropped", "count", n)
			}
		}
	}
}

func (b *Broker) expired(f *flow) bool {
	return b.now().Sub(f.createdAt) > b.ttl
}

// take removes and returns the completed flow of sessionID for kind.
func (b *Broker) take(sessionID string, kind domain.ProviderKind) (*flow, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s, f := range b.flows {
		if f.sessionID == sessionID && f.kind == kind && f.completed {
			delete(b.flows, s)
			if b.expired(f) {
				return nil, false
			}
			return f, true
		}
	}
	return nil, false
}

type prompter struct {
	broker    *Broker
	sessionID string
}

// Prompt consumes the session's completed consent flow. A denied consent
// screen, or no completed flow at all, is a cancellation.
func (p prompter) Prompt(ctx context.Context, kind domain.ProviderKind) (identity.Credential, error) {
	f, ok := p.broker.take(p.sessionID, kind)
	if !ok {
		return identity.Credential{}, cancelled("no completed sign-in flow")
	}

	switch f.callbackErr {
	case "":
	case "access_denied":
		return identity.Credential{}, cancelled(f.errorDesc)
	default:
		return identity.Credential{}, &domain.ProviderError{
			Code:    domain.CodeInvalidCredential,
			Message: f.callbackErr + ": " + f.errorDesc,
		}
	}

	conn, ok := p.broker.connectors[kind]
	if !ok {
		return identity.Credential{}, fmt.Errorf("%w: unsupported provider %q", domain.ErrInvalidInput, kind)
	}
	return conn.Exchange(ctx, f.code, f.verifier)
}

func cancelled(reason string) error {
	return &domain.ProviderError{Code: domain.CodePopupClosed, Message: reason, Err: domain.ErrUserCancelled}
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
