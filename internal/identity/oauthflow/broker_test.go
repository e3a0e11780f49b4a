package oauthflow

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/identity"
)

type fakeConnector struct {
	kind      domain.ProviderKind
	exchanged []string
}

func (f *fakeConnector) Kind() domain.ProviderKind { return f.kind }

func (f *fakeConnector) AuthCodeURL(state, challenge string) string {
	return "https://idp.example/authorize?" + url.Values{
		"state":          {state},
		"code_challenge": {challenge},
	}.Encode()
}

func (f *fakeConnector) Exchange(_ context.Context, code, verifier string) (identity.Credential, error) {
	f.exchanged = append(f.exchanged, code+"/"+verifier)
	return identity.Credential{Kind: f.kind, IDToken: "id-" + code}, nil
}

func beginFlow(t *testing.T, b *Broker, sessionID string, kind domain.ProviderKind) string {
	t.Helper()
	authURL, err := b.Begin(sessionID, kind)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" || u.Query().Get("code_challenge") == "" {
		t.Fatalf("auth url lacks state or challenge: %s", authURL)
	}
	return state
}

func TestBrokerCompletedFlowYieldsCredential(t *testing.T) {
	conn := &fakeConnector{kind: domain.ProviderGoogle}
	b := NewBroker(0, conn)

	state := beginFlow(t, b, "s1", domain.ProviderGoogle)
	if err := b.Complete("s1", domain.ProviderGoogle, url.Values{"state": {state}, "code": {"abc"}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	cred, err := b.Prompter("s1").Prompt(context.Background(), domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if cred.IDToken != "id-abc" {
		t.Fatalf("IDToken = %q", cred.IDToken)
	}
	if len(conn.exchanged) != 1 {
		t.Fatalf("exchange called %d times", len(conn.exchanged))
	}

	// The flow is consumed.
	if _, err := b.Prompter("s1").Prompt(context.Background(), domain.ProviderGoogle); !errors.Is(err, domain.ErrUserCancelled) {
		t.Fatalf("second Prompt err = %v, want cancellation", err)
	}
}

func TestBrokerAccessDeniedIsCancellation(t *testing.T) {
	conn := &fakeConnector{kind: domain.ProviderGitHub}
	b := NewBroker(0, conn)

	state := beginFlow(t, b, "s1", domain.ProviderGitHub)
	err := b.Complete("s1", domain.ProviderGitHub, url.Values{
		"state":             {state},
		"error":             {"access_denied"},
		"error_description": {"The user has denied your application access."},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	_, err = b.Prompter("s1").Prompt(context.Background(), domain.ProviderGitHub)
	if !errors.Is(err, domain.ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	if domain.Classify(err) != domain.KindCancelled {
		t.Fatalf("Classify = %v", domain.Classify(err))
	}
	if domain.ProviderCode(err) != domain.CodePopupClosed {
		t.Fatalf("code = %q", domain.ProviderCode(err))
	}
	if len(conn.exchanged) != 0 {
		t.Fatal("no exchange expected after denial")
	}
}

func TestBrokerRejectsForeignState(t *testing.T) {
	b := NewBroker(0, &fakeConnector{kind: domain.ProviderGoogle})
	state := beginFlow(t, b, "s1", domain.ProviderGoogle)

	tests := []struct {
		name      string
		sessionID string
		kind      domain.ProviderKind
		query     url.Values
	}{
		{"other session", "s2", domain.ProviderGoogle, url.Values{"state": {state}, "code": {"x"}}},
		{"other kind", "s1", domain.ProviderGitHub, url.Values{"state": {state}, "code": {"x"}}},
		{"unknown state", "s1", domain.ProviderGoogle, url.Values{"state": {"nope"}, "code": {"x"}}},
		{"missing state", "s1", domain.ProviderGoogle, url.Values{"code": {"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Complete(tt.sessionID, tt.kind, tt.query)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestBrokerExpiredFlow(t *testing.T) {
	b := NewBroker(time.Minute, &fakeConnector{kind: domain.ProviderGoogle})
	now := time.Now()
	b.now = func() time.Time { return now }

	state := beginFlow(t, b, "s1", domain.ProviderGoogle)
	beginFlow(t, b, "s2", domain.ProviderGoogle)

	now = now.Add(2 * time.Minute)
	err := b.Complete("s1", domain.ProviderGoogle, url.Values{"state": {state}, "code": {"x"}})
	if !errors.Is(err, domain.ErrUserCancelled) {
		t.Fatalf("expected cancellation for expired flow, got %v", err)
	}
	if n := b.Sweep(); n != 1 {
		t.Fatalf("Sweep dropped %d flows, want 1", n)
	}
}

func TestBrokerBeginReplacesPendingFlow(t *testing.T) {
	b := NewBroker(0, &fakeConnector{kind: domain.ProviderGoogle})
	first := beginFlow(t, b, "s1", domain.ProviderGoogle)
	beginFlow(t, b, "s1", domain.ProviderGoogle)

	err := b.Complete("s1", domain.ProviderGoogle, url.Values{"state": {first}, "code": {"x"}})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("stale state should be rejected, got %v", err)
	}
}

func TestBrokerUnsupportedKind(t *testing.T) {
	b := NewBroker(0, &fakeConnector{kind: domain.ProviderGoogle})
	if _, err := b.Begin("s1", domain.ProviderGitHub); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if got := b.Kinds(); len(got) != 1 || got[0] != domain.ProviderGoogle {
		t.Fatalf("Kinds = %v", got)
	}
}
