// Package oauthflow runs interactive (consent screen) sign-ins over HTTP
// redirects and hands the resulting IdP credential to the identity provider.
package oauthflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/identity"
)

// Connector talks to one OAuth authorization server.
type Connector interface {
	Kind() domain.ProviderKind
	AuthCodeURL(state, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier string) (identity.Credential, error)
}

// GoogleConnector signs in with Google and verifies the returned ID token.
type GoogleConnector struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleConnector discovers Google's OIDC configuration.
func NewGoogleConnector(ctx context.Context, clientID, clientSecret, redirectURL string) (*GoogleConnector, error) {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("init google oidc provider: %w", err)
	}

	return &GoogleConnector{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			RedirectURL:  redirectURL,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (g *GoogleConnector) Kind() domain.ProviderKind {
	return domain.ProviderGoogle
}

func (g *GoogleConnector) AuthCodeURL(state, codeChallenge string) string {
	return g.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

func (g *GoogleConnector) Exchange(ctx context.Context, code, codeVerifier string) (identity.Credential, error) {
	token, err := g.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return identity.Credential{}, exchangeError("google", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return identity.Credential{}, &domain.ProviderError{Code: domain.CodeInvalidCredential, Message: "google did not return id_token"}
	}
	if _, err := g.verifier.Verify(ctx, rawIDToken); err != nil {
		return identity.Credential{}, &domain.ProviderError{Code: domain.CodeInvalidCredential, Message: "google id_token verification failed", Err: err}
	}

	return identity.Credential{
		Kind:        domain.ProviderGoogle,
		IDToken:     rawIDToken,
		AccessToken: token.AccessToken,
	}, nil
}

// GitHubConnector signs in with GitHub. GitHub issues no ID token, so the
// credential is the access token.
type GitHubConnector struct {
	oauth *oauth2.Config
}

// NewGitHubConnector creates a GitHub connector.
func NewGitHubConnector(clientID, clientSecret, redirectURL string) (*GitHubConnector, error) {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("github oauth config missing required fields")
	}
	return &GitHubConnector{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"user:email"},
			RedirectURL:  redirectURL,
		},
	}, nil
}

func (g *GitHubConnector) Kind() domain.ProviderKind {
	return domain.ProviderGitHub
}

func (g *GitHubConnector) AuthCodeURL(state, codeChallenge string) string {
	return g.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (g *GitHubConnector) Exchange(ctx context.Context, code, codeVerifier string) (identity.Credential, error) {
	token, err := g.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return identity.Credential{}, exchangeError("github", err)
	}
	return identity.Credential{
		Kind:        domain.ProviderGitHub,
		AccessToken: token.AccessToken,
	}, nil
}

func exchangeError(name string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &domain.ProviderError{Code: domain.CodeInvalidCredential, Message: name + " token exchange: " + re.ErrorCode, Err: err}
	}
	return &domain.ProviderError{Code: domain.CodeNetworkFailed, Message: name + " token exchange", Err: err}
}
