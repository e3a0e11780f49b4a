package toolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/identity"
)

// authResponse is the union of the fields returned by the accounts:* methods.
type authResponse struct {
	LocalID        string `json:"localId"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	PhotoURL       string `json:"photoUrl"`
	ProfilePicture string `json:"profilePicture"`
	IDToken        string `json:"idToken"`
	RefreshToken   string `json:"refreshToken"`
	ExpiresIn      string `json:"expiresIn"`
	ErrorMessage   string `json:"errorMessage"`
}

type tokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

var idpProviderIDs = map[domain.ProviderKind]string{
	domain.ProviderGoogle: "google.com",
	domain.ProviderGitHub: "github.com",
}

func idpPostBody(providerID string, cred identity.Credential) string {
	v := url.Values{}
	v.Set("providerId", providerID)
	if cred.IDToken != "" {
		v.Set("id_token", cred.IDToken)
	}
	if cred.AccessToken != "" {
		v.Set("access_token", cred.AccessToken)
	}
	return v.Encode()
}

// call POSTs a JSON body to an accounts:* method and decodes the reply into out.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	endpoint := c.cfg.BaseURL + "/" + method + "?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// refresh exchanges the record's refresh token for a new ID token.
func (c *Client) refresh(ctx context.Context, rec identity.SessionRecord) (identity.SessionRecord, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", rec.RefreshToken)

	endpoint := c.cfg.TokenURL + "?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return identity.SessionRecord{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp tokenResponse
	if err := c.do(req, &resp); err != nil {
		return identity.SessionRecord{}, err
	}
	if resp.IDToken == "" {
		return identity.SessionRecord{}, &domain.ProviderError{Code: domain.CodeInternal, Message: "token response carries no id_token"}
	}

	rec.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		rec.RefreshToken = resp.RefreshToken
	}
	rec.ExpiresAt = c.expiry(resp.ExpiresIn, resp.IDToken)
	return rec, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Code: domain.CodeNetworkFailed, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.ProviderError{Code: domain.CodeNetworkFailed, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

// record builds the session from a sign-in reply. Fields the reply omits are
// taken from the ID token's claims.
func (c *Client) record(resp authResponse, kind domain.ProviderKind) (identity.SessionRecord, error) {
	if resp.IDToken == "" {
		return identity.SessionRecord{}, &domain.ProviderError{Code: domain.CodeInternal, Message: "sign-in response carries no idToken"}
	}
	claims := tokenClaims(resp.IDToken)

	rec := identity.SessionRecord{
		UID:          firstNonEmpty(resp.LocalID, claimString(claims, "user_id"), claimString(claims, "sub")),
		Email:        firstNonEmpty(resp.Email, claimString(claims, "email")),
		DisplayName:  firstNonEmpty(resp.DisplayName, claimString(claims, "name")),
		PhotoURL:     firstNonEmpty(resp.PhotoURL, resp.ProfilePicture, claimString(claims, "picture")),
		Provider:     kind,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.expiry(resp.ExpiresIn, resp.IDToken),
	}
	if rec.UID == "" {
		return identity.SessionRecord{}, &domain.ProviderError{Code: domain.CodeInternal, Message: "sign-in response carries no user id"}
	}
	return rec, nil
}

// expiry prefers the reply's expiresIn (seconds), then the token's exp claim.
func (c *Client) expiry(expiresIn, idToken string) time.Time {
	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return c.now().Add(time.Duration(secs) * time.Second)
	}
	if exp, err := tokenClaims(idToken).GetExpirationTime(); err == nil && exp != nil {
		return exp.Time
	}
	return c.now().Add(time.Hour)
}

// tokenClaims reads the ID token's claims without verifying the signature.
// Only display fields are taken from it.
func tokenClaims(raw string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if raw == "" {
		return claims
	}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return jwt.MapClaims{}
	}
	return claims
}

func claimString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
