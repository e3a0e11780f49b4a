// Package toolkit implements identity.Provider against the Identity Toolkit
// REST API (the API behind Firebase Authentication).
package toolkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/identity"
)

const (
	// DefaultBaseURL is the default for Config.BaseURL.
	DefaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

	// DefaultTokenURL is the default for Config.TokenURL.
	DefaultTokenURL = "https://securetoken.googleapis.com/v1/token"

	// DefaultRequestURI is the default for Config.RequestURI.
	DefaultRequestURI = "http://localhost"

	// DefaultRefreshMargin is the default for Config.RefreshMargin.
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultRetryInterval is the default for Config.RetryInterval.
	DefaultRetryInterval = 30 * time.Second

	// DefaultHTTPTimeout applies when Config.HTTPClient is nil.
	DefaultHTTPTimeout = 15 * time.Second
)

// Config holds Client configuration.
// Apart from APIKey, a zero value is valid; see constants for default values.
type Config struct {
	// APIKey identifies the project to the identity platform.
	APIKey string

	// BaseURL is the Identity Toolkit endpoint, without a trailing slash.
	BaseURL string

	// TokenURL is the secure token endpoint used to refresh ID tokens.
	TokenURL string

	// RequestURI is sent with IdP sign-ins as the continue URI.
	RequestURI string

	// RefreshMargin tells how long before ID-token expiry a refresh starts.
	RefreshMargin time.Duration

	// RetryInterval tells how long to wait after a refresh failed for
	// reasons other than revocation.
	RetryInterval time.Duration

	// HTTPClient performs provider calls.
	HTTPClient *http.Client
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.RequestURI == "" {
		cfg.RequestURI = DefaultRequestURI
	}
	if cfg.RefreshMargin == 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return cfg
}

type listenerEntry struct {
	id uint64
	fn identity.Listener
}

// Client is one client session with the identity platform.
// It's safe to use it concurrently from multiple goroutines.
type Client struct {
	cfg      Config
	key      string
	store    identity.SessionStore
	prompter identity.Prompter
	now      func() time.Time
	minDelay time.Duration

	// notifyMu orders state commits with their listener calls.
	notifyMu sync.Mutex

	mu        sync.Mutex
	rec       *identity.SessionRecord
	resolved  bool
	closed    bool
	listeners []listenerEntry
	nextID    uint64
	timer     *time.Timer
}

var _ identity.Provider = (*Client)(nil)

// New creates a Client whose session is persisted in store under key.
// prompter may be nil, in which case interactive sign-in is unavailable.
// This function panics if store is nil.
func New(cfg Config, key string, store identity.SessionStore, prompter identity.Prompter) *Client {
	if store == nil {
		panic("store must be provided")
	}
	return &Client{
		cfg:      cfg.withDefaults(),
		key:      key,
		store:    store,
		prompter: prompter,
		now:      time.Now,
		minDelay: time.Second,
	}
}

// Restore resolves the initial session from the store and reports it to
// listeners. A stored session that can no longer be refreshed resolves to
// absent. Restore is a no-op once the session has been resolved.
func (c *Client) Restore(ctx context.Context) {
	var restored *identity.SessionRecord

	rec, ok, err := c.store.Load(ctx, c.key)
	if err != nil {
		slog.Warn("load persisted session", "error", err)
		ok = false
	}

	if ok {
		restored = &rec
		if !c.now().Add(c.cfg.RefreshMargin).Before(rec.ExpiresAt) {
			refreshed, err := c.refresh(ctx, rec)
			switch {
			case err == nil:
				restored = &refreshed
				c.persist(ctx, refreshed)
			case sessionRevoked(err):
				slog.Info("persisted session revoked", "uid", rec.UID, "code", domain.ProviderCode(err))
				if err := c.store.Delete(ctx, c.key); err != nil {
					slog.Warn("delete revoked session", "error", err)
				}
				restored = nil
			default:
				// Keep the session; the background refresh retries.
				slog.Warn("refresh persisted session", "uid", rec.UID, "error", err)
			}
		}
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.resolved || c.closed {
		c.mu.Unlock()
		return
	}
	c.setLocked(restored)
	state, listeners := c.stateLocked(), c.snapshotLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

// CreateAccount registers an email/password account and signs it in.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (domain.User, error) {
	var resp authResponse
	err := c.call(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return domain.User{}, err
	}
	return c.signedIn(ctx, resp, domain.ProviderPassword)
}

// SignIn signs in with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	var resp authResponse
	err := c.call(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return domain.User{}, err
	}
	return c.signedIn(ctx, resp, domain.ProviderPassword)
}

// SignInInteractive runs the prompter's consent flow for kind and signs in
// with the resulting IdP credential.
func (c *Client) SignInInteractive(ctx context.Context, kind domain.ProviderKind) (domain.User, error) {
	if c.prompter == nil {
		return domain.User{}, &domain.ProviderError{Code: domain.CodeInternal, Message: "interactive sign-in is not configured"}
	}
	providerID, ok := idpProviderIDs[kind]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: unsupported provider %q", domain.ErrInvalidInput, kind)
	}

	cred, err := c.prompter.Prompt(ctx, kind)
	if err != nil {
		return domain.User{}, err
	}

	var resp authResponse
	err = c.call(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            idpPostBody(providerID, cred),
		"requestUri":          c.cfg.RequestURI,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return domain.User{}, err
	}
	if resp.ErrorMessage != "" {
		return domain.User{}, providerError(resp.ErrorMessage)
	}
	return c.signedIn(ctx, resp, kind)
}

// UpdateProfile changes the display fields of the signed-in account. It does
// not report a session change.
func (c *Client) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) error {
	c.mu.Lock()
	cur := c.rec
	c.mu.Unlock()
	if cur == nil {
		return fmt.Errorf("update profile: %w", domain.ErrUnauthorized)
	}
	if update.Empty() {
		return nil
	}

	body := map[string]any{
		"idToken":           cur.IDToken,
		"returnSecureToken": true,
	}
	var deleteAttrs []string
	if update.DisplayName != nil {
		if *update.DisplayName == "" {
			deleteAttrs = append(deleteAttrs, "DISPLAY_NAME")
		} else {
			body["displayName"] = *update.DisplayName
		}
	}
	if update.PhotoURL != nil {
		if *update.PhotoURL == "" {
			deleteAttrs = append(deleteAttrs, "PHOTO_URL")
		} else {
			body["photoUrl"] = *update.PhotoURL
		}
	}
	if len(deleteAttrs) > 0 {
		body["deleteAttribute"] = deleteAttrs
	}

	var resp authResponse
	if err := c.call(ctx, "accounts:update", body, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	if c.rec == nil || c.rec.UID != cur.UID {
		c.mu.Unlock()
		return nil
	}
	next := *c.rec
	u := next.User().Apply(update)
	next.DisplayName, next.PhotoURL = u.DisplayName, u.PhotoURL
	if resp.IDToken != "" {
		next.IDToken = resp.IDToken
		next.ExpiresAt = c.expiry(resp.ExpiresIn, resp.IDToken)
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	c.rec = &next
	c.scheduleLocked()
	c.mu.Unlock()

	c.persist(ctx, next)
	return nil
}

// SignOut ends the session: the persisted refresh token is discarded and
// listeners are told the session is absent.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("delete persisted session: %w", err)
	}
	c.commit(nil)
	return nil
}

// OnSessionChange registers l. If the session is already resolved l is
// called with the current state before OnSessionChange returns.
func (c *Client) OnSessionChange(l identity.Listener) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: l})
	resolved, state := c.resolved, c.stateLocked()
	c.mu.Unlock()

	if resolved {
		l(state)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, e := range c.listeners {
				if e.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Close stops background refresh and drops all listeners.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listeners = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return nil
}

func (c *Client) signedIn(ctx context.Context, resp authResponse, kind domain.ProviderKind) (domain.User, error) {
	rec, err := c.record(resp, kind)
	if err != nil {
		return domain.User{}, err
	}
	c.persist(ctx, rec)
	c.commit(&rec)
	return rec.User(), nil
}

func (c *Client) persist(ctx context.Context, rec identity.SessionRecord) {
	if err := c.store.Save(ctx, c.key, rec); err != nil {
		// The session still works; it just will not survive a restart.
		slog.Warn("persist session", "uid", rec.UID, "error", err)
	}
}

// commit replaces the session and reports the new state to listeners.
func (c *Client) commit(rec *identity.SessionRecord) {
	c.commitWhen(nil, rec)
}

// commitIfCurrent commits rec only while uid is still the signed-in user.
func (c *Client) commitIfCurrent(uid string, rec *identity.SessionRecord) {
	c.commitWhen(func(cur *identity.SessionRecord) bool {
		return cur != nil && cur.UID == uid
	}, rec)
}

func (c *Client) commitWhen(guard func(cur *identity.SessionRecord) bool, rec *identity.SessionRecord) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed || (guard != nil && !guard(c.rec)) {
		c.mu.Unlock()
		return
	}
	c.setLocked(rec)
	state, listeners := c.stateLocked(), c.snapshotLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (c *Client) setLocked(rec *identity.SessionRecord) {
	c.rec = rec
	c.resolved = true
	c.scheduleLocked()
}

func (c *Client) stateLocked() domain.SessionState {
	if c.rec == nil {
		return domain.Absent()
	}
	return domain.Present(c.rec.User())
}

func (c *Client) snapshotLocked() []identity.Listener {
	out := make([]identity.Listener, len(c.listeners))
	for i, e := range c.listeners {
		out[i] = e.fn
	}
	return out
}

func (c *Client) scheduleLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.rec == nil || c.closed {
		return
	}
	d := c.rec.ExpiresAt.Sub(c.now()) - c.cfg.RefreshMargin
	c.scheduleAfterLocked(d)
}

func (c *Client) scheduleAfterLocked(d time.Duration) {
	if d < c.minDelay {
		d = c.minDelay
	}
	c.timer = time.AfterFunc(d, c.backgroundRefresh)
}

func (c *Client) backgroundRefresh() {
	c.mu.Lock()
	if c.rec == nil || c.closed {
		c.mu.Unlock()
		return
	}
	cur := *c.rec
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTPClient.Timeout+time.Second)
	defer cancel()

	refreshed, err := c.refresh(ctx, cur)
	if err != nil {
		if sessionRevoked(err) {
			slog.Info("session revoked by provider", "uid", cur.UID, "code", domain.ProviderCode(err))
			if err := c.store.Delete(ctx, c.key); err != nil {
				slog.Warn("delete revoked session", "error", err)
			}
			c.commitIfCurrent(cur.UID, nil)
			return
		}

		slog.Warn("token refresh failed", "uid", cur.UID, "error", err)
		c.mu.Lock()
		if c.rec != nil && c.rec.UID == cur.UID && !c.closed {
			c.scheduleAfterLocked(c.cfg.RetryInterval)
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.rec == nil || c.rec.UID != cur.UID || c.closed {
		c.mu.Unlock()
		return
	}
	next := *c.rec
	next.IDToken, next.RefreshToken, next.ExpiresAt = refreshed.IDToken, refreshed.RefreshToken, refreshed.ExpiresAt
	c.rec = &next
	c.scheduleLocked()
	c.mu.Unlock()

	c.persist(ctx, next)
}
