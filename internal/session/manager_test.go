package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/identity"
)

// fakeProvider behaves like the toolkit client: sign-ins report the new user
// synchronously, profile updates do not report.
type fakeProvider struct {
	mu        sync.Mutex
	listeners map[int]identity.Listener
	nextID    int
	resolved  bool
	state     domain.SessionState

	calls        map[string]int
	createErr    error
	signInErr    error
	interactErr  error
	updateErr    error
	signOutErr   error
	lastUpdate   domain.ProfileUpdate
	interactUser domain.User
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		listeners: make(map[int]identity.Listener),
		calls:     make(map[string]int),
	}
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// resolve reports state as the restored session.
func (f *fakeProvider) resolve(state domain.SessionState) {
	f.mu.Lock()
	f.resolved = true
	f.state = state
	ls := f.snapshot()
	f.mu.Unlock()
	for _, l := range ls {
		l(state)
	}
}

func (f *fakeProvider) snapshot() []identity.Listener {
	ls := make([]identity.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	return ls
}

func (f *fakeProvider) report(u *domain.User) {
	f.mu.Lock()
	if u == nil {
		f.state = domain.Absent()
	} else {
		f.state = domain.Present(*u)
	}
	f.resolved = true
	state := f.state
	ls := f.snapshot()
	f.mu.Unlock()
	for _, l := range ls {
		l(state)
	}
}

func (f *fakeProvider) CreateAccount(_ context.Context, email, password string) (domain.User, error) {
	f.mu.Lock()
	f.calls["CreateAccount"]++
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{UID: "uid-" + email, Email: email, Provider: domain.ProviderPassword, IDToken: "tok"}
	f.report(&u)
	return u, nil
}

func (f *fakeProvider) SignIn(_ context.Context, email, password string) (domain.User, error) {
	f.mu.Lock()
	f.calls["SignIn"]++
	err := f.signInErr
	f.mu.Unlock()
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{UID: "uid-" + email, Email: email, Provider: domain.ProviderPassword, IDToken: "tok"}
	f.report(&u)
	return u, nil
}

func (f *fakeProvider) SignInInteractive(_ context.Context, kind domain.ProviderKind) (domain.User, error) {
	f.mu.Lock()
	f.calls["SignInInteractive"]++
	err := f.interactErr
	u := f.interactUser
	f.mu.Unlock()
	if err != nil {
		return domain.User{}, err
	}
	u.Provider = kind
	f.report(&u)
	return u, nil
}

func (f *fakeProvider) UpdateProfile(_ context.Context, update domain.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateProfile"]++
	if f.updateErr != nil {
		return f.updateErr
	}
	f.lastUpdate = update
	if u, ok := f.state.User(); ok {
		f.state = domain.Present(u.Apply(update))
	}
	return nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	f.calls["SignOut"]++
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.report(nil)
	return nil
}

func (f *fakeProvider) OnSessionChange(l identity.Listener) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = l
	resolved, state := f.resolved, f.state
	f.mu.Unlock()
	if resolved {
		l(state)
	}
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

type recorder struct {
	mu     sync.Mutex
	states []domain.SessionState
	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 64)}
}

func (r *recorder) observe(s domain.SessionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) all() []domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SessionState(nil), r.states...)
}

// waitFor blocks until n notifications arrived, then checks that no more follow.
func (r *recorder) waitFor(t *testing.T, n int) []domain.SessionState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(r.all()) < n {
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("got %d notifications, want %d", len(r.all()), n)
		}
	}
	time.Sleep(50 * time.Millisecond)
	got := r.all()
	if len(got) != n {
		t.Fatalf("got %d notifications, want exactly %d: %v", len(got), n, got)
	}
	return got
}

func newResolvedManager(t *testing.T, initial domain.SessionState) (*Manager, *fakeProvider, *recorder) {
	t.Helper()
	p := newFakeProvider()
	p.resolve(initial)
	m := NewManager(p)
	t.Cleanup(m.Close)

	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("manager did not resolve")
	}

	rec := newRecorder()
	unsubscribe := m.Subscribe(rec.observe)
	t.Cleanup(unsubscribe)
	rec.waitFor(t, 1)
	rec.mu.Lock()
	rec.states = nil
	rec.mu.Unlock()
	return m, p, rec
}

func TestManagerLoadingUntilFirstReport(t *testing.T) {
	p := newFakeProvider()
	m := NewManager(p)
	t.Cleanup(m.Close)

	if !m.Loading() {
		t.Fatal("expected loading before the provider reports")
	}
	rec := newRecorder()
	m.Subscribe(rec.observe)

	p.resolve(domain.Absent())
	<-m.Ready()
	if m.Loading() {
		t.Fatal("expected loading to end")
	}
	got := rec.waitFor(t, 1)
	if got[0].IsPresent() {
		t.Fatalf("initial state = %v, want absent", got[0])
	}
}

func TestManagerSubscribeUnsubscribeWhileLoading(t *testing.T) {
	p := newFakeProvider()
	m := NewManager(p)
	t.Cleanup(m.Close)

	rec := newRecorder()
	unsubscribe := m.Subscribe(rec.observe)
	unsubscribe()

	p.resolve(domain.Present(domain.User{UID: "u1"}))
	<-m.Ready()
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.all()); n != 0 {
		t.Fatalf("got %d notifications after unsubscribe, want 0", n)
	}
}

func TestManagerRegisterAppliesDisplayName(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Absent())

	res, err := m.Register(context.Background(), Registration{
		DisplayName: "Ana",
		Email:       "ana@x.io",
		PhotoURL:    "https://img.example/ana.png",
		Password:    "Abcdef1",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.ProfileErr != nil {
		t.Fatalf("ProfileErr = %v", res.ProfileErr)
	}
	if res.User.DisplayName != "Ana" || res.User.Email != "ana@x.io" {
		t.Fatalf("user = %+v", res.User)
	}

	got := rec.waitFor(t, 1)
	u, ok := got[0].User()
	if !ok || u.DisplayName != "Ana" || u.PhotoURL != "https://img.example/ana.png" {
		t.Fatalf("notified state = %+v", u)
	}
	if cur, _ := m.Current().User(); cur.DisplayName != "Ana" {
		t.Fatalf("current display name = %q", cur.DisplayName)
	}
	if p.count("CreateAccount") != 1 || p.count("UpdateProfile") != 1 {
		t.Fatalf("calls = %v", p.calls)
	}
}

func TestManagerRegisterRejectsWeakPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"no capital", "abcdef1"},
		{"too short", "Abc1"},
		{"no lowercase", "ABCDEF1"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, p, rec := newResolvedManager(t, domain.Absent())

			_, err := m.Register(context.Background(), Registration{
				DisplayName: "Bo",
				Email:       "bo@x.io",
				Password:    tt.password,
			})
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Message != domain.PasswordPolicyMessage {
				t.Fatalf("message = %q", verr.Message)
			}
			if n := p.totalCalls(); n != 0 {
				t.Fatalf("provider called %d times", n)
			}
			rec.waitFor(t, 0)
			if m.Current().IsPresent() {
				t.Fatal("state changed on rejected registration")
			}
		})
	}
}

func TestManagerRegisterProfileFailureKeepsAccount(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Absent())
	p.updateErr = &domain.ProviderError{Code: domain.CodeNetworkFailed}

	res, err := m.Register(context.Background(), Registration{
		DisplayName: "Ana",
		Email:       "ana@x.io",
		Password:    "Abcdef1",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if domain.ProviderCode(res.ProfileErr) != domain.CodeNetworkFailed {
		t.Fatalf("ProfileErr = %v", res.ProfileErr)
	}
	if res.User.UID == "" {
		t.Fatal("account should exist")
	}

	got := rec.waitFor(t, 1)
	u, ok := got[0].User()
	if !ok || u.DisplayName != "" {
		t.Fatalf("notified = %v", got[0])
	}
}

func TestManagerRegisterProviderFailure(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Absent())
	p.createErr = &domain.ProviderError{Code: domain.CodeEmailInUse}

	_, err := m.Register(context.Background(), Registration{Email: "ana@x.io", Password: "Abcdef1"})
	if domain.ProviderCode(err) != domain.CodeEmailInUse {
		t.Fatalf("err = %v", err)
	}
	rec.waitFor(t, 0)
	if m.Current().IsPresent() {
		t.Fatal("expected absent")
	}
}

func TestManagerLoginNotifiesOnce(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Absent())

	u, err := m.Login(context.Background(), "ana@x.io", "Abcdef1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	got := rec.waitFor(t, 1)
	if g, _ := got[0].User(); g.UID != u.UID {
		t.Fatalf("notified %v, want %s", got[0], u.UID)
	}
	if p.count("SignIn") != 1 {
		t.Fatalf("SignIn calls = %d", p.count("SignIn"))
	}
}

func TestManagerLoginWrongPasswordKeepsState(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Absent())
	p.signInErr = &domain.ProviderError{Code: domain.CodeWrongPassword}

	_, err := m.Login(context.Background(), "ana@x.io", "Wrong1x")
	if domain.Classify(err) != domain.KindProvider || domain.ProviderCode(err) != domain.CodeWrongPassword {
		t.Fatalf("err = %v", err)
	}
	rec.waitFor(t, 0)
	if m.Current().IsPresent() {
		t.Fatal("expected absent")
	}
}

func TestManagerLoginWithProviderCancelled(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Absent())
	p.interactErr = &domain.ProviderError{Code: domain.CodePopupClosed, Err: domain.ErrUserCancelled}

	_, err := m.LoginWithProvider(context.Background(), domain.ProviderGoogle)
	if !errors.Is(err, domain.ErrUserCancelled) {
		t.Fatalf("err = %v", err)
	}
	rec.waitFor(t, 0)
	if m.Current().IsPresent() {
		t.Fatal("expected absent")
	}
}

func TestManagerLoginWithProvider(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Absent())
	p.interactUser = domain.User{UID: "g1", Email: "g@x.io", DisplayName: "Gee"}

	u, err := m.LoginWithProvider(context.Background(), domain.ProviderGitHub)
	if err != nil {
		t.Fatalf("LoginWithProvider: %v", err)
	}
	if u.Provider != domain.ProviderGitHub {
		t.Fatalf("provider = %q", u.Provider)
	}
	rec.waitFor(t, 1)
	if cur, _ := m.Current().User(); cur.UID != "g1" {
		t.Fatalf("current = %v", m.Current())
	}
}

func TestManagerLogOut(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Present(domain.User{UID: "u1", Email: "a@x.io"}))

	if err := m.LogOut(context.Background()); err != nil {
		t.Fatalf("LogOut: %v", err)
	}
	got := rec.waitFor(t, 1)
	if got[0].IsPresent() {
		t.Fatalf("notified %v, want absent", got[0])
	}
	if m.Current().IsPresent() {
		t.Fatal("current should be absent")
	}
	if p.count("SignOut") != 1 {
		t.Fatalf("SignOut calls = %d", p.count("SignOut"))
	}
}

func TestManagerLogOutFailureKeepsSession(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Present(domain.User{UID: "u1"}))
	p.signOutErr = &domain.ProviderError{Code: domain.CodeNetworkFailed}

	if err := m.LogOut(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	rec.waitFor(t, 0)
	if !m.Current().IsPresent() {
		t.Fatal("session should be kept")
	}
}

func TestManagerUpdateProfile(t *testing.T) {
	m, p, rec := newResolvedManager(t, domain.Present(domain.User{UID: "u1", DisplayName: "Old"}))

	name := "New"
	u, err := m.UpdateProfile(context.Background(), domain.ProfileUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if u.DisplayName != "New" {
		t.Fatalf("display name = %q", u.DisplayName)
	}
	got := rec.waitFor(t, 1)
	if g, _ := got[0].User(); g.DisplayName != "New" {
		t.Fatalf("notified %+v", g)
	}
	if *p.lastUpdate.DisplayName != "New" || p.lastUpdate.PhotoURL != nil {
		t.Fatalf("update sent = %+v", p.lastUpdate)
	}
}

func TestManagerUpdateProfileRequiresSession(t *testing.T) {
	m, p, _ := newResolvedManager(t, domain.Absent())

	name := "New"
	_, err := m.UpdateProfile(context.Background(), domain.ProfileUpdate{DisplayName: &name})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if p.count("UpdateProfile") != 0 {
		t.Fatal("provider should not be called")
	}
}

func TestManagerTokenRotationIsNotAChange(t *testing.T) {
	_, p, rec := newResolvedManager(t, domain.Present(domain.User{UID: "u1", IDToken: "a"}))

	p.report(&domain.User{UID: "u1", IDToken: "b"})
	rec.waitFor(t, 0)
}

func TestManagerSubscribeAfterResolution(t *testing.T) {
	m, _, _ := newResolvedManager(t, domain.Present(domain.User{UID: "u1"}))

	rec := newRecorder()
	unsubscribe := m.Subscribe(rec.observe)
	defer unsubscribe()
	got := rec.waitFor(t, 1)
	if u, _ := got[0].User(); u.UID != "u1" {
		t.Fatalf("initial delivery = %v", got[0])
	}
}

func TestManagerUnsubscribeStopsDelivery(t *testing.T) {
	m, _, rec := newResolvedManager(t, domain.Absent())

	other := newRecorder()
	unsubscribe := m.Subscribe(other.observe)
	other.waitFor(t, 1)
	unsubscribe()

	if _, err := m.Login(context.Background(), "a@x.io", "Abcdef1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	rec.waitFor(t, 1)
	if n := len(other.all()); n != 1 {
		t.Fatalf("unsubscribed observer got %d notifications, want 1", n)
	}
}
