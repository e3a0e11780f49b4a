package domain

// SessionState is either Present with a user or Absent.
// The zero value is Absent.
type SessionState struct {
	user *User
}

// Present returns a state holding u.
func Present(u User) SessionState {
	return SessionState{user: &u}
}

// Absent returns the logged-out state.
func Absent() SessionState {
	return SessionState{}
}

// IsPresent reports whether a user is signed in.
func (s SessionState) IsPresent() bool {
	return s.user != nil
}

// User returns the signed-in user, if any.
func (s SessionState) User() (User, bool) {
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Equal reports whether s and o describe the same session. Token rotation alone
// does not make two states different.
func (s SessionState) Equal(o SessionState) bool {
	if s.user == nil || o.user == nil {
		return s.user == nil && o.user == nil
	}
	a, b := s.user, o.user
	return a.UID == b.UID &&
		a.Email == b.Email &&
		a.DisplayName == b.DisplayName &&
		a.PhotoURL == b.PhotoURL
}

func (s SessionState) String() string {
	if s.user == nil {
		return "absent"
	}
	return "present(" + s.user.UID + ")"
}
