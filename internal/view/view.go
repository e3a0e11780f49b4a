// Package view renders the server-side HTML pages.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/sumire/career/internal/domain"
)

//go:embed templates/*.html
var templatesFS embed.FS

// DefaultAvatarURL is shown for users without a photo.
const DefaultAvatarURL = "https://img.daisyui.com/images/stock/photo-1534528741775-53994a69daeb.webp"

// Page names.
const (
	PageHome     = "home"
	PageRegister = "register"
	PageLogin    = "login"
	PageProfile  = "profile"
)

// Toast levels.
const (
	ToastSuccess = "success"
	ToastError   = "error"
	ToastWarning = "warning"
	ToastInfo    = "info"
)

// Toast is a one-shot notice shown at the top of a page.
type Toast struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Nav is the navbar's view of the session.
type Nav struct {
	Present     bool
	DisplayName string
	Email       string
	PhotoURL    string
}

// AvatarURL returns the user's photo or the default avatar.
func (n Nav) AvatarURL() string {
	if n.PhotoURL != "" {
		return n.PhotoURL
	}
	return DefaultAvatarURL
}

// NavFor builds the navbar for state.
func NavFor(state domain.SessionState) Nav {
	u, ok := state.User()
	if !ok {
		return Nav{}
	}
	return Nav{
		Present:     true,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		PhotoURL:    u.PhotoURL,
	}
}

// Form carries submitted values back into a re-rendered form.
type Form struct {
	Name     string
	Email    string
	PhotoURL string
}

// ProviderLink is an interactive sign-in button.
type ProviderLink struct {
	Kind  string
	Label string
}

// Page is the data every template receives.
type Page struct {
	Title     string
	Nav       Nav
	Toasts    []Toast
	Verb      string
	Providers []ProviderLink
	Form      Form
	Member    *domain.Profile
}

// Renderer renders pages for echo.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	base, err := template.ParseFS(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages := make(map[string]*template.Template)
	for _, name := range []string{PageHome, PageRegister, PageLogin, PageProfile} {
		t, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", name, err)
		}
		if _, err := t.ParseFS(templatesFS, "templates/"+name+".html"); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render implements echo.Renderer.
func (r *Renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return t.ExecuteTemplate(w, "layout", data)
}
