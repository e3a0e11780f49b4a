package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/session"
	"github.com/sumire/career/internal/view"
)

// Directory looks up member directory entries.
type Directory interface {
	Member(ctx context.Context, uid string) (*domain.Profile, error)
}

// Flows runs interactive sign-in flows.
type Flows interface {
	Kinds() []domain.ProviderKind
	Begin(sessionID string, kind domain.ProviderKind) (string, error)
	Complete(sessionID string, kind domain.ProviderKind, query url.Values) error
}

// PageHandler serves the HTML pages and their form posts.
type PageHandler struct {
	flows     Flows
	directory Directory
}

// NewPageHandler creates a new PageHandler. directory may be nil.
func NewPageHandler(flows Flows, directory Directory) *PageHandler {
	return &PageHandler{flows: flows, directory: directory}
}

type registerForm struct {
	Name     string `form:"name" validate:"required,max=100"`
	PhotoURL string `form:"photo" validate:"omitempty,url"`
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"password_policy"`
}

type loginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

type profileForm struct {
	Name     string `form:"name" validate:"max=100"`
	PhotoURL string `form:"photo" validate:"omitempty,url"`
}

// Home renders the landing page.
func (h *PageHandler) Home(c echo.Context) error {
	return h.render(c, http.StatusOK, view.PageHome, view.Page{Title: "Home"})
}

// RegisterForm renders the registration page.
func (h *PageHandler) RegisterForm(c echo.Context) error {
	return h.render(c, http.StatusOK, view.PageRegister, view.Page{Title: "Register", Verb: "Register"})
}

// Register creates an account from the registration form.
func (h *PageHandler) Register(c echo.Context) error {
	mgr, err := GetManager(c)
	if err != nil {
		return err
	}

	var form registerForm
	if err := c.Bind(&form); err != nil {
		return domain.ErrInvalidInput
	}
	page := view.Page{
		Title: "Register",
		Verb:  "Register",
		Form:  view.Form{Name: form.Name, Email: form.Email, PhotoURL: form.PhotoURL},
	}

	if err := c.Validate(&form); err != nil {
		return h.formError(c, view.PageRegister, page, err)
	}

	res, err := mgr.Register(c.Request().Context(), session.Registration{
		DisplayName: form.Name,
		Email:       form.Email,
		PhotoURL:    form.PhotoURL,
		Password:    form.Password,
	})
	if err != nil {
		if domain.Classify(err) == domain.KindProvider {
			page.Toasts = append(page.Toasts, toastWarning("Something Went Wrong. "+domain.ProviderCode(err)))
			return h.render(c, http.StatusUnprocessableEntity, view.PageRegister, page)
		}
		return h.formError(c, view.PageRegister, page, err)
	}

	if res.ProfileErr != nil {
		page.Toasts = append(page.Toasts,
			toastSuccess("Sign Up success"),
			toastWarning(domain.ProviderCode(res.ProfileErr)))
		return h.render(c, http.StatusOK, view.PageRegister, page)
	}

	addFlash(c, toastSuccess("Sign Up success"))
	return c.Redirect(http.StatusSeeOther, "/")
}

// LoginForm renders the login page.
func (h *PageHandler) LoginForm(c echo.Context) error {
	return h.render(c, http.StatusOK, view.PageLogin, view.Page{Title: "Login", Verb: "Login"})
}

// Login signs in with the login form's credentials.
func (h *PageHandler) Login(c echo.Context) error {
	mgr, err := GetManager(c)
	if err != nil {
		return err
	}

	var form loginForm
	if err := c.Bind(&form); err != nil {
		return domain.ErrInvalidInput
	}
	page := view.Page{Title: "Login", Verb: "Login", Form: view.Form{Email: form.Email}}

	if err := c.Validate(&form); err != nil {
		return h.formError(c, view.PageLogin, page, err)
	}

	if _, err := mgr.Login(c.Request().Context(), form.Email, form.Password); err != nil {
		if domain.Classify(err) == domain.KindProvider {
			page.Toasts = append(page.Toasts, toastWarning("Something Went Wrong. "+domain.ProviderCode(err)))
			return h.render(c, http.StatusUnprocessableEntity, view.PageLogin, page)
		}
		return h.formError(c, view.PageLogin, page, err)
	}

	addFlash(c, toastSuccess("Login success"))
	return c.Redirect(http.StatusSeeOther, "/")
}

// Logout ends the session.
func (h *PageHandler) Logout(c echo.Context) error {
	mgr, err := GetManager(c)
	if err != nil {
		return err
	}

	if err := mgr.LogOut(c.Request().Context()); err != nil {
		if domain.Classify(err) != domain.KindProvider {
			return err
		}
		addFlash(c, toastWarning(domain.ProviderCode(err)))
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// Profile renders the signed-in user's profile page.
func (h *PageHandler) Profile(c echo.Context) error {
	user, ok := GetUser(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	page := view.Page{
		Title: "My Profile",
		Form:  view.Form{Name: user.DisplayName, PhotoURL: user.PhotoURL},
	}
	page.Member = h.member(c.Request().Context(), user.UID)
	return h.render(c, http.StatusOK, view.PageProfile, page)
}

// UpdateProfile applies the profile form to the signed-in user.
func (h *PageHandler) UpdateProfile(c echo.Context) error {
	mgr, err := GetManager(c)
	if err != nil {
		return err
	}

	var form profileForm
	if err := c.Bind(&form); err != nil {
		return domain.ErrInvalidInput
	}
	page := view.Page{Title: "My Profile", Form: view.Form{Name: form.Name, PhotoURL: form.PhotoURL}}

	if err := c.Validate(&form); err != nil {
		return h.formError(c, view.PageProfile, page, err)
	}

	update := domain.ProfileUpdate{DisplayName: &form.Name, PhotoURL: &form.PhotoURL}
	if _, err := mgr.UpdateProfile(c.Request().Context(), update); err != nil {
		if domain.Classify(err) == domain.KindProvider {
			page.Toasts = append(page.Toasts, toastWarning(domain.ProviderCode(err)))
			return h.render(c, http.StatusUnprocessableEntity, view.PageProfile, page)
		}
		return h.formError(c, view.PageProfile, page, err)
	}

	addFlash(c, toastSuccess("Profile updated"))
	return c.Redirect(http.StatusSeeOther, "/profile")
}

// formError re-renders a form page with a validation toast. Errors of any
// other kind go to the error handler.
func (h *PageHandler) formError(c echo.Context, name string, page view.Page, err error) error {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	page.Toasts = append(page.Toasts, toastError(ve.Message))
	return h.render(c, http.StatusUnprocessableEntity, name, page)
}

func (h *PageHandler) render(c echo.Context, status int, name string, page view.Page) error {
	page.Toasts = append(takeFlash(c), page.Toasts...)
	if mgr, err := GetManager(c); err == nil {
		page.Nav = view.NavFor(mgr.Current())
	}
	if page.Verb != "" {
		page.Providers = h.providerLinks()
	}
	return c.Render(status, name, page)
}

func (h *PageHandler) providerLinks() []view.ProviderLink {
	if h.flows == nil {
		return nil
	}
	var links []view.ProviderLink
	for _, k := range h.flows.Kinds() {
		links = append(links, view.ProviderLink{Kind: string(k), Label: providerLabel(k)})
	}
	return links
}

func (h *PageHandler) member(ctx context.Context, uid string) *domain.Profile {
	if h.directory == nil {
		return nil
	}
	p, err := h.directory.Member(ctx, uid)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("directory lookup failed", "uid", uid, "error", err)
		}
		return nil
	}
	return p
}

func providerLabel(k domain.ProviderKind) string {
	switch k {
	case domain.ProviderGoogle:
		return "Google"
	case domain.ProviderGitHub:
		return "GitHub"
	default:
		return string(k)
	}
}
