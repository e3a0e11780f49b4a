package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/career/internal/domain"
)

// OAuthHandler handles the interactive sign-in redirects.
type OAuthHandler struct {
	flows Flows
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(flows Flows) *OAuthHandler {
	return &OAuthHandler{flows: flows}
}

// Start redirects the browser to the provider's consent page.
func (h *OAuthHandler) Start(c echo.Context) error {
	kind, ok := domain.ParseProviderKind(c.Param("provider"))
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrNotFound, c.Param("provider"))
	}
	sessionID, ok := GetSessionID(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	authURL, err := h.flows.Begin(sessionID, kind)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// Callback finishes the consent flow and signs the session in with the
// resulting credential.
func (h *OAuthHandler) Callback(c echo.Context) error {
	kind, ok := domain.ParseProviderKind(c.Param("provider"))
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrNotFound, c.Param("provider"))
	}
	sessionID, ok := GetSessionID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	mgr, err := GetManager(c)
	if err != nil {
		return err
	}

	if err := h.flows.Complete(sessionID, kind, c.QueryParams()); err != nil {
		slog.Warn("oauth callback rejected", "provider", kind, "error", err)
		return h.failed(c, err)
	}

	if _, err := mgr.LoginWithProvider(c.Request().Context(), kind); err != nil {
		return h.failed(c, err)
	}

	addFlash(c, toastSuccess("Login success"))
	return c.Redirect(http.StatusSeeOther, "/")
}

func (h *OAuthHandler) failed(c echo.Context, err error) error {
	switch domain.Classify(err) {
	case domain.KindCancelled:
		addFlash(c, toastInfo("Sign-in cancelled"))
	case domain.KindProvider:
		addFlash(c, toastWarning("Something Went Wrong. "+domain.ProviderCode(err)))
	default:
		if !errors.Is(err, domain.ErrInvalidInput) {
			return err
		}
		addFlash(c, toastError("The sign-in request could not be verified"))
	}
	return c.Redirect(http.StatusSeeOther, "/auth/login")
}
