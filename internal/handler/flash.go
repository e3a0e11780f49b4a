package handler

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/career/internal/view"
)

const (
	flashCookieName = "career_flash"
	contextKeyFlash = "flash"
)

func toastSuccess(msg string) view.Toast { return view.Toast{Level: view.ToastSuccess, Message: msg} }
func toastError(msg string) view.Toast   { return view.Toast{Level: view.ToastError, Message: msg} }
func toastWarning(msg string) view.Toast { return view.Toast{Level: view.ToastWarning, Message: msg} }
func toastInfo(msg string) view.Toast    { return view.Toast{Level: view.ToastInfo, Message: msg} }

// addFlash queues toasts for the next rendered page, typically after a redirect.
func addFlash(c echo.Context, toasts ...view.Toast) {
	pending, ok := c.Get(contextKeyFlash).([]view.Toast)
	if !ok {
		pending = readFlash(c)
	}
	pending = append(pending, toasts...)
	c.Set(contextKeyFlash, pending)

	raw, err := json.Marshal(pending)
	if err != nil {
		slog.Error("encode flash", "error", err)
		return
	}
	c.SetCookie(&http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash returns and clears the toasts queued by the previous response.
func takeFlash(c echo.Context) []view.Toast {
	toasts := readFlash(c)
	c.Set(contextKeyFlash, []view.Toast{})
	if _, err := c.Cookie(flashCookieName); err != nil {
		return nil
	}
	c.SetCookie(&http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	return toasts
}

func readFlash(c echo.Context) []view.Toast {
	ck, err := c.Cookie(flashCookieName)
	if err != nil || ck.Value == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(ck.Value)
	if err != nil {
		return nil
	}
	var toasts []view.Toast
	if err := json.Unmarshal(raw, &toasts); err != nil {
		return nil
	}
	return toasts
}
