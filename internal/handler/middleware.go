package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumire/career/internal/domain"
	"github.com/sumire/career/internal/service"
	"github.com/sumire/career/internal/session"
)

const (
	contextKeySessionID = "session_id"
	contextKeyManager   = "session_manager"

	sessionCookieName = "career_session"

	readyTimeout = 5 * time.Second
)

var tracer = otel.Tracer("github.com/sumire/career/internal/handler")

// Sessions yields the Manager of a browser session.
type Sessions interface {
	Manager(sessionID string) *session.Manager
}

// RequestLogger logs each HTTP request with structured fields.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)

			return err
		}
	}
}

// Tracing starts a server span per request, continuing any incoming trace.
func Tracing() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tracer.Start(ctx, req.Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.path", req.URL.Path),
				))
			defer span.End()

			c.SetRequest(req.WithContext(ctx))
			err := next(c)

			status := c.Response().Status
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if err != nil {
				span.RecordError(err)
			}
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return err
		}
	}
}

// BrowserSession resolves the signed session cookie, issuing a new one when it
// is missing or invalid, and injects the session's Manager into echo context.
// The request waits briefly for the Manager to finish restoring the session.
func BrowserSession(cookies *service.SessionCookies, sessions Sessions, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var sessionID string
			if ck, err := c.Cookie(sessionCookieName); err == nil {
				if id, err := cookies.Validate(ck.Value); err == nil {
					sessionID = id
				}
			}

			if sessionID == "" {
				id, token, err := cookies.Issue()
				if err != nil {
					return err
				}
				sessionID = id
				c.SetCookie(&http.Cookie{
					Name:     sessionCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   int(cookies.TTL().Seconds()),
				})
			}

			mgr := sessions.Manager(sessionID)
			waitReady(c.Request().Context(), mgr)

			c.Set(contextKeySessionID, sessionID)
			c.Set(contextKeyManager, mgr)
			return next(c)
		}
	}
}

func waitReady(ctx context.Context, mgr *session.Manager) {
	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()

	select {
	case <-mgr.Ready():
	case <-ctx.Done():
	case <-timer.C:
		slog.Warn("session still loading", "timeout", readyTimeout)
	}
}

// RequireUser redirects to the login page unless a user is signed in.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := GetUser(c); !ok {
				addFlash(c, toastInfo("Please log in first"))
				return c.Redirect(http.StatusSeeOther, "/auth/login")
			}
			return next(c)
		}
	}
}

// GetSessionID extracts the browser session ID from echo context.
func GetSessionID(c echo.Context) (string, bool) {
	id, ok := c.Get(contextKeySessionID).(string)
	return id, ok
}

// GetManager extracts the session Manager from echo context.
func GetManager(c echo.Context) (*session.Manager, error) {
	mgr, ok := c.Get(contextKeyManager).(*session.Manager)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return mgr, nil
}

// GetUser returns the signed-in user of the request's session.
func GetUser(c echo.Context) (domain.User, bool) {
	mgr, err := GetManager(c)
	if err != nil {
		return domain.User{}, false
	}
	return mgr.Current().User()
}
