package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/career/internal/domain"
)

const (
	eventBuffer       = 8
	heartbeatInterval = 25 * time.Second
)

// SessionView is the JSON form of a session state.
type SessionView struct {
	Present bool         `json:"present"`
	Loading bool         `json:"loading,omitempty"`
	User    *domain.User `json:"user,omitempty"`
}

func newSessionView(state domain.SessionState, loading bool) SessionView {
	v := SessionView{Present: state.IsPresent(), Loading: loading}
	if u, ok := state.User(); ok {
		v.User = &u
	}
	return v
}

// SessionHandler exposes the session state to scripts.
type SessionHandler struct {
	heartbeat time.Duration
	done      <-chan struct{}
}

// NewSessionHandler creates a new SessionHandler. Closing done ends every open
// event stream; it may be nil.
func NewSessionHandler(done <-chan struct{}) *SessionHandler {
	return &SessionHandler{heartbeat: heartbeatInterval, done: done}
}

// Current returns the session state wrapped in the standard envelope.
func (h *SessionHandler) Current(c echo.Context) error {
	mgr, err := GetManager(c)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, newSessionView(mgr.Current(), mgr.Loading()))
}

// Events streams session state changes as Server-Sent Events until the client
// disconnects. The first event carries the current state.
func (h *SessionHandler) Events(c echo.Context) error {
	mgr, err := GetManager(c)
	if err != nil {
		return err
	}

	updates := make(chan domain.SessionState, eventBuffer)
	unsubscribe := mgr.Subscribe(func(state domain.SessionState) {
		select {
		case updates <- state:
		default:
			slog.Warn("session event dropped, client too slow")
		}
	})
	defer unsubscribe()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case state := <-updates:
			data, err := json.Marshal(newSessionView(state, false))
			if err != nil {
				slog.Error("encode session event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
