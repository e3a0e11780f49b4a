package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumire/career/internal/service"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Renderer     echo.Renderer
	Cookies      *service.SessionCookies
	Sessions     Sessions
	Flows        Flows
	Directory    Directory
	CookieSecure bool

	// Done ends open event streams when closed.
	Done <-chan struct{}
}

// NewRouter builds the echo instance with every route registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = d.Renderer
	e.Validator = NewAppValidator()
	e.HTTPErrorHandler = HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(RequestLogger())
	e.Use(middleware.Recover())
	e.Use(Tracing())

	e.GET("/health", func(c echo.Context) error {
		return JSON(c, http.StatusOK, map[string]string{"status": "ok"})
	})

	pages := NewPageHandler(d.Flows, d.Directory)
	oauth := NewOAuthHandler(d.Flows)
	sessions := NewSessionHandler(d.Done)

	app := e.Group("", BrowserSession(d.Cookies, d.Sessions, d.CookieSecure))
	app.GET("/", pages.Home)

	auth := app.Group("/auth")
	auth.GET("/register", pages.RegisterForm)
	auth.POST("/register", pages.Register)
	auth.GET("/login", pages.LoginForm)
	auth.POST("/login", pages.Login)
	auth.POST("/logout", pages.Logout)
	auth.GET("/oauth/:provider", oauth.Start)
	auth.GET("/oauth/:provider/callback", oauth.Callback)

	profile := app.Group("/profile", RequireUser())
	profile.GET("", pages.Profile)
	profile.POST("", pages.UpdateProfile)

	app.GET("/session/events", sessions.Events)
	app.GET("/api/v1/session", sessions.Current)

	return e
}
