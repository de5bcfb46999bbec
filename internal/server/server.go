package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/gongonut/propiedadraiz-backend/internal/auth"
)

// Handler registers a group of routes.
type Handler interface {
	Register(e *echo.Echo)
}

type Options struct {
	Addr           string
	AuthEnabled    bool
	JWTSecret      string
	AllowedOrigins []string
}

type Server struct {
	echo *echo.Echo
	addr string
}

var (
	publicExactPaths = map[string]struct{}{
		"/ping":             {},
		"/health":           {},
		"/whatsapp/webhook": {},
		"/auth/login":       {},
	}
	// Listings and lead capture back the public website.
	publicReadPrefixes = []string{"/properties"}
	publicWritePaths   = map[string]struct{}{
		"/leads": {},
	}
)

func NewServer(log *slog.Logger, opts Options, handlers ...Handler) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	if len(opts.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.AllowedOrigins,
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
	if opts.AuthEnabled {
		e.Use(auth.JWTMiddleware(opts.JWTSecret, func(c echo.Context) bool {
			return shouldSkipJWT(c.Request().Method, c.Request().URL.Path)
		}))
	}

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr}
}

func (s *Server) Start() error                   { return s.echo.Start(s.addr) }
func (s *Server) Stop(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

func shouldSkipJWT(method, path string) bool {
	if method == http.MethodOptions {
		return true
	}
	if _, ok := publicExactPaths[path]; ok {
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		for _, prefix := range publicReadPrefixes {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
		}
	case http.MethodPost:
		if _, ok := publicWritePaths[path]; ok {
			return true
		}
	}
	return false
}
