// Package httpapi exposes the OAuth connect flow, manual sync trigger and
// read models over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	fitsync "github.com/goliatone/go-fitsync"
	"github.com/goliatone/go-fitsync/core"
)

const defaultShutdownTimeout = 10 * time.Second

type Server struct {
	echo     *echo.Echo
	facade   *fitsync.Facade
	config   core.Config
	observer *core.Observer
}

type Option func(*serverOptions)

type serverOptions struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

func WithLogger(logger core.Logger) Option {
	return func(options *serverOptions) {
		options.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(options *serverOptions) {
		options.loggerProvider = provider
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(options *serverOptions) {
		options.metrics = metrics
	}
}

// New builds the echo router on top of the command and query facade.
func New(facade *fitsync.Facade, cfg core.Config, opts ...Option) (*Server, error) {
	if facade == nil {
		return nil, errors.New("httpapi: facade is required")
	}
	options := serverOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()

	s := &Server{
		echo:     e,
		facade:   facade,
		config:   cfg,
		observer: core.NewObserver("httpapi", options.loggerProvider, options.logger, options.metrics),
	}
	e.HTTPErrorHandler = s.ErrorHandler
	e.Use(middleware.Recover())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)
	s.echo.GET("/connect/:provider", s.connect)
	s.echo.GET("/callback/:provider", s.callback)
	s.echo.POST("/disconnect/:provider", s.disconnect)
	s.echo.POST("/sync/:provider", s.sync)
	s.echo.GET("/status", s.statuses)
	s.echo.GET("/status/:provider", s.status)
	s.echo.GET("/metrics", s.metrics)
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.observer.Info(ctx, "http server listening", map[string]any{"addr": addr})
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// statusURL builds the browser landing page for a finished or aborted flow.
func (s *Server) statusURL(providerID string, status core.CallbackStatus, reason core.ErrorKind) string {
	target := strings.TrimSpace(s.config.OAuth.StatusRedirectURL)
	if target == "" {
		target = core.DefaultConfig().OAuth.StatusRedirectURL
	}
	query := url.Values{}
	query.Set("provider", providerID)
	query.Set("status", string(status))
	if reason != "" {
		query.Set("reason", string(reason))
	}
	separator := "?"
	if strings.Contains(target, "?") {
		separator = "&"
	}
	return target + separator + query.Encode()
}
