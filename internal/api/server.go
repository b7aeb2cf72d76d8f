// Package api serves the HTTP side of shipbot: tracker webhooks that wake
// talks up, runner callbacks that record results and shells, and the talk
// JSON read by the dashboard.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/shipbot/internal/runner"
	"github.com/shipbot/internal/talk"
)

// Enqueuer schedules cycles of talks that have something new.
type Enqueuer interface {
	EnqueueTalks(ctx context.Context, names ...string) error
}

// Options configures the server.
type Options struct {
	Port int
	// Self is the bot login; its own comments don't wake talks.
	Self string
	// WebhookSecret checks GitHub signatures and GitLab tokens. Empty
	// accepts every delivery.
	WebhookSecret string
	Tokens        *runner.TokenService
	// Queue is optional; without it talks wait for the next sweep.
	Queue Enqueuer
}

// Server represents the API server
type Server struct {
	echo  *echo.Echo
	opts  Options
	store talk.Store
	now   func() time.Time
}

// NewServer creates a new API server
func NewServer(store talk.Store, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	server := &Server{
		echo:  e,
		opts:  opts,
		store: store,
		now:   time.Now,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/webhooks/github", s.githubWebhook)
	v1.POST("/webhooks/gitlab", s.gitlabWebhook)

	v1.GET("/talks/:name", s.getTalk)
	runnerAuth := requireRunner(s.opts.Tokens)
	v1.POST("/talks/:name/result", s.postResult, runnerAuth)
	v1.PUT("/talks/:name/shell", s.putShell, runnerAuth)
}

// Handler exposes the routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.opts.Port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.opts.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

// wake marks the talk as having something new, creating it on first
// contact, and schedules its cycle.
func (s *Server) wake(ctx context.Context, t *talk.Talk) (string, error) {
	name := t.Name
	exists, err := s.store.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	status := "resumed"
	if !exists {
		err = s.store.Create(ctx, t)
		status = "created"
	}
	if exists || errors.Is(err, talk.ErrTalkExists) {
		_, err = s.store.Modify(ctx, name, talk.Patch{Resume: talk.Ptr(true), Active: talk.Ptr(true)})
		status = "resumed"
	}
	if err != nil {
		return "", err
	}
	s.schedule(ctx, name)
	return status, nil
}

func (s *Server) schedule(ctx context.Context, name string) {
	if s.opts.Queue == nil {
		return
	}
	if err := s.opts.Queue.EnqueueTalks(ctx, name); err != nil {
		// the periodic sweep picks it up anyway
		log.Warn().Err(err).Str("talk", name).Msg("failed to schedule talk cycle")
	}
}
