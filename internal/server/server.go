// Package server exposes watcher status over HTTP and streams emitted
// events to websocket subscribers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/roach88/runwatch/internal/clock"
	"github.com/roach88/runwatch/internal/github"
	"github.com/roach88/runwatch/internal/ir"
	"github.com/roach88/runwatch/internal/store"
)

const shutdownTimeout = 5 * time.Second

// CursorLoader reads persisted cursors.
type CursorLoader interface {
	Load(ctx context.Context, repo ir.RepoID) (ir.Cursor, error)
}

// RateLimitReporter reports the last observed API quota.
type RateLimitReporter interface {
	RateLimit() (github.RateLimitInfo, bool)
}

// Config configures a Server.
type Config struct {
	Repos   []ir.RepoID
	Cursors CursorLoader

	// RateLimits is optional.
	RateLimits RateLimitReporter

	// Hub is optional. Without one /events is not served.
	Hub *Hub

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the status endpoint.
type Server struct {
	echo     *echo.Echo
	repos    []ir.RepoID
	watched  map[ir.RepoID]bool
	cursors  CursorLoader
	limits   RateLimitReporter
	hub      *Hub
	clock    clock.Clock
	started  time.Time
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New builds a Server and registers its routes.
func New(cfg Config) *Server {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		echo:    echo.New(),
		repos:   cfg.Repos,
		watched: make(map[ir.RepoID]bool, len(cfg.Repos)),
		cursors: cfg.Cursors,
		limits:  cfg.RateLimits,
		hub:     cfg.Hub,
		clock:   clk,
		started: clk.Now(),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, repo := range cfg.Repos {
		s.watched[repo] = true
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency)
			return nil
		},
	}))

	s.RegisterRoutes(s.echo)
	return s
}

// RegisterRoutes registers the status routes on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)
	e.GET("/repos", s.ListRepos)
	e.GET("/repos/:owner/:name", s.GetRepo)
	e.GET("/ratelimit", s.RateLimit)
	if s.hub != nil {
		e.GET("/events", s.Events)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on addr until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	s.logger.Info("status server listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("status server shutdown failed", "error", err)
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Repos       int    `json:"repos"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}

// RepoStatus is one repository in GET /repos.
type RepoStatus struct {
	Repo   string            `json:"repo"`
	Cursor *ir.CursorSummary `json:"cursor,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// RateLimitResponse is the body of GET /ratelimit.
type RateLimitResponse struct {
	Known     bool      `json:"known"`
	Remaining int64     `json:"remaining,omitempty"`
	ResetAt   time.Time `json:"reset_at,omitzero"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness.
func (s *Server) Health(c echo.Context) error {
	resp := HealthResponse{
		Status: "ok",
		Repos:  len(s.repos),
		Uptime: s.clock.Now().Sub(s.started).Truncate(time.Second).String(),
	}
	if s.hub != nil {
		resp.Connections = s.hub.ConnectionCount()
	}
	return c.JSON(http.StatusOK, resp)
}

// ListRepos reports the cursor of every watched repository.
func (s *Server) ListRepos(c echo.Context) error {
	ctx := c.Request().Context()
	out := make([]RepoStatus, 0, len(s.repos))
	for _, repo := range s.repos {
		out = append(out, s.status(ctx, repo))
	}
	return c.JSON(http.StatusOK, out)
}

// GetRepo reports one repository's cursor.
func (s *Server) GetRepo(c echo.Context) error {
	repo := ir.RepoID{Owner: c.Param("owner"), Name: c.Param("name")}
	if !s.watched[repo] {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "repository not watched: " + repo.String()})
	}

	status := s.status(c.Request().Context(), repo)
	if status.Cursor == nil {
		return c.JSON(http.StatusNotFound, status)
	}
	return c.JSON(http.StatusOK, status)
}

// RateLimit reports the last observed API quota.
func (s *Server) RateLimit(c echo.Context) error {
	var resp RateLimitResponse
	if s.limits != nil {
		if info, ok := s.limits.RateLimit(); ok {
			resp = RateLimitResponse{Known: true, Remaining: info.Remaining, ResetAt: info.ResetAt}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Events upgrades to a websocket that streams emitted events as JSON
// records. ?repo=owner/name narrows the stream.
func (s *Server) Events(c echo.Context) error {
	filter := c.QueryParam("repo")
	if filter != "" {
		repo, err := ir.ParseRepoID(filter)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		if !s.watched[repo] {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "repository not watched: " + repo.String()})
		}
		filter = repo.String()
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	conn := s.hub.NewConnection(ws, filter)
	if !s.hub.Register(conn) {
		ws.Close()
		return nil
	}

	go s.hub.writePump(conn)
	go s.hub.readPump(conn)
	return nil
}

func (s *Server) status(ctx context.Context, repo ir.RepoID) RepoStatus {
	st := RepoStatus{Repo: repo.String()}
	c, err := s.cursors.Load(ctx, repo)
	switch {
	case err == nil:
		summary := c.Summary()
		st.Cursor = &summary
	case errors.Is(err, store.ErrNotFound):
		st.Error = "no cursor yet"
	default:
		st.Error = err.Error()
	}
	return st
}
