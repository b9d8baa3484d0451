package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelforge/reelforge/config"
	"github.com/reelforge/reelforge/internal/checkpoint"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/pipeline"
	"github.com/reelforge/reelforge/internal/session"
)

// Server is the control plane: it starts runs, surfaces checkpoints for
// approval, and exposes session recovery.
type Server struct {
	logger   *log.Logger
	cfg      config.ServerConfig
	router   *pipeline.Router
	sessions *session.Store
	echo     *echo.Echo

	mu      sync.Mutex
	cancels map[string]context.CancelFunc    // session id -> run cancel
	gates   map[string]checkpoint.Checkpoint // checkpoint id -> record
	owners  map[string]string                // checkpoint id -> session id
}

// New wires the HTTP surface. The pipeline router and session store must
// already be constructed.
func New(cfg config.ServerConfig, router *pipeline.Router, sessions *session.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		router:   router,
		sessions: sessions,
		cancels:  make(map[string]context.CancelFunc),
		gates:    make(map[string]checkpoint.Checkpoint),
		owners:   make(map[string]string),
	}
	s.echo = s.buildEcho()
	return s
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/formats", s.listFormats)
	api.POST("/runs", s.startRun)
	api.GET("/runs/:id", s.getRun)
	api.POST("/runs/:id/cancel", s.cancelRun)
	api.GET("/runs/:id/checkpoints", s.listCheckpoints)
	api.GET("/checkpoints/:id", s.getCheckpoint)
	api.POST("/checkpoints/:id/approve", s.approveCheckpoint)
	api.POST("/checkpoints/:id/reject", s.rejectCheckpoint)
	api.GET("/sessions/recoverable", s.listRecoverable)
	api.POST("/sessions/:id/restore", s.restoreSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	return e
}

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(s.cfg.Address)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Printf("shutting down")
		return s.echo.Shutdown(context.Background())
	}
}

func (s *Server) listFormats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.router.Formats())
}

type startRunResponse struct {
	SessionID string `json:"session_id"`
}

// startRun kicks a pipeline off asynchronously and returns as soon as the
// session exists. Progress flows through the session record and the
// checkpoint endpoints.
func (s *Server) startRun(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return s.startWithRequest(c, req)
}

func (s *Server) getRun(c echo.Context) error {
	st, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) cancelRun(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no active run for session")
	}
	cancel()
	s.sessions.Update(id, func(st *session.State) { st.Status = session.StatusCancelled })
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) listCheckpoints(c echo.Context) error {
	run, ok := s.router.Active(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusOK, []checkpoint.Checkpoint{})
	}
	return c.JSON(http.StatusOK, run.Checkpoints.List())
}

func (s *Server) getCheckpoint(c echo.Context) error {
	s.mu.Lock()
	cp, ok := s.gates[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown checkpoint")
	}
	// prefer the live record so the status is current
	if run, active := s.router.Active(cp.SessionID); active {
		if live, found := run.Checkpoints.Get(cp.ID); found {
			cp = live
		}
	}
	return c.JSON(http.StatusOK, cp)
}

type approveRequest struct {
	Edits interface{} `json:"edits,omitempty"`
}

func (s *Server) approveCheckpoint(c echo.Context) error {
	id := c.Param("id")
	run, err := s.runForCheckpoint(id)
	if err != nil {
		return err
	}
	var body approveRequest
	_ = c.Bind(&body)
	if err := run.Checkpoints.Approve(id, body.Edits); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "approved"})
}

type rejectRequest struct {
	ChangeRequest string `json:"change_request"`
}

func (s *Server) rejectCheckpoint(c echo.Context) error {
	id := c.Param("id")
	run, err := s.runForCheckpoint(id)
	if err != nil {
		return err
	}
	var body rejectRequest
	_ = c.Bind(&body)
	if err := run.Checkpoints.Reject(id, body.ChangeRequest); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) runForCheckpoint(id string) (*pipeline.Run, error) {
	s.mu.Lock()
	owner, ok := s.owners[id]
	s.mu.Unlock()
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown checkpoint")
	}
	run, ok := s.router.Active(owner)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusGone, "run is no longer active")
	}
	return run, nil
}

func (s *Server) listRecoverable(c echo.Context) error {
	list, err := s.sessions.ListRecoverable(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

// restoreSession restarts a recoverable session under its original format.
func (s *Server) restoreSession(c echo.Context) error {
	id := c.Param("id")
	st, err := s.sessions.Restore(c.Request().Context(), id, "")
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	var req pipeline.Request
	if err := c.Bind(&req); err != nil || req.Idea == "" {
		// fall back to the stored request payload
		if uerr := unmarshalRequest(st, &req); uerr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "stored request is unreadable, supply one in the body")
		}
	}
	req.Format = st.Format
	req.ResumeSessionID = id
	return s.startWithRequest(c, req)
}

// startWithRequest runs the pipeline in the background and responds once
// the session id is known (or the run failed before creating one).
func (s *Server) startWithRequest(c echo.Context, req pipeline.Request) error {
	started := make(chan string, 1)
	runCtx, cancel := context.WithCancel(context.Background())
	var sessionID string
	cb := pipeline.Callbacks{
		OnRunStarted: func(run *pipeline.Run) {
			s.mu.Lock()
			sessionID = run.Session.ID
			s.cancels[sessionID] = cancel
			s.mu.Unlock()
			started <- run.Session.ID
		},
		OnCheckpointCreated: func(cp checkpoint.Checkpoint) {
			s.mu.Lock()
			s.gates[cp.ID] = cp
			s.owners[cp.ID] = cp.SessionID
			s.mu.Unlock()
		},
	}
	errCh := make(chan error, 1)
	go func() {
		defer cancel()
		_, err := s.router.Route(runCtx, req, cb)
		if err != nil {
			s.logger.Printf("run failed: %v", err)
		}
		s.mu.Lock()
		if sessionID != "" {
			delete(s.cancels, sessionID)
		}
		s.mu.Unlock()
		s.reap()
		errCh <- err
	}()
	select {
	case id := <-started:
		return c.JSON(http.StatusAccepted, startRunResponse{SessionID: id})
	case err := <-errCh:
		return httpError(err)
	}
}

// reap drops checkpoint records whose runs are gone.
func (s *Server) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, owner := range s.owners {
		if _, active := s.router.Active(owner); !active {
			delete(s.gates, id)
			delete(s.owners, id)
		}
	}
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func unmarshalRequest(st *session.State, req *pipeline.Request) error {
	if len(st.Request) == 0 {
		return fmt.Errorf("no stored request")
	}
	return json.Unmarshal(st.Request, req)
}

// httpError maps domain errors onto status codes.
func httpError(err error) error {
	switch {
	case err == nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "run ended before reporting a session")
	case errors.Is(err, failure.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, failure.ErrUnknownFormat):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}
