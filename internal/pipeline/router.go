package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/format"
)

// Router resolves a request's format to its pipeline and drives the run. It
// also tracks active runs so checkpoints and cancellation can be addressed
// from the control plane.
type Router struct {
	registry *format.Registry
	deps     Deps

	mu        sync.RWMutex
	pipelines map[string]Pipeline
	active    map[string]*Run // session id -> run
}

// NewRouter builds a router with the seven built-in pipelines registered.
func NewRouter(registry *format.Registry, deps Deps) (*Router, error) {
	r := &Router{
		registry:  registry,
		deps:      deps,
		pipelines: make(map[string]Pipeline),
		active:    make(map[string]*Run),
	}
	builders := map[string]func(format.Metadata) Pipeline{
		format.YouTubeNarrator: func(m format.Metadata) Pipeline { return NewYouTubeNarrator(m) },
		format.Documentary:     func(m format.Metadata) Pipeline { return NewDocumentary(m) },
		format.Advertisement:   func(m format.Metadata) Pipeline { return NewAdvertisement(m) },
		format.Shorts:          func(m format.Metadata) Pipeline { return NewShorts(m) },
		format.MusicVideo:      func(m format.Metadata) Pipeline { return NewMusicVideo(m) },
		format.NewsPolitics:    func(m format.Metadata) Pipeline { return NewNewsPolitics(m) },
		format.MovieAnimation:  func(m format.Metadata) Pipeline { return NewMovieAnimation(m) },
	}
	for id, build := range builders {
		meta, ok := registry.Get(id)
		if !ok {
			return nil, fmt.Errorf("registry is missing built-in format %s", id)
		}
		r.pipelines[id] = build(meta)
	}
	return r, nil
}

// Register adds or replaces a pipeline for a format id. The format must
// already exist in the registry.
func (r *Router) Register(p Pipeline) error {
	if _, ok := r.registry.Get(p.Format()); !ok {
		return fmt.Errorf("%w: %s", failure.ErrUnknownFormat, p.Format())
	}
	r.mu.Lock()
	r.pipelines[p.Format()] = p
	r.mu.Unlock()
	return nil
}

// Route validates the request, resolves its pipeline and runs it to
// completion. The returned result carries partial output on failure.
func (r *Router) Route(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	r.mu.RLock()
	p, ok := r.pipelines[req.Format]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", failure.ErrUnknownFormat, req.Format)
	}
	meta, ok := r.registry.Get(req.Format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", failure.ErrUnknownFormat, req.Format)
	}

	caller := cb.OnRunStarted
	var sessionID string
	cb.OnRunStarted = func(run *Run) {
		sessionID = run.Session.ID
		r.mu.Lock()
		r.active[sessionID] = run
		r.mu.Unlock()
		if caller != nil {
			caller(run)
		}
	}
	defer func() {
		if sessionID != "" {
			r.mu.Lock()
			delete(r.active, sessionID)
			r.mu.Unlock()
		}
	}()

	return Start(ctx, p, r.deps, meta, req, cb)
}

// Active returns the in-flight run for a session, if any.
func (r *Router) Active(sessionID string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.active[sessionID]
	return run, ok
}

// Formats lists the registered format metadata.
func (r *Router) Formats() []format.Metadata {
	return r.registry.List()
}
