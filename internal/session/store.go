package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reelforge/reelforge/config"
)

// Store keeps the in-memory authority for active sessions and mirrors them
// to a durable backend. Mutations mark a session dirty; a debounced writer
// flushes dirty sessions so rapid phase updates do not hammer the database.
type Store struct {
	logger   *log.Logger
	backend  Backend
	blobs    BlobStore
	debounce time.Duration
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*State
	dirty    map[string]bool
	timer    *time.Timer
	closed   bool
}

// NewStore wires the store to a backend and optional blob store.
func NewStore(cfg config.SessionConfig, backend Backend, blobs BlobStore, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	cfg = cfg.Normalize()
	return &Store{
		logger:   logger,
		backend:  backend,
		blobs:    blobs,
		debounce: cfg.Debounce,
		ttl:      time.Duration(cfg.TTLDays) * 24 * time.Hour,
		sessions: make(map[string]*State),
		dirty:    make(map[string]bool),
	}
}

// Initialize creates a new session and writes it through immediately, so a
// crash right after creation still leaves a recoverable row.
func (s *Store) Initialize(ctx context.Context, format string, request json.RawMessage) (*State, error) {
	now := time.Now().UTC()
	st := &State{
		ID:           uuid.NewString(),
		Format:       format,
		Status:       StatusRunning,
		Request:      request,
		PhaseResults: make(map[string]json.RawMessage),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.mu.Lock()
	s.sessions[st.ID] = st
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Save(ctx, st); err != nil {
			return nil, fmt.Errorf("persisting new session: %w", err)
		}
	}
	s.logger.Printf("session %s initialized (format %s)", st.ID, format)
	return st.Clone(), nil
}

// Update applies a mutation to the in-memory state and schedules a durable
// write. CreatedAt never changes after Initialize.
func (s *Store) Update(id string, fn func(*State)) (*State, error) {
	s.mu.Lock()
	st, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	created := st.CreatedAt
	fn(st)
	st.CreatedAt = created
	st.UpdatedAt = time.Now().UTC()
	s.dirty[id] = true
	s.scheduleFlushLocked()
	snap := st.Clone()
	s.mu.Unlock()
	return snap, nil
}

// RecordPhase stores one phase's result payload.
func (s *Store) RecordPhase(id, phase string, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding %s result: %w", phase, err)
	}
	_, err = s.Update(id, func(st *State) {
		if st.PhaseResults == nil {
			st.PhaseResults = make(map[string]json.RawMessage)
		}
		st.PhaseResults[phase] = raw
		st.CurrentPhase = phase
	})
	return err
}

// Get returns a snapshot of an active session.
func (s *Store) Get(id string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Restore loads a session from durable storage into memory for resumption.
// A session saved by one format cannot resume under another.
func (s *Store) Restore(ctx context.Context, id, format string) (*State, error) {
	s.mu.Lock()
	if st, ok := s.sessions[id]; ok {
		if format != "" && st.Format != format {
			s.mu.Unlock()
			return nil, fmt.Errorf("session %s belongs to format %s, not %s", id, st.Format, format)
		}
		snap := st.Clone()
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	if s.backend == nil {
		return nil, ErrNotFound
	}
	st, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if format != "" && st.Format != format {
		return nil, fmt.Errorf("session %s belongs to format %s, not %s", id, st.Format, format)
	}
	s.mu.Lock()
	s.sessions[id] = st
	snap := st.Clone()
	s.mu.Unlock()
	s.logger.Printf("session %s restored (format %s, phase %s)", id, st.Format, st.CurrentPhase)
	return snap, nil
}

// ListRecoverable returns resumable sessions, most recently touched first.
func (s *Store) ListRecoverable(ctx context.Context) ([]Summary, error) {
	byID := make(map[string]Summary)
	if s.backend != nil {
		rows, err := s.backend.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			byID[r.ID] = r
		}
	}
	s.mu.Lock()
	for id, st := range s.sessions {
		byID[id] = st.summary()
	}
	s.mu.Unlock()

	out := make([]Summary, 0, len(byID))
	for _, r := range byID {
		switch r.Status {
		case StatusRunning, StatusPaused, StatusFailed:
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// GetRecentIncomplete returns the most recently touched recoverable session.
func (s *Store) GetRecentIncomplete(ctx context.Context) (*Summary, error) {
	list, err := s.ListRecoverable(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// Delete removes a session from memory, durable storage and the blob store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	delete(s.dirty, id)
	s.mu.Unlock()
	if s.blobs != nil {
		if err := s.blobs.DeleteBlobs(ctx, id); err != nil {
			s.logger.Printf("warn: deleting blobs for %s: %v", id, err)
		}
	}
	if s.backend != nil {
		return s.backend.Delete(ctx, id)
	}
	return nil
}

// SaveBlob stores a media payload for a session.
func (s *Store) SaveBlob(ctx context.Context, id, kind string, data []byte) error {
	if s.blobs == nil {
		return nil
	}
	return s.blobs.SaveBlob(ctx, id, kind, data)
}

// LoadBlob fetches a media payload for a session.
func (s *Store) LoadBlob(ctx context.Context, id, kind string) ([]byte, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("no blob store configured")
	}
	return s.blobs.LoadBlob(ctx, id, kind)
}

// Cleanup drops sessions whose last update is older than the retention TTL.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	var removed int64
	s.mu.Lock()
	for id, st := range s.sessions {
		if st.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.dirty, id)
			removed++
		}
	}
	s.mu.Unlock()
	if s.backend != nil {
		n, err := s.backend.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return removed, err
		}
		if n > removed {
			removed = n
		}
	}
	if removed > 0 {
		s.logger.Printf("cleanup removed %d expired session(s)", removed)
	}
	return removed, nil
}

// Flush writes every dirty session through immediately.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := make([]*State, 0, len(s.dirty))
	for id := range s.dirty {
		if st, ok := s.sessions[id]; ok {
			pending = append(pending, st.Clone())
		}
		delete(s.dirty, id)
	}
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, st := range pending {
		st := st
		g.Go(func() error {
			if err := s.backend.Save(ctx, st); err != nil {
				s.logger.Printf("warn: persisting session %s: %v", st.ID, err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Close flushes outstanding writes and shuts the backend down.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.Flush(ctx)
	if s.backend != nil {
		if cerr := s.backend.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// scheduleFlushLocked re-arms the debounce timer; every mutation pushes the
// flush out by the full debounce window. Callers hold s.mu.
func (s *Store) scheduleFlushLocked() {
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		// a later mutation may have replaced the timer already
		if s.timer == t {
			s.timer = nil
		}
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			s.logger.Printf("warn: debounced flush: %v", err)
		}
	})
	s.timer = t
}
