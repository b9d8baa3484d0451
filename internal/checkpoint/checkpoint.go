package checkpoint

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/telemetry"
)

// Status of a checkpoint record.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusTimedOut = "timed-out"
)

// Checkpoint is a request for human review of one phase's output.
type Checkpoint struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Phase     string      `json:"phase"`
	Data      interface{} `json:"data"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Resolution is the reviewer's decision. Edits carry a modified payload on
// approval; ChangeRequest carries guidance on rejection.
type Resolution struct {
	Approved      bool        `json:"approved"`
	Edits         interface{} `json:"edits,omitempty"`
	ChangeRequest string      `json:"change_request,omitempty"`
	TimedOut      bool        `json:"timed_out,omitempty"`
}

// CreatedFunc is invoked when a checkpoint becomes pending, so callers can
// surface it to a UI or API.
type CreatedFunc func(Checkpoint)

type record struct {
	cp     Checkpoint
	ch     chan Resolution
	once   sync.Once
	timer  *time.Timer
	status string
}

// System manages the approval gates of one pipeline run. A run gets at most
// maxCheckpoints interactive gates; gates requested beyond the cap resolve
// immediately as approved.
type System struct {
	logger    *log.Logger
	tele      *telemetry.Telemetry
	sessionID string
	max       int
	timeout   time.Duration
	onCreated CreatedFunc

	mu       sync.Mutex
	used     int
	records  map[string]*record
	disposed bool
}

// New builds a checkpoint system for one run. maxCheckpoints <= 0 means every
// gate passes through silently.
func New(sessionID string, maxCheckpoints int, timeout time.Duration, onCreated CreatedFunc, logger *log.Logger, tele *telemetry.Telemetry) *System {
	if logger == nil {
		logger = log.New(log.Writer(), "[CHECKPOINT] ", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &System{
		logger:    logger,
		tele:      tele,
		sessionID: sessionID,
		max:       maxCheckpoints,
		timeout:   timeout,
		onCreated: onCreated,
		records:   make(map[string]*record),
	}
}

// Request opens a gate for the given phase and blocks until it is approved,
// rejected, auto-approved on timeout, or the context ends. Once the run's
// checkpoint budget is spent, further requests approve immediately.
func (s *System) Request(ctx context.Context, phase string, data interface{}) (Resolution, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return Resolution{Approved: true}, nil
	}
	if s.used >= s.max {
		s.mu.Unlock()
		return Resolution{Approved: true}, nil
	}
	s.used++

	rec := &record{
		cp: Checkpoint{
			ID:        uuid.NewString(),
			SessionID: s.sessionID,
			Phase:     phase,
			Data:      data,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		ch:     make(chan Resolution, 1),
		status: StatusPending,
	}
	s.records[rec.cp.ID] = rec
	rec.timer = time.AfterFunc(s.timeout, func() {
		s.resolve(rec.cp.ID, Resolution{Approved: true, TimedOut: true}, StatusTimedOut)
	})
	s.mu.Unlock()

	s.tele.RecordCheckpoint("created")
	s.logger.Printf("checkpoint %s pending for phase %s (session %s)", rec.cp.ID, phase, s.sessionID)
	if s.onCreated != nil {
		s.onCreated(rec.cp)
	}

	select {
	case res := <-rec.ch:
		return res, nil
	case <-ctx.Done():
		// the run is going away; release the gate as approved so cleanup
		// paths never block
		s.resolve(rec.cp.ID, Resolution{Approved: true}, StatusApproved)
		return Resolution{Approved: true}, ctx.Err()
	}
}

// Approve resolves a pending checkpoint positively, optionally with edited
// payload data.
func (s *System) Approve(id string, edits interface{}) error {
	if !s.resolve(id, Resolution{Approved: true, Edits: edits}, StatusApproved) {
		return fmt.Errorf("checkpoint %s is not pending", id)
	}
	return nil
}

// Reject resolves a pending checkpoint negatively with the reviewer's change
// request.
func (s *System) Reject(id, changeRequest string) error {
	if !s.resolve(id, Resolution{Approved: false, ChangeRequest: changeRequest}, StatusRejected) {
		return fmt.Errorf("checkpoint %s is not pending", id)
	}
	return nil
}

// Update replaces a pending checkpoint's payload and re-surfaces it so the
// reviewer sees the amended data before deciding.
func (s *System) Update(id string, patch interface{}) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.status != StatusPending {
		s.mu.Unlock()
		return fmt.Errorf("checkpoint %s is not pending", id)
	}
	rec.cp.Data = patch
	cp := rec.cp
	s.mu.Unlock()
	s.logger.Printf("checkpoint %s payload updated", id)
	if s.onCreated != nil {
		s.onCreated(cp)
	}
	return nil
}

// resolve delivers a resolution exactly once and reports whether this call
// was the one that did it.
func (s *System) resolve(id string, res Resolution, status string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	won := false
	rec.once.Do(func() {
		won = true
		if rec.timer != nil {
			rec.timer.Stop()
		}
		s.mu.Lock()
		rec.status = status
		rec.cp.Status = status
		s.mu.Unlock()
		rec.ch <- res
		s.tele.RecordCheckpoint(statusEvent(status))
		s.logger.Printf("checkpoint %s resolved: %s", id, status)
	})
	return won
}

func statusEvent(status string) string {
	switch status {
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusTimedOut:
		return "timeout"
	default:
		return status
	}
}

// List returns every checkpoint this run has opened, oldest first.
func (s *System) List() []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Checkpoint, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Pending returns the pending checkpoints, oldest first.
func (s *System) Pending() []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Checkpoint
	for _, rec := range s.records {
		if rec.status == StatusPending {
			out = append(out, rec.cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns one checkpoint by id.
func (s *System) Get(id string) (Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Checkpoint{}, false
	}
	return rec.cp, true
}

// Used reports how many interactive gates this run has consumed.
func (s *System) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Dispose auto-approves every pending checkpoint and stops accepting new
// ones. Safe to call more than once.
func (s *System) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	var pending []string
	for id, rec := range s.records {
		if rec.status == StatusPending {
			pending = append(pending, id)
		}
	}
	s.mu.Unlock()
	for _, id := range pending {
		s.resolve(id, Resolution{Approved: true}, StatusApproved)
	}
}
