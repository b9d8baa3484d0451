package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/reelforge/reelforge/internal/session"
)

// Scheduler runs the session retention sweep on a cron cadence.
type Scheduler struct {
	Sessions *session.Store
	Spec     string // cron expression, or @daily / @hourly
	Logger   *log.Logger
	Stop     chan struct{}
}

// Start launches the sweep loop. An empty or invalid spec falls back to
// daily.
func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if s.Stop == nil {
		s.Stop = make(chan struct{})
	}
	go func() {
		for {
			wait := s.untilNext(time.Now())
			select {
			case <-s.Stop:
				return
			case <-time.After(wait):
				s.sweep()
			}
		}
	}()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.Sessions.Cleanup(ctx)
	if err != nil {
		s.Logger.Printf("warn: cleanup sweep: %v", err)
		return
	}
	s.Logger.Printf("cleanup sweep removed %d session(s)", n)
}

// untilNext computes the delay before the next sweep. Supports "@daily",
// "@hourly" and standard cron expressions.
func (s *Scheduler) untilNext(now time.Time) time.Duration {
	switch s.Spec {
	case "", "@daily":
		return 24 * time.Hour
	case "@hourly":
		return time.Hour
	default:
		expr, err := cronexpr.Parse(s.Spec)
		if err != nil {
			s.Logger.Printf("warn: invalid cleanup_cron %q, sweeping daily", s.Spec)
			return 24 * time.Hour
		}
		return expr.Next(now).Sub(now)
	}
}

// Shutdown stops the loop.
func (s *Scheduler) Shutdown() {
	close(s.Stop)
}
