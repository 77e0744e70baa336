// Package scheduler drives periodic key-health checks on a cron schedule
// and exposes on-demand single/all-key variants. Grounded on
// mercator-hq-jupiter's pkg/evidence/retention.Scheduler, which wires
// github.com/robfig/cron/v3 the same way: a *cron.Cron field, a
// sync.Mutex guarding start/stop, and cron.ParseStandard validation
// before registering the job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/DYLCKH/key-hub/internal/keychecker"
	"github.com/DYLCKH/key-hub/internal/store"
)

// DefaultSchedule is the top-of-every-hour cron expression used when Start
// is given an empty schedule. Settings.CheckInterval is not consulted.
const DefaultSchedule = "0 * * * *"

// Scheduler owns a cron-like schedule that triggers KeyChecker.CheckAllScheduled.
type Scheduler struct {
	checker *keychecker.KeyChecker
	store   store.Store

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	logger  *slog.Logger
}

func New(checker *keychecker.KeyChecker, st store.Store) *Scheduler {
	return &Scheduler{
		checker: checker,
		store:   st,
		logger:  slog.Default().With("component", "scheduler"),
	}
}

// Start registers the cron trigger with the given schedule expression. It
// is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		s.logger.Info("running scheduled key check")
		if err := s.checker.CheckAllScheduled(ctx, s.store); err != nil {
			s.logger.Error("scheduled key check failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	return nil
}

// Stop cancels the schedule. Idempotent: in-flight probes run to
// completion, no new batch starts, and calling Stop twice is harmless.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
}

// CheckOne looks up the channel owning keyID and invokes KeyChecker once.
func (s *Scheduler) CheckOne(ctx context.Context, keyID string) error {
	return s.checker.CheckOne(ctx, s.store, keyID)
}

// CheckAll triggers a full bulk check in the background and returns
// immediately; callers must poll key records to observe changes.
func (s *Scheduler) CheckAll(ctx context.Context) {
	go func() {
		if err := s.checker.CheckAll(context.WithoutCancel(ctx), s.store); err != nil {
			s.logger.Error("check-all failed", "error", err)
		}
	}()
}
