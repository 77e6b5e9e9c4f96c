// Package scheduler triggers runs of workflows that carry a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/metrics"
	"github.com/rendis/agentgraph/internal/store"
)

// WorkflowRunner runs a stored workflow. Satisfied by runner.Runner.
type WorkflowRunner interface {
	Run(ctx context.Context, workflowID string, policy *engine.ContinuationPolicy) (*engine.RunResult, error)
	Executing(workflowID string) bool
}

// WorkflowLister lists stored workflows. Satisfied by store.Store.
type WorkflowLister interface {
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.WorkflowSummary, error)
}

const defaultInterval = 30 * time.Second

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// entry tracks one scheduled workflow between ticks.
type entry struct {
	spec string
	next time.Time
	bad  bool
}

// Scheduler polls the store for scheduled workflows and runs those that are due.
// Schedules are evaluated in UTC. A workflow first becomes due at the next
// activation after the scheduler sees it; missed activations are not replayed.
type Scheduler struct {
	lister   WorkflowLister
	runner   WorkflowRunner
	metrics  *metrics.Collector
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	entriesMu sync.Mutex
	entries   map[string]*entry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMetrics records scheduled run outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// NewScheduler creates a Scheduler.
func NewScheduler(lister WorkflowLister, runner WorkflowRunner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		lister:   lister,
		runner:   runner,
		logger:   logger,
		interval: defaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ValidateSpec reports whether expr is an accepted cron expression.
func ValidateSpec(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun computes the next activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// Start launches the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick refreshes the schedule table and runs every due workflow, one at a time.
func (s *Scheduler) tick(ctx context.Context) {
	list, err := s.lister.ListWorkflows(ctx, store.WorkflowFilter{Scheduled: true})
	if err != nil {
		s.logger.Error("failed to list scheduled workflows", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	due := s.refresh(list, now)
	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		s.runDue(ctx, id, now)
	}
}

// refresh syncs entries with list and returns the IDs due at now.
func (s *Scheduler) refresh(list []*store.WorkflowSummary, now time.Time) []string {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()

	seen := make(map[string]bool, len(list))
	var due []string
	for _, wf := range list {
		if wf.Schedule == "" {
			continue
		}
		seen[wf.ID] = true

		e, ok := s.entries[wf.ID]
		if !ok || e.spec != wf.Schedule {
			e = &entry{spec: wf.Schedule}
			next, err := NextRun(wf.Schedule, now)
			if err != nil {
				e.bad = true
				s.logger.Warn("ignoring invalid workflow schedule",
					slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
			}
			e.next = next
			s.entries[wf.ID] = e
			continue
		}
		if !e.bad && !now.Before(e.next) {
			due = append(due, wf.ID)
		}
	}
	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
		}
	}
	return due
}

func (s *Scheduler) runDue(ctx context.Context, workflowID string, now time.Time) {
	defer s.advance(workflowID, now)

	if s.runner.Executing(workflowID) {
		s.logger.Info("scheduled run skipped, workflow busy", slog.String("workflow_id", workflowID))
		s.record("skipped")
		return
	}

	s.logger.Info("running scheduled workflow", slog.String("workflow_id", workflowID))
	res, err := s.runner.Run(ctx, workflowID, nil)
	if err != nil {
		s.logger.Error("scheduled run failed",
			slog.String("workflow_id", workflowID), slog.String("error", err.Error()))
		s.record("error")
		return
	}
	s.logger.Info("scheduled run finished",
		slog.String("workflow_id", workflowID),
		slog.String("run_id", res.RunID),
		slog.String("status", string(res.Status)))
	s.record("ok")
}

func (s *Scheduler) advance(workflowID string, now time.Time) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	e, ok := s.entries[workflowID]
	if !ok {
		return
	}
	if next, err := NextRun(e.spec, now); err == nil {
		e.next = next
	}
}

func (s *Scheduler) record(outcome string) {
	if s.metrics != nil {
		s.metrics.ScheduledRun(outcome)
	}
}

// Next returns the next planned activation of workflowID, if it is scheduled.
func (s *Scheduler) Next(workflowID string) (time.Time, bool) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	e, ok := s.entries[workflowID]
	if !ok || e.bad {
		return time.Time{}, false
	}
	return e.next, true
}

// Stop shuts the loop down and waits for an in-progress tick to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
