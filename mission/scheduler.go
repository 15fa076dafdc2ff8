// Package mission implements the Mission Scheduler and Executor: durable,
// cron- or natural-language-scheduled agent runs against a persisted
// Mission definition.
package mission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dere-run/dered/store"
)

// tickInterval is how often the scheduler checks for due missions. Cron
// expressions only specify minute granularity, so a tick faster than a
// minute buys nothing; a tick much slower risks running a mission late by
// a meaningful fraction of its own period.
const tickInterval = 60 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron parses a cron expression, returning an error if it is
// malformed. Used both at mission-creation time and by the natural
// language scheduler after it has produced a candidate expression.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// NextOccurrence computes the next run time after `after` for a cron
// expression in the given IANA timezone.
func NextOccurrence(expr, timezone string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("mission: parse cron %q: %w", expr, err)
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("mission: load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	return sched.Next(after.In(loc)), nil
}

// Executor runs one mission execution to completion.
type Executor interface {
	Execute(ctx context.Context, m store.Mission, trigger store.TriggerKind, triggeredBy string) (store.MissionExecution, error)
}

// Scheduler ticks roughly every minute, looking for missions whose
// NextExecutionAt has arrived, and runs each serially within the tick.
// Grounded on serve/scheduler.go's Scheduler struct shape (a mutex-guarded
// registry of jobs with Start/Stop), but replacing robfig/cron's own
// goroutine dispatch with an explicit ticker loop: spec.md requires
// next_execution_at to be a value the scheduler computes and persists
// itself, not an opaque internal cron.EntryID the library owns.
type Scheduler struct {
	store    store.Store
	executor Executor
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler constructs a Scheduler. interval overrides the default tick
// period when positive, letting the daemon tune it via configuration
// instead of the package-level default.
func NewScheduler(st store.Store, executor Executor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = tickInterval
	}
	return &Scheduler{store: st, executor: executor, interval: interval}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop := s.stop
	done := s.done
	s.mu.Unlock()

	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("mission scheduler started", "tick_interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("mission scheduler stopped", "reason", "context cancelled")
			return
		case <-stop:
			slog.Info("mission scheduler stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals Start to return and waits for it to do so.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueMissions(ctx, now)
	if err != nil {
		slog.Error("mission scheduler: list due missions failed", "error", err)
		return
	}
	for _, m := range due {
		s.runOne(ctx, m, now)
	}
}

// runOne executes a single due mission and reschedules it, serially with
// respect to the rest of the tick: missions are not fanned out
// concurrently, so one slow mission delays the others in the same tick
// rather than racing the store.
func (s *Scheduler) runOne(ctx context.Context, m store.Mission, tickTime time.Time) {
	logger := slog.With("mission_id", m.ID, "mission_name", m.Name)

	next, err := NextOccurrence(m.Cron, m.Timezone, tickTime)
	if err != nil {
		logger.Error("mission scheduler: compute next occurrence failed", "error", err)
		return
	}
	m.LastExecutionAt = &tickTime
	m.NextExecutionAt = &next
	if err := s.store.UpdateMission(ctx, m); err != nil {
		logger.Error("mission scheduler: reschedule failed", "error", err)
		return
	}

	logger.Info("mission scheduler: executing", "next_execution_at", next)
	if _, err := s.executor.Execute(ctx, m, store.TriggerScheduled, ""); err != nil {
		logger.Error("mission scheduler: execution failed", "error", err)
	}
}
