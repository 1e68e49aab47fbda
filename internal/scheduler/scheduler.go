// Package scheduler runs every due watchdog in a single cooperative loop and
// persists the collection after each cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doggo-watch/doggo/internal/metrics"
	"github.com/doggo-watch/doggo/internal/watchdog"
)

const defaultMinSleep = time.Second

// Store is the persistence the scheduler drives. The scheduler is its only
// writer.
type Store interface {
	Watchdogs() []*watchdog.Watchdog
	Persist() error
}

// Config tunes the loop.
type Config struct {
	// MinSleep is the floor between cycles, so a watchdog that keeps failing
	// cannot turn the loop into a busy spin.
	MinSleep time.Duration
}

// RunOutcome is the result of running one watchdog.
type RunOutcome struct {
	WatchdogID uuid.UUID
	NewAds     int
	Err        error
}

// CycleReport summarizes one pass over the store.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Watchdogs  int
	Runs       []RunOutcome
	PersistErr error
}

// Failed counts runs that returned an error.
func (r CycleReport) Failed() int {
	n := 0
	for _, run := range r.Runs {
		if run.Err != nil {
			n++
		}
	}
	return n
}

// Scheduler polls watchdogs when they are due.
type Scheduler struct {
	store    Store
	fetcher  watchdog.Fetcher
	notifier watchdog.Notifier
	clock    watchdog.Clock
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	lastCycle atomic.Int64
	cycles    atomic.Int64
}

// New constructs a Scheduler.
func New(
	store Store,
	fetcher watchdog.Fetcher,
	notifier watchdog.Notifier,
	clock watchdog.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Scheduler, error) {
	if store == nil || fetcher == nil || notifier == nil || clock == nil {
		return nil, errors.New("store, fetcher, notifier and clock are required")
	}
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = defaultMinSleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Scheduler{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
	}, nil
}

// Run cycles until ctx is done. It only returns when ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("min_sleep", s.cfg.MinSleep))
	for {
		s.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}

		now := s.clock.Now()
		d := s.SleepDuration(now)
		s.logger.Info("sleeping until next run",
			zap.Duration("sleep", d),
			zap.Time("until", now.Add(d)),
		)
		if err := s.sleep(ctx, d); err != nil {
			break
		}
	}
	s.logger.Info("scheduler stopped", zap.Int64("cycles", s.cycles.Load()))
	return nil
}

// RunCycle runs every due watchdog in store order, then persists once. A
// failing watchdog never affects its siblings and no error is fatal.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	all := s.store.Watchdogs()
	report := CycleReport{StartedAt: s.clock.Now(), Watchdogs: len(all)}

	for _, w := range all {
		if ctx.Err() != nil {
			break
		}
		now := s.clock.Now()
		if !w.IsDue(now) {
			continue
		}
		report.Runs = append(report.Runs, s.runOne(ctx, w, now))
	}

	if err := s.store.Persist(); err != nil {
		report.PersistErr = err
		metrics.ObservePersist(metrics.ResultFailure)
		s.logger.Error("persist watchdogs failed", zap.Error(err))
	} else {
		metrics.ObservePersist(metrics.ResultSuccess)
	}

	report.FinishedAt = s.clock.Now()
	metrics.ObserveCycle(len(all), report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)
	s.lastCycle.Store(report.FinishedAt.UnixNano())
	s.cycles.Add(1)
	s.logger.Debug("cycle finished",
		zap.Int("watchdogs", report.Watchdogs),
		zap.Int("ran", len(report.Runs)),
		zap.Int("failed", report.Failed()),
	)
	return report
}

func (s *Scheduler) runOne(ctx context.Context, w *watchdog.Watchdog, now time.Time) RunOutcome {
	logger := s.logger.With(
		zap.String("watchdog_id", w.ID.String()),
		zap.String("watchdog", w.Name),
	)
	fresh, err := w.Run(ctx, now, s.fetcher, s.notifier)
	out := RunOutcome{WatchdogID: w.ID, NewAds: len(fresh), Err: err}

	switch {
	case errors.Is(err, watchdog.ErrFetch):
		metrics.ObserveRun(metrics.ResultFetchError, 0)
		logger.Error("watchdog run failed", zap.Error(err))
		return out
	case err != nil:
		metrics.ObserveRun(metrics.ResultNotifyError, len(fresh))
		logger.Error("watchdog run failed", zap.Error(err))
	default:
		metrics.ObserveRun(metrics.ResultSuccess, len(fresh))
	}

	if len(fresh) > 0 {
		logger.Info(fmt.Sprintf("found %d new ads for %s (%s)", len(fresh), w.OwnerEmail, w.SearchURL))
	} else {
		logger.Debug("no new ads", zap.String("url", w.SearchURL))
	}
	return out
}

// SleepDuration is the time until the earliest watchdog becomes due, never
// less than MinSleep. With no watchdogs it is MinSleep.
func (s *Scheduler) SleepDuration(now time.Time) time.Duration {
	all := s.store.Watchdogs()
	if len(all) == 0 {
		return s.cfg.MinSleep
	}
	earliest := all[0].NextRunAt(now)
	for _, w := range all[1:] {
		if next := w.NextRunAt(now); next.Before(earliest) {
			earliest = next
		}
	}
	return max(earliest.Sub(now), s.cfg.MinSleep)
}

// LastCycleAt returns when the most recent cycle finished.
func (s *Scheduler) LastCycleAt() (time.Time, bool) {
	nanos := s.lastCycle.Load()
	if nanos == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}

// Cycles returns how many cycles completed.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
