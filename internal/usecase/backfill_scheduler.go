package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"StoryRisk/pkg/cache"
	"StoryRisk/pkg/logger"
)

const sweepLockKey = "backfill:sweep"

// BackfillScheduler runs Estimator.Sweep on a cron schedule. When a lock
// cache is set only one instance sweeps per tick.
type BackfillScheduler struct {
	estimator *Estimator
	schedule  cron.Schedule
	loc       *time.Location
	locker    cache.Locker
	lockTTL   time.Duration
	log       *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBackfillScheduler parses a standard 5-field cron expression evaluated in tz.
// locker may be nil.
func NewBackfillScheduler(estimator *Estimator, expr, tz string, locker cache.Locker, log *logger.Logger) (*BackfillScheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse backfill schedule %q: %w", expr, err)
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load backfill timezone %q: %w", tz, err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BackfillScheduler{
		estimator: estimator,
		schedule:  sched,
		loc:       loc,
		locker:    locker,
		lockTTL:   10 * time.Minute,
		log:       log.With(logger.String("component", "backfill_scheduler")),
	}, nil
}

// Next returns the first run time after t.
func (s *BackfillScheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Start launches the loop. Calling Start twice is a no-op.
func (s *BackfillScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for a running sweep to finish.
func (s *BackfillScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *BackfillScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := s.Next(time.Now())
		s.log.Debug("next backfill sweep", logger.String("at", next.Format(time.RFC3339)))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.RunOnce(ctx)
	}
}

// RunOnce performs one sweep, skipping it when another instance holds the lock.
func (s *BackfillScheduler) RunOnce(ctx context.Context) (SweepReport, bool) {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			s.log.Warn("backfill lock failed", logger.Error(err))
			return SweepReport{}, false
		}
		if !ok {
			s.log.Debug("backfill sweep held elsewhere")
			return SweepReport{}, false
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey); err != nil {
				s.log.Warn("backfill unlock failed", logger.Error(err))
			}
		}()
	}

	start := time.Now()
	rep, err := s.estimator.Sweep(ctx)
	if err != nil {
		s.log.Error("backfill sweep failed", logger.Error(err), logger.Int("scanned", rep.Scanned))
		return rep, true
	}
	s.log.Info("backfill sweep done",
		logger.Int("scanned", rep.Scanned),
		logger.Int("repaired", rep.Repaired),
		logger.Int("skipped", rep.Skipped),
		logger.Int("failed", rep.Failed),
		logger.Duration("took", time.Since(start)),
	)
	return rep, true
}
