package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrAlreadyStarted = errors.New("scheduler_already_started")

type cronState struct {
	cron *cron.Cron
	id   cron.EntryID
}

// cronLogger routes robfig/cron diagnostics through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Start registers the daily pass on the configured schedule.
func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	logger := cronLogger{log: s.log.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	state := &cronState{cron: c}
	id, err := c.AddFunc(s.cfg.Cron, func() {
		// Prev holds the tick being served
		if prev := c.Entry(state.id).Prev; !prev.IsZero() {
			s.metrics.ObserveRunLoopLag(time.Since(prev))
		}
		s.pass(ctx)
	})
	if err != nil {
		cancel()
		return err
	}
	state.id = id
	s.cron = state
	s.cancel = cancel
	c.Start()

	s.log.Info("scheduler.started",
		zap.String("schedule", s.cfg.Cron),
		zap.String("timezone", s.cfg.Location.String()),
		zap.Time("next_run", c.Entry(id).Next),
	)
	if s.cfg.RunOnStart {
		go s.pass(ctx)
	}
	return nil
}

// Stop cancels running passes and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	state, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if state == nil {
		return nil
	}

	cancel()
	done := state.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler.stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	summary, err := s.RunOnce(ctx, time.Time{})
	if err != nil {
		s.log.Error("scheduler.pass.failed",
			zap.String("pass_id", summary.RunID),
			zap.Error(err),
		)
	}
}
