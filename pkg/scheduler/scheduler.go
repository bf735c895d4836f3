// Package scheduler runs due tasks on a cron schedule inside the server.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bttk/calendar-assistant/pkg/assistant"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrSchedule is returned for an invalid cron spec.
var ErrSchedule = errors.New("invalid schedule")

// Runner runs the tasks that are due at now.
type Runner interface {
	RunDue(ctx context.Context, now time.Time) ([]assistant.UserRun, error)
}

// Scheduler calls Runner.RunDue on a cron spec. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec, which may use cron descriptors such as "@every 1m".
func New(spec string, runner Runner, logger zerolog.Logger) (*Scheduler, error) {
	logger = logger.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	s := &Scheduler{
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %q: %w", ErrSchedule, spec, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info().Msg("scheduler started")
	s.cron.Start()
}

// Stop cancels a running tick and waits for it to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) tick() {
	start := time.Now()
	runs, err := s.runner.RunDue(s.ctx, start)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled run failed")
		return
	}
	failed := lo.CountBy(runs, func(r assistant.UserRun) bool { return r.Error != "" })
	s.logger.Info().
		Int("users", len(runs)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("scheduled run")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
