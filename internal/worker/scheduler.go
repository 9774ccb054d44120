package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/config"
)

// Trainer retrains the demand model.
type Trainer interface {
	TrainModel(ctx context.Context) error
}

// TrainerFunc adapts a function to Trainer.
type TrainerFunc func(ctx context.Context) error

// TrainModel implements Trainer.
func (f TrainerFunc) TrainModel(ctx context.Context) error { return f(ctx) }

// SchedulerConfig holds configuration for the retraining scheduler.
type SchedulerConfig struct {
	// Spec is a seconds-first cron expression, e.g. "0 0 3 * * *".
	Spec string

	// Timeout bounds one training run.
	// Default: 30 minutes
	Timeout time.Duration

	Trainer Trainer
	Logger  zerolog.Logger
}

// Scheduler retrains the demand model on a cron schedule. Overlapping runs
// are skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	trainer Trainer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewScheduler parses the schedule and registers the retraining job.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := cronLogger{cfg.Logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		trainer: cfg.Trainer,
		timeout: timeout,
		logger:  cfg.Logger,
	}

	id, err := s.cron.AddFunc(cfg.Spec, func() { _ = s.Run(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("scheduling retraining %q: %w", cfg.Spec, err)
	}
	s.entry = id
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Time("next_run", s.Next()).Msg("retraining scheduler started")
}

// Stop stops the scheduler. The returned context is done once a running
// training job has finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info().Msg("retraining scheduler stopped")
	return ctx
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Run retrains once.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.trainer.TrainModel(ctx); err != nil {
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("scheduled retraining failed")
		return err
	}
	s.logger.Info().Dur("duration", time.Since(start)).Msg("scheduled retraining finished")
	return nil
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron " + msg)
}
