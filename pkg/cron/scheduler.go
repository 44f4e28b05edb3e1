// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/subscription-tracker/pkg/metrics"
)

// DefaultRollForwardSpec runs the roll-forward daily at 2:00 AM.
const DefaultRollForwardSpec = "0 2 * * *"

const jobTimeout = 30 * time.Minute

// RollForwarder advances past-due next payment dates.
type RollForwarder interface {
	RollForwardDue(ctx context.Context) (int, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	roller  RollForwarder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewScheduler creates a new job scheduler. An empty spec uses
// DefaultRollForwardSpec.
func NewScheduler(roller RollForwarder, spec string, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	if spec == "" {
		spec = DefaultRollForwardSpec
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Scheduler{
		cron:    c,
		spec:    spec,
		roller:  roller,
		metrics: m,
		logger:  logger,
	}
}

// Start begins scheduled jobs. It fails on a malformed spec.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.rollForward)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("roll_forward_spec", s.spec),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs. The returned context is done
// once running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers the roll-forward synchronously and returns the number of
// subscriptions updated.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	return s.run(ctx)
}

func (s *Scheduler) rollForward() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.run(ctx); err != nil {
		s.logger.Error("next payment roll-forward failed", slog.Any("error", err))
	}
}

func (s *Scheduler) run(ctx context.Context) (int, error) {
	start := time.Now()
	s.logger.Info("starting next payment roll-forward")

	updated, err := s.roller.RollForwardDue(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.RollForwardUpdated.Add(float64(updated))

	s.logger.Info("next payment roll-forward completed",
		slog.Int("subscriptions_updated", updated),
		slog.Duration("duration", time.Since(start)),
	)
	return updated, nil
}
