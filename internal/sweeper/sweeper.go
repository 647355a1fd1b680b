package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"medtrack-compliance/internal/config"
	"medtrack-compliance/internal/models"
	"medtrack-compliance/internal/monitor"
)

// ErrSweepInProgress another sweep holds the coordinator flag. A skipped
// tick is fine; the next one retries.
var ErrSweepInProgress = errors.New("sweep already in progress")

// UnclassifiedFinder yields complete intake events without a compliance
// record.
type UnclassifiedFinder interface {
	FindUnclassified(ctx context.Context) ([]models.IntakeEvent, error)
}

// Result counters for one sweep.
type Result struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Sweeper the reconciliation pass: finds intake events the listener missed
// (downtime, restarts, events completed late) and catches them up through
// the same classify-and-store step. Runs on a timer and on manual trigger.
type Sweeper struct {
	config      *config.Config
	finder      UnclassifiedFinder
	processor   monitor.EventProcessor
	coordinator *monitor.Coordinator
	logger      *zap.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(
	cfg *config.Config,
	finder UnclassifiedFinder,
	processor monitor.EventProcessor,
	coordinator *monitor.Coordinator,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		config:      cfg,
		finder:      finder,
		processor:   processor,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Start runs sweeps on a fixed interval until ctx is cancelled. The first
// sweep runs after a short startup delay so the service finishes wiring
// before the initial catch-up. Blocks; run in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Compliance sweeper started",
		zap.Duration("interval", s.config.Sweep.Interval),
		zap.Duration("startup_delay", s.config.Sweep.StartupDelay),
	)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(s.config.Sweep.StartupDelay):
		s.runScheduled(ctx)
	}

	ticker := time.NewTicker(s.config.Sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Compliance sweeper stopped")
			return nil
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Sweeper) runScheduled(ctx context.Context) {
	result, err := s.RunSweep(ctx)
	if err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Info("Skipping scheduled sweep, previous one still running")
			return
		}
		s.logger.Error("Scheduled sweep failed", zap.Error(err))
		return
	}

	if result.Processed > 0 || result.Errors > 0 {
		s.logger.Info("Scheduled sweep complete",
			zap.Int("processed", result.Processed),
			zap.Int("skipped", result.Skipped),
			zap.Int("errors", result.Errors),
		)
	}
}

// RunSweep performs one reconciliation pass. Idempotent: with no new intake
// events a second run finds nothing to do. Returns ErrSweepInProgress when
// another sweep holds the flag.
//
// Per-event failures are counted and logged but never abort the batch, and
// the in-progress flag is always cleared.
func (s *Sweeper) RunSweep(ctx context.Context) (Result, error) {
	if !s.coordinator.TryBegin() {
		return Result{}, ErrSweepInProgress
	}
	defer s.coordinator.End()

	events, err := s.finder.FindUnclassified(ctx)
	if err != nil {
		return Result{}, err
	}

	if len(events) == 0 {
		s.logger.Debug("No unclassified intake events")
		return Result{}, nil
	}

	s.logger.Info("Sweeping unclassified intake events",
		zap.Int("count", len(events)),
	)

	var result Result
	for i := range events {
		if ctx.Err() != nil {
			s.logger.Warn("Sweep cancelled mid-batch",
				zap.Int("remaining", len(events)-i),
			)
			return result, nil
		}

		created, err := s.processor.Process(ctx, &events[i])
		switch {
		case err != nil:
			// Left unclassified; the next sweep finds it again.
			result.Errors++
			s.logger.Error("Failed to sweep intake event",
				zap.String("event_id", events[i].EventID),
				zap.Error(err),
			)
		case created:
			result.Processed++
		default:
			// Already classified, usually because the listener won.
			result.Skipped++
		}

		// Pace the batch so it doesn't burst the external classifier.
		if i < len(events)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(s.config.Sweep.EventPacing):
			}
		}
	}

	return result, nil
}
