package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"medtrack-compliance/internal/classifier"
	"medtrack-compliance/internal/models"
	"medtrack-compliance/internal/repository"
)

// Classifier produces a compliance outcome for one intake event.
type Classifier interface {
	Classify(ctx context.Context, scheduled, actual time.Time, action string) classifier.Outcome
}

// ComplianceStore the subset of the compliance repository the pipeline
// writes through.
type ComplianceStore interface {
	Exists(ctx context.Context, intakeEventID string) (bool, error)
	Create(ctx context.Context, record *models.ComplianceRecord) error
}

// AlertNotifier receives records worth alerting caregivers about.
// Implementations must not block the pipeline.
type AlertNotifier interface {
	NotifyNonCompliance(record *models.ComplianceRecord)
}

// alertConfidenceThreshold only high-confidence non-compliance triggers an
// alert; fallback-rule verdicts at 0.8 stay below it.
const alertConfidenceThreshold = 0.8

// ErrEventIncomplete the intake event lacks the fields classification
// needs. Returned by callers that require a complete event up front.
var ErrEventIncomplete = errors.New("intake event is incomplete")

// Processor the classify-and-store step shared by the change listener and
// the reconciliation sweeper. Whichever caller gets its insert in first
// wins; the other observes ErrDuplicateRecord and discards its result.
type Processor struct {
	classifier Classifier
	store      ComplianceStore
	notifier   AlertNotifier // optional
	logger     *zap.Logger
}

// NewProcessor creates a processor. notifier may be nil.
func NewProcessor(cls Classifier, store ComplianceStore, notifier AlertNotifier, logger *zap.Logger) *Processor {
	return &Processor{
		classifier: cls,
		store:      store,
		notifier:   notifier,
		logger:     logger,
	}
}

// Process classifies one intake event and persists the result.
//
// Returns created=true when this call produced the record. created=false
// with nil error means the event was already classified (or lost the insert
// race, which is the same thing), or is incomplete. A non-nil error means
// the store write failed for an unrelated reason; the event stays
// unclassified and the next sweep retries it.
func (p *Processor) Process(ctx context.Context, event *models.IntakeEvent) (bool, error) {
	if event == nil {
		return false, fmt.Errorf("event is required")
	}
	if !event.IsComplete() {
		p.logger.Debug("Skipping incomplete intake event",
			zap.String("event_id", event.EventID),
		)
		return false, nil
	}

	exists, err := p.store.Exists(ctx, event.EventID)
	if err != nil {
		return false, fmt.Errorf("failed to check existing record: %w", err)
	}
	if exists {
		p.logger.Debug("Intake event already classified, skipping",
			zap.String("event_id", event.EventID),
		)
		return false, nil
	}

	start := time.Now()
	outcome := p.classifier.Classify(ctx, *event.ScheduledTime, *event.ActualTime, *event.Action)

	record := &models.ComplianceRecord{
		IntakeEventID: event.EventID,
		PatientID:     event.PatientID,
		Verdict:       outcome.Verdict,
		Confidence:    outcome.Confidence,
		Method:        outcome.Method,
		ScheduledTime: *event.ScheduledTime,
		ActualTime:    *event.ActualTime,
		Action:        *event.Action,
		CreatedAt:     time.Now().UTC(),
	}

	if err := p.store.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateRecord) {
			// The other trigger won the race while our classifier call was
			// in flight. Its record stands; ours is discarded.
			p.logger.Debug("Lost classification race, record already created",
				zap.String("event_id", event.EventID),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to store compliance record: %w", err)
	}

	p.logger.Info("Intake event classified",
		zap.String("event_id", event.EventID),
		zap.String("patient_id", event.PatientID),
		zap.String("verdict", record.Verdict),
		zap.Float64("confidence", record.Confidence),
		zap.String("method", record.Method),
		zap.Duration("inference_time", time.Since(start)),
	)

	if p.notifier != nil &&
		record.Verdict == models.VerdictNonCompliant &&
		record.Confidence > alertConfidenceThreshold {
		p.notifier.NotifyNonCompliance(record)
	}

	return true, nil
}
