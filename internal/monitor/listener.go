package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"medtrack-compliance/internal/config"
	"medtrack-compliance/internal/models"
	"medtrack-compliance/internal/redisx"
)

// Listener states.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateRetrying State = "retrying"
)

// EventProcessor handles one observed intake event.
type EventProcessor interface {
	Process(ctx context.Context, event *models.IntakeEvent) (bool, error)
}

// Listener tails the intake event stream and drives each new event through
// the classify-and-store step as it arrives. The ingestion path XADDs the
// full event payload; a consumer group delivers each append at least once,
// in order, to this single active consumer.
//
// The listener runs for the lifetime of the process: stream errors put it
// into a retry state and it re-subscribes after a fixed delay, forever.
// Nothing here is ever fatal to the host.
type Listener struct {
	config    *config.Config
	client    *redisx.Client
	processor EventProcessor
	logger    *zap.Logger

	readBlock time.Duration

	mu    sync.RWMutex
	state State
}

// NewListener creates a listener. Call Run to start consuming.
func NewListener(cfg *config.Config, client *redisx.Client, processor EventProcessor, logger *zap.Logger) *Listener {
	return &Listener{
		config:    cfg,
		client:    client,
		processor: processor,
		logger:    logger,
		readBlock: 5 * time.Second,
		state:     StateStopped,
	}
}

// State returns the current listener state for status reporting.
func (l *Listener) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run consumes the stream until ctx is cancelled. It blocks; run it in its
// own goroutine. Always returns nil: errors are handled by retrying.
func (l *Listener) Run(ctx context.Context) error {
	stream := l.config.Stream.Name
	group := l.config.Stream.Group
	consumer := l.config.Stream.Consumer

	l.logger.Info("Compliance listener starting",
		zap.String("stream", stream),
		zap.String("group", group),
		zap.String("consumer", consumer),
	)

	for {
		if ctx.Err() != nil {
			l.setState(StateStopped)
			l.logger.Info("Compliance listener stopped")
			return nil
		}

		l.setState(StateStarting)

		if err := redisx.EnsureConsumerGroup(ctx, l.client, stream, group); err != nil {
			l.logger.Error("Failed to create consumer group, retrying",
				zap.Error(err),
				zap.Duration("retry_delay", l.config.Listener.RetryDelay),
			)
			l.setState(StateRetrying)
			l.waitRetry(ctx)
			continue
		}

		l.setState(StateActive)
		l.logger.Info("Compliance listener active")

		l.readLoop(ctx, stream, group, consumer)

		// readLoop only returns on error or cancellation. On error, wait
		// and re-subscribe; the consumer group resumes from the last ack.
		if ctx.Err() == nil {
			l.setState(StateRetrying)
			l.waitRetry(ctx)
		}
	}
}

// readLoop reads and handles entries until the subscription breaks or the
// context is cancelled.
func (l *Listener) readLoop(ctx context.Context, stream, group, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := redisx.ReadGroup(ctx, l.client, stream, group, consumer, 16, l.readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("Intake stream read failed",
				zap.Error(err),
				zap.Duration("retry_delay", l.config.Listener.RetryDelay),
			)
			return
		}

		for _, msg := range messages {
			l.handleMessage(ctx, msg)

			// Ack even when handling failed: the sweeper's completeness
			// query is the retry path for unclassified events, and an
			// unacked entry would just be redelivered into the same error.
			if err := redisx.Ack(ctx, l.client, stream, group, msg.ID); err != nil {
				l.logger.Warn("Failed to ack stream entry",
					zap.String("entry_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// handleMessage decodes one stream entry and processes the event. Malformed
// or incomplete payloads are skipped; the sweeper picks them up from the
// database once complete.
func (l *Listener) handleMessage(ctx context.Context, msg redisx.StreamMessage) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		l.logger.Warn("Stream entry without data field, skipping",
			zap.String("entry_id", msg.ID),
		)
		return
	}

	var event models.IntakeEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		l.logger.Warn("Failed to decode intake event payload, skipping",
			zap.String("entry_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	if event.EventID == "" {
		l.logger.Warn("Intake event payload missing event_id, skipping",
			zap.String("entry_id", msg.ID),
		)
		return
	}

	if !event.IsComplete() {
		l.logger.Debug("Intake event incomplete, leaving for sweeper",
			zap.String("event_id", event.EventID),
		)
		return
	}

	l.logger.Info("New intake event observed",
		zap.String("event_id", event.EventID),
		zap.String("patient_id", event.PatientID),
		zap.String("action", *event.Action),
	)

	if _, err := l.processor.Process(ctx, &event); err != nil {
		// Logged and dropped here; the event stays unclassified in the
		// database and the next sweep retries it.
		l.logger.Error("Failed to process intake event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}

// waitRetry sleeps for the retry delay, or less if ctx is cancelled.
func (l *Listener) waitRetry(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(l.config.Listener.RetryDelay):
	}
}
