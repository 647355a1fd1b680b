package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"medtrack-compliance/internal/models"
)

// IntakeEventRepository read-only access to intake events. The ingestion
// path owns writes; this service never mutates the event log.
type IntakeEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIntakeEventRepository creates the repository.
func NewIntakeEventRepository(db *sql.DB, logger *zap.Logger) *IntakeEventRepository {
	return &IntakeEventRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID fetches a single intake event.
func (r *IntakeEventRepository) GetByID(ctx context.Context, eventID string) (*models.IntakeEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT
			event_id,
			patient_id,
			scheduled_time,
			actual_time,
			action,
			temperature,
			humidity,
			servo_slots,
			created_at
		FROM intake_events
		WHERE event_id = $1
	`

	event, err := scanIntakeEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("intake event %s: %w", eventID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get intake event: %w", err)
	}

	return event, nil
}

// rowScanner lets scanIntakeEvent work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntakeEvent(row rowScanner) (*models.IntakeEvent, error) {
	var event models.IntakeEvent
	var scheduledTime, actualTime sql.NullTime
	var action sql.NullString
	var temperature, humidity sql.NullFloat64
	var servoSlots []byte

	err := row.Scan(
		&event.EventID,
		&event.PatientID,
		&scheduledTime,
		&actualTime,
		&action,
		&temperature,
		&humidity,
		&servoSlots,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduledTime.Valid {
		event.ScheduledTime = &scheduledTime.Time
	}
	if actualTime.Valid {
		event.ActualTime = &actualTime.Time
	}
	if action.Valid {
		event.Action = &action.String
	}
	if temperature.Valid {
		event.Temperature = &temperature.Float64
	}
	if humidity.Valid {
		event.Humidity = &humidity.Float64
	}
	if len(servoSlots) > 0 {
		event.ServoSlots = string(servoSlots)
	} else {
		event.ServoSlots = "[]"
	}

	return &event, nil
}
