package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"medtrack-compliance/internal/models"
)

// pqUniqueViolation PostgreSQL error code for unique constraint violations.
const pqUniqueViolation = "23505"

// ComplianceRepository persistence for compliance records. Records are
// insert-only; the unique constraint on intake_event_id is the atomic
// check-and-insert that settles the listener/sweeper race.
type ComplianceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewComplianceRepository creates the repository.
func NewComplianceRepository(db *sql.DB, logger *zap.Logger) *ComplianceRepository {
	return &ComplianceRepository{
		db:     db,
		logger: logger,
	}
}

// Exists reports whether a record for the intake event already exists.
// Cheap pre-check only: Create remains the authoritative gate.
func (r *ComplianceRepository) Exists(ctx context.Context, intakeEventID string) (bool, error) {
	if intakeEventID == "" {
		return false, fmt.Errorf("intake_event_id is required")
	}

	query := `SELECT EXISTS (SELECT 1 FROM compliance_records WHERE intake_event_id = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, intakeEventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check compliance record existence: %w", err)
	}

	return exists, nil
}

// Create inserts a new compliance record. Returns ErrDuplicateRecord when a
// record for the same intake event already exists; the row is never updated.
func (r *ComplianceRepository) Create(ctx context.Context, record *models.ComplianceRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.IntakeEventID == "" {
		return fmt.Errorf("intake_event_id is required")
	}
	if record.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}

	if record.RecordID == "" {
		record.RecordID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO compliance_records (
			record_id,
			intake_event_id,
			patient_id,
			verdict,
			confidence,
			method,
			scheduled_time,
			actual_time,
			action,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		record.RecordID,
		record.IntakeEventID,
		record.PatientID,
		record.Verdict,
		record.Confidence,
		record.Method,
		record.ScheduledTime,
		record.ActualTime,
		record.Action,
		record.CreatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("intake event %s: %w", record.IntakeEventID, ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to create compliance record: %w", err)
	}

	return nil
}

// GetByEventID fetches the record for one intake event.
func (r *ComplianceRepository) GetByEventID(ctx context.Context, intakeEventID string) (*models.ComplianceRecord, error) {
	if intakeEventID == "" {
		return nil, fmt.Errorf("intake_event_id is required")
	}

	query := `
		SELECT
			record_id,
			intake_event_id,
			patient_id,
			verdict,
			confidence,
			method,
			scheduled_time,
			actual_time,
			action,
			created_at
		FROM compliance_records
		WHERE intake_event_id = $1
	`

	var record models.ComplianceRecord
	err := r.db.QueryRowContext(ctx, query, intakeEventID).Scan(
		&record.RecordID,
		&record.IntakeEventID,
		&record.PatientID,
		&record.Verdict,
		&record.Confidence,
		&record.Method,
		&record.ScheduledTime,
		&record.ActualTime,
		&record.Action,
		&record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("compliance record for event %s: %w", intakeEventID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get compliance record: %w", err)
	}

	return &record, nil
}

// FindUnclassified returns complete intake events that have no compliance
// record yet, ordered by event_id. The sweeper keeps finding an event here
// until its classification lands, so store failures are retried naturally.
func (r *ComplianceRepository) FindUnclassified(ctx context.Context) ([]models.IntakeEvent, error) {
	query := `
		SELECT
			e.event_id,
			e.patient_id,
			e.scheduled_time,
			e.actual_time,
			e.action,
			e.temperature,
			e.humidity,
			e.servo_slots,
			e.created_at
		FROM intake_events e
		LEFT JOIN compliance_records c ON c.intake_event_id = e.event_id
		WHERE c.record_id IS NULL
		  AND e.scheduled_time IS NOT NULL
		  AND e.actual_time IS NOT NULL
		  AND e.action IS NOT NULL
		ORDER BY e.event_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unclassified events: %w", err)
	}
	defer rows.Close()

	var events []models.IntakeEvent
	for rows.Next() {
		event, err := scanIntakeEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intake event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unclassified events: %w", err)
	}

	return events, nil
}

// AggregateByPatient computes the compliance summary for one patient over
// the last `days` days: counts, percentage, qualitative bucket, and a
// per-day breakdown.
func (r *ComplianceRepository) AggregateByPatient(ctx context.Context, patientID string, days int) (*models.ComplianceSummary, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if days <= 0 {
		days = 7
	}

	startDate := time.Now().UTC().AddDate(0, 0, -days)

	query := `
		SELECT verdict, created_at
		FROM compliance_records
		WHERE patient_id = $1
		  AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query compliance records: %w", err)
	}
	defer rows.Close()

	summary := &models.ComplianceSummary{
		PatientID:  patientID,
		Days:       days,
		DailyStats: make(map[string]models.DailyStat),
	}

	for rows.Next() {
		var verdict string
		var createdAt time.Time
		if err := rows.Scan(&verdict, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan compliance record: %w", err)
		}

		summary.Total++
		day := createdAt.UTC().Format("2006-01-02")
		stat := summary.DailyStats[day]

		if verdict == models.VerdictCompliant {
			summary.Compliant++
			stat.Compliant++
		} else {
			summary.NonCompliant++
			stat.NonCompliant++
		}
		summary.DailyStats[day] = stat
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate compliance records: %w", err)
	}

	if summary.Total > 0 {
		summary.PercentCompliant = float64(summary.Compliant) / float64(summary.Total) * 100
	}
	summary.Bucket = bucketFor(summary.PercentCompliant)

	return summary, nil
}

// bucketFor maps a compliance percentage to the qualitative bucket.
// A window with no records counts as 0% and lands in "needs-attention":
// no classified intakes is itself a reason to look at the patient.
func bucketFor(percent float64) string {
	switch {
	case percent >= 80:
		return models.BucketGood
	case percent >= 50:
		return models.BucketFair
	default:
		return models.BucketNeedsAttention
	}
}

// ListByPatient returns the patient's compliance records newest-first with
// limit/offset pagination, plus the total row count.
func (r *ComplianceRepository) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]models.ComplianceRecord, int, error) {
	if patientID == "" {
		return nil, 0, fmt.Errorf("patient_id is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM compliance_records WHERE patient_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count compliance records: %w", err)
	}

	query := `
		SELECT
			record_id,
			intake_event_id,
			patient_id,
			verdict,
			confidence,
			method,
			scheduled_time,
			actual_time,
			action,
			created_at
		FROM compliance_records
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list compliance records: %w", err)
	}
	defer rows.Close()

	var records []models.ComplianceRecord
	for rows.Next() {
		var record models.ComplianceRecord
		err := rows.Scan(
			&record.RecordID,
			&record.IntakeEventID,
			&record.PatientID,
			&record.Verdict,
			&record.Confidence,
			&record.Method,
			&record.ScheduledTime,
			&record.ActualTime,
			&record.Action,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan compliance record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate compliance records: %w", err)
	}

	return records, total, nil
}
