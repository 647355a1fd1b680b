package models

import (
	"time"
)

// Compliance verdicts.
const (
	VerdictCompliant    = "compliant"
	VerdictNonCompliant = "non-compliant"
)

// Classification methods.
const (
	MethodExternalClassifier = "external-classifier"
	MethodFallbackRule       = "fallback-rule"
)

// ComplianceRecord the classification outcome for exactly one intake event
// (compliance_records table). Append-only: never mutated or deleted.
// UNIQUE (intake_event_id) is what resolves the listener/sweeper race.
type ComplianceRecord struct {
	RecordID      string    `json:"record_id" db:"record_id"`
	IntakeEventID string    `json:"intake_event_id" db:"intake_event_id"`
	PatientID     string    `json:"patient_id" db:"patient_id"` // denormalized for per-patient queries
	Verdict       string    `json:"verdict" db:"verdict"`       // compliant, non-compliant
	Confidence    float64   `json:"confidence" db:"confidence"` // [0,1]
	Method        string    `json:"method" db:"method"`         // external-classifier, fallback-rule
	ScheduledTime time.Time `json:"scheduled_time" db:"scheduled_time"`
	ActualTime    time.Time `json:"actual_time" db:"actual_time"`
	Action        string    `json:"action" db:"action"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ComplianceSummary per-patient aggregate over a time window.
type ComplianceSummary struct {
	PatientID        string               `json:"patient_id"`
	Days             int                  `json:"days"`
	Total            int                  `json:"total"`
	Compliant        int                  `json:"compliant"`
	NonCompliant     int                  `json:"non_compliant"`
	PercentCompliant float64              `json:"percent_compliant"`
	Bucket           string               `json:"bucket"` // good, fair, needs-attention
	DailyStats       map[string]DailyStat `json:"daily_stats"`
}

// DailyStat per-day compliant/non-compliant counts within a summary.
type DailyStat struct {
	Compliant    int `json:"compliant"`
	NonCompliant int `json:"non_compliant"`
}

// Summary buckets.
const (
	BucketGood           = "good"            // >= 80% compliant
	BucketFair           = "fair"            // >= 50% compliant
	BucketNeedsAttention = "needs-attention" // < 50% compliant
)
