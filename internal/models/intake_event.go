package models

import (
	"time"
)

// Intake actions recorded by the dispenser ingestion path.
const (
	ActionAccepted = "accepted"
	ActionRejected = "rejected"
)

// IntakeEvent one observed medication-taking attempt (intake_events table).
// Written by the ingestion path; immutable here.
type IntakeEvent struct {
	EventID       string     `json:"event_id" db:"event_id"`
	PatientID     string     `json:"patient_id" db:"patient_id"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty" db:"scheduled_time"`
	ActualTime    *time.Time `json:"actual_time,omitempty" db:"actual_time"`
	Action        *string    `json:"action,omitempty" db:"action"` // accepted, rejected
	Temperature   *float64   `json:"temperature,omitempty" db:"temperature"`
	Humidity      *float64   `json:"humidity,omitempty" db:"humidity"`
	ServoSlots    string     `json:"servo_slots" db:"servo_slots"` // JSONB array of activated dispenser slots
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// IsComplete reports whether the event carries the three fields the
// classifier needs. Partial events are left for the sweeper (or never
// classified, if they stay incomplete).
func (e *IntakeEvent) IsComplete() bool {
	return e.ScheduledTime != nil && e.ActualTime != nil && e.Action != nil && *e.Action != ""
}
