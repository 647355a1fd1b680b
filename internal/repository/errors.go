package repository

import (
	"errors"
)

// ErrDuplicateRecord a compliance record already exists for the intake
// event. Returned when the unique constraint on intake_event_id fires;
// callers racing against each other treat it as success.
var ErrDuplicateRecord = errors.New("compliance record already exists for intake event")

// ErrNotFound the requested row does not exist.
var ErrNotFound = errors.New("record not found")
