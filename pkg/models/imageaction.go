package models

import (
	"time"
)

// ImageAction records one processed photo: the stored input reference and,
// once processing succeeds, the full list of worker output references.
// Failed attempts keep an empty output list as an audit trail.
type ImageAction struct {
	ID         string    `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	InputRef   string    `json:"input_ref" db:"input_ref"`
	OutputRefs []string  `json:"output_refs" db:"output_refs"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// JobRun records one completed sweep of a background job
type JobRun struct {
	ID      int64     `json:"id" db:"id"`
	JobName string    `json:"job_name" db:"job_name"`
	RanAt   time.Time `json:"ran_at" db:"ran_at"`
	Status  string    `json:"status" db:"status"`
	Details string    `json:"details" db:"details"`
}

// ErrorRecord captures an orchestration failure for later inspection
type ErrorRecord struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	Details   string    `json:"details" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
