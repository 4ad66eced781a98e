// internal/model/failure_record.go
package model

import (
	"strings"
	"time"
)

type FailureStatus string

const (
	FailureStatusPending  FailureStatus = "PENDING"
	FailureStatusResolved FailureStatus = "RESOLVED"
	FailureStatusArchived FailureStatus = "ARCHIVED"
)

// ParseFailureStatus accepts any casing; ok is false for unknown values.
func ParseFailureStatus(s string) (FailureStatus, bool) {
	switch FailureStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case FailureStatusPending:
		return FailureStatusPending, true
	case FailureStatusResolved:
		return FailureStatusResolved, true
	case FailureStatusArchived:
		return FailureStatusArchived, true
	}
	return "", false
}

// FailureRecord is the durable trace of a report request that exhausted its
// retries.
type FailureRecord struct {
	ID              int64         `db:"id" json:"id"`
	PropertyName    string        `db:"property_name" json:"property_name"`
	Year            *int          `db:"year" json:"year,omitempty"`
	ErrorMessage    string        `db:"error_message" json:"error_message"`
	FailedTimestamp time.Time     `db:"failed_timestamp" json:"failed_timestamp"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	Status          FailureStatus `db:"status" json:"status"`
	Resolution      *string       `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt      *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

// FailureRecordFilter narrows a failure record listing. Zero values are
// ignored.
type FailureRecordFilter struct {
	Status       FailureStatus
	PropertyName string
	Year         *int
	CreatedFrom  time.Time
	CreatedTo    time.Time
}
