// internal/model/report_request.go
package model

import (
	"fmt"
	"strings"
)

type ReportType string

const (
	ReportTypePDF ReportType = "pdf"
	ReportTypeCSV ReportType = "csv"
)

// ParseReportType maps an external code to a ReportType. Unknown or empty
// codes fall back to PDF.
func ParseReportType(code string) ReportType {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case string(ReportTypeCSV):
		return ReportTypeCSV
	default:
		return ReportTypePDF
	}
}

func (t ReportType) Code() string {
	return string(t)
}

// ReportRequest is the payload published on report.exchange. The retry
// counter travels as a message header and is never part of this struct.
type ReportRequest struct {
	PropertyName string `json:"property_name"`
	Year         int    `json:"year"`
	UserEmail    string `json:"user_email"`
	UserID       int64  `json:"user_id"`
	ReportType   string `json:"report_type,omitempty"`
}

// Type resolves the requested format, defaulting to PDF.
func (r *ReportRequest) Type() ReportType {
	return ParseReportType(r.ReportType)
}

// DedupKey identifies requests that would produce the same email.
func (r *ReportRequest) DedupKey() string {
	return fmt.Sprintf("%s|%d|%s|%s",
		strings.ToLower(strings.TrimSpace(r.PropertyName)),
		r.Year,
		r.Type(),
		strings.ToLower(strings.TrimSpace(r.UserEmail)),
	)
}
