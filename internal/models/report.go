package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReportFormat selects the rendered export format.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus tracks an export job lifecycle.
type ReportStatus string

const (
	ReportStatusQueued   ReportStatus = "queued"
	ReportStatusRunning  ReportStatus = "running"
	ReportStatusFinished ReportStatus = "finished"
	ReportStatusFailed   ReportStatus = "failed"
)

// ReportJobParams captures the scope of an export run.
// Stored as a JSONB column on the job row.
type ReportJobParams struct {
	Format   ReportFormat  `json:"format"`
	Statuses []RequestStatus `json:"statuses,omitempty"`
	From     *time.Time    `json:"from,omitempty"`
	To       *time.Time    `json:"to,omitempty"`
}

// Value implements driver.Valuer.
func (p ReportJobParams) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *ReportJobParams) Scan(src interface{}) error {
	if src == nil {
		*p = ReportJobParams{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("report job params: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, p)
}

// SystemMetrics is a point-in-time aggregation of runtime counters exposed
// to administrators.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// ReportJob is a persisted request-export job.
type ReportJob struct {
	ID           string          `db:"id" json:"id"`
	Params       ReportJobParams `db:"params" json:"params"`
	Status       ReportStatus    `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`

	// Role captured at submission time so the worker reproduces the
	// submitter's visibility scope when it runs.
	CreatedByRole UserRole   `db:"created_by_role" json:"created_by_role"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}
