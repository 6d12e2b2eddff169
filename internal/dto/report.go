package dto

import (
	"time"

	"github.com/haab-bank/customer-update-api/internal/models"
)

// SummaryResponse aggregates the actor's visible requests for dashboards.
type SummaryResponse struct {
	Counts      models.StatusCounts       `json:"counts"`
	ByType      map[models.UpdateType]int `json:"by_type"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// ExportRequest asks for an asynchronous CSV/PDF export of visible requests.
type ExportRequest struct {
	Format   models.ReportFormat    `json:"format" validate:"required,oneof=csv pdf"`
	Statuses []models.RequestStatus `json:"statuses"`
	From     *time.Time             `json:"from"`
	To       *time.Time             `json:"to"`
}

// ReportJobResponse acknowledges export submission.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes export progress and the download link once done.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"result_url,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
