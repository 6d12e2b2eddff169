package dto

import (
	"github.com/haab-bank/customer-update-api/internal/models"
)

// CreateRequestPayload is the submission body for a new update request.
type CreateRequestPayload struct {
	CustomerName         string              `json:"customer_name" validate:"required"`
	AccountNumber        string              `json:"account_number" validate:"required"`
	UpdateType           models.UpdateType   `json:"update_type" validate:"required"`
	FieldsToUpdate       map[string]string   `json:"fields_to_update" validate:"required"`
	CustomerInstruction  string              `json:"customer_instruction" validate:"required"`
	AssignedSupervisorID string              `json:"assigned_supervisor_id" validate:"required"`
	Priority             models.Priority     `json:"priority"`
	Attachments          []models.Attachment `json:"attachments"`
}

// ApproveRequestPayload carries the optional reviewer notes.
type ApproveRequestPayload struct {
	Notes string `json:"notes"`
}

// RejectRequestPayload carries the mandatory rejection reason.
type RejectRequestPayload struct {
	Reason string `json:"reason"`
}

// OverrideRequestPayload is the explicit admin override body. Only the
// populated fields are applied; the diff is recorded verbatim in the audit
// trail.
type OverrideRequestPayload struct {
	Status               *models.RequestStatus `json:"status,omitempty"`
	Priority             *models.Priority      `json:"priority,omitempty"`
	AssignedSupervisorID *string               `json:"assigned_supervisor_id,omitempty"`
	FieldsToUpdate       map[string]string     `json:"fields_to_update,omitempty"`
	CustomerInstruction  *string               `json:"customer_instruction,omitempty"`
	ReviewNotes          *string               `json:"review_notes,omitempty"`
}

// RequestQuery mirrors the supported listing filters.
type RequestQuery struct {
	Status     []models.RequestStatus
	UpdateType models.UpdateType
	Priority   models.Priority
	Search     string
	Limit      int
	Offset     int
}
