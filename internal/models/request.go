package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RequestStatus tracks an update request through its review lifecycle.
type RequestStatus string

const (
	StatusDraft    RequestStatus = "draft"
	StatusPending  RequestStatus = "pending"
	StatusInReview RequestStatus = "in_review"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is defined from the status.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether the status is one of the lifecycle states.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusInReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// UpdateType categorises which customer record section is being changed.
type UpdateType string

const (
	UpdateTypePersonalInfo UpdateType = "personal_info"
	UpdateTypeContactInfo  UpdateType = "contact_info"
	UpdateTypeAddress      UpdateType = "address"
	UpdateTypeEmployment   UpdateType = "employment"
)

// FieldsByType enumerates the permitted field names per update type.
var FieldsByType = map[UpdateType][]string{
	UpdateTypePersonalInfo: {"firstName", "lastName", "dateOfBirth", "idNumber", "nationality"},
	UpdateTypeContactInfo:  {"email", "homePhone", "workPhone", "mobilePhone"},
	UpdateTypeAddress:      {"street", "city", "state", "zipCode", "country"},
	UpdateTypeEmployment:   {"employer", "jobTitle", "workAddress", "annualIncome", "employmentStatus"},
}

// Valid reports whether the update type is known.
func (t UpdateType) Valid() bool {
	_, ok := FieldsByType[t]
	return ok
}

// Priority orders requests in supervisor queues.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is one of the known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// FieldValues maps customer-record field names to their requested new values.
// Stored as a JSONB column.
type FieldValues map[string]string

// Value implements driver.Valuer.
func (f FieldValues) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *FieldValues) Scan(src interface{}) error {
	if src == nil {
		*f = FieldValues{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("fields_to_update: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, f)
}

// Attachment is a supporting document embedded on the request record.
// Data carries a self-contained base64 data URI.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// AttachmentList is the ordered attachment sequence stored as a JSONB column.
type AttachmentList []Attachment

// Value implements driver.Valuer.
func (a AttachmentList) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *AttachmentList) Scan(src interface{}) error {
	if src == nil {
		*a = AttachmentList{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("attachments: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, a)
}

// UpdateRequest is a customer-record change request moving through review.
type UpdateRequest struct {
	ID                   string         `db:"id" json:"id"`
	CustomerName         string         `db:"customer_name" json:"customer_name"`
	AccountNumber        string         `db:"account_number" json:"account_number"`
	UpdateType           UpdateType     `db:"update_type" json:"update_type"`
	FieldsToUpdate       FieldValues    `db:"fields_to_update" json:"fields_to_update"`
	CustomerInstruction  string         `db:"customer_instruction" json:"customer_instruction"`
	InitiatorID          string         `db:"initiator_id" json:"initiator_id"`
	AssignedSupervisorID *string        `db:"assigned_supervisor_id" json:"assigned_supervisor_id,omitempty"`
	Status               RequestStatus  `db:"status" json:"status"`
	Priority             Priority       `db:"priority" json:"priority"`
	ReviewNotes          *string        `db:"review_notes" json:"review_notes,omitempty"`
	RejectionReason      *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Attachments          AttachmentList `db:"attachments" json:"attachments"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`

	// Read-time join projections, never persisted.
	Initiator          *UserSummary `db:"-" json:"initiator,omitempty"`
	AssignedSupervisor *UserSummary `db:"-" json:"assigned_supervisor,omitempty"`
}

// RequestFilter constrains request listing queries.
type RequestFilter struct {
	InitiatorID  string
	SupervisorID string
	Status       []RequestStatus
	UpdateType   UpdateType
	Priority     Priority
	Search       string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Limit        int
	Offset       int
}

// StatusCounts aggregates requests per lifecycle state for dashboards.
type StatusCounts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	InReview int `json:"in_review"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}
