package models

import (
	"encoding/json"
	"time"
)

// Audit action labels recorded against workflow resources.
const (
	AuditActionRequestCreated    = "Request Created"
	AuditActionRequestUpdated    = "Request Updated"
	AuditActionRequestApproved   = "Request Approved"
	AuditActionRequestRejected   = "Request Rejected"
	AuditActionRequestOverridden = "Request Overridden"
	AuditActionRequestDeleted    = "Request Deleted"
	AuditActionUserCreated       = "User Created"
	AuditActionUserUpdated       = "User Updated"
	AuditActionUserDeactivated   = "User Deactivated"
	AuditActionLogin             = "Login"
	AuditActionLogout            = "Logout"
	AuditActionPasswordChanged   = "Password Changed"
)

// AuditLog is an append-only trail record. Rows are never updated or deleted.
type AuditLog struct {
	ID           string    `db:"id" json:"id"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details      []byte    `db:"details" json:"details,omitempty"`
	IPAddress    string    `db:"ip_address" json:"ip_address"`
	UserAgent    string    `db:"user_agent" json:"user_agent"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Typed detail payloads, one per action kind, so each action's recorded
// shape is fixed at compile time instead of an open key-value bag.

// RequestCreatedDetails records the shape of a new request.
type RequestCreatedDetails struct {
	CustomerName string     `json:"customer_name"`
	UpdateType   UpdateType `json:"update_type"`
	Priority     Priority   `json:"priority"`
	FieldCount   int        `json:"field_count"`
}

// RequestTransitionDetails records a status change.
type RequestTransitionDetails struct {
	From RequestStatus `json:"from"`
	To   RequestStatus `json:"to"`
}

// RequestApprovedDetails records the approval outcome.
type RequestApprovedDetails struct {
	Notes string `json:"notes,omitempty"`
}

// RequestRejectedDetails records the rejection outcome.
type RequestRejectedDetails struct {
	Reason string `json:"reason"`
}

// RequestOverriddenDetails records an explicit admin override diff.
type RequestOverriddenDetails struct {
	Changes map[string]interface{} `json:"changes"`
}

// RequestDeletedDetails records which request an admin removed.
type RequestDeletedDetails struct {
	Status RequestStatus `json:"status"`
}

// UserChangeDetails records user-management actions.
type UserChangeDetails struct {
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// SessionDetails records login/logout outcomes.
type SessionDetails struct {
	Outcome string `json:"outcome"`
}

// MarshalDetails encodes a typed detail payload for storage.
// A nil payload yields an empty JSON object.
func MarshalDetails(v interface{}) []byte {
	if v == nil {
		return []byte("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

// AuditFilter constrains audit listing queries.
type AuditFilter struct {
	UserID       string
	ResourceType string
	ResourceID   string
	Action       string
	Limit        int
	Offset       int
}
