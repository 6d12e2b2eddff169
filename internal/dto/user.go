package dto

import (
	"github.com/haab-bank/customer-update-api/internal/models"
)

// CreateUserPayload is the admin body for provisioning a user.
type CreateUserPayload struct {
	Username   string          `json:"username" validate:"required,min=3,max=64"`
	Password   string          `json:"password" validate:"required,min=6"`
	FullName   string          `json:"full_name" validate:"required"`
	Email      string          `json:"email" validate:"required,email"`
	Role       models.UserRole `json:"role" validate:"required"`
	Department string          `json:"department"`
}

// UpdateUserPayload is the admin body for editing a user. Role is immutable
// after creation, so it is deliberately absent.
type UpdateUserPayload struct {
	FullName   *string            `json:"full_name,omitempty"`
	Email      *string            `json:"email,omitempty" validate:"omitempty,email"`
	Department *string            `json:"department,omitempty"`
	Status     *models.UserStatus `json:"status,omitempty"`
}

// UserQuery mirrors the supported admin listing filters.
type UserQuery struct {
	Role      models.UserRole
	Status    models.UserStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
