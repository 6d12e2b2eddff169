package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/haab-bank/customer-update-api/internal/models"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
)

type auditStore interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// AuditService exposes the append-only trail to administrators.
type AuditService struct {
	audits auditStore
	logger *zap.Logger
}

// NewAuditService constructs an AuditService.
func NewAuditService(audits auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{audits: audits, logger: logger}
}

// List returns audit entries newest first. Admin only.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter, actor *models.JWTClaims) ([]models.AuditLog, int, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, 0, appErrors.ErrForbidden
	}
	entries, total, err := s.audits.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list audit logs")
	}
	return entries, total, nil
}
