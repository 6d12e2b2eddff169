package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/haab-bank/customer-update-api/internal/models"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
	"github.com/haab-bank/customer-update-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, filter models.AuditFilter, actor *models.JWTClaims) ([]models.AuditLog, int, error)
}

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service auditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List godoc
// @Summary List audit log entries
// @Tags Audit
// @Produce json
// @Param user_id query string false "Acting user id"
// @Param resource_type query string false "Resource type"
// @Param resource_id query string false "Resource id"
// @Param action query string false "Action label"
// @Success 200 {object} response.Envelope
// @Router /audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := models.AuditFilter{
		UserID:       strings.TrimSpace(c.Query("user_id")),
		ResourceType: strings.TrimSpace(c.Query("resource_type")),
		ResourceID:   strings.TrimSpace(c.Query("resource_id")),
		Action:       strings.TrimSpace(c.Query("action")),
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, total, err := h.service.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil, map[string]interface{}{"total": total})
}
