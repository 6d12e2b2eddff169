package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/haab-bank/customer-update-api/internal/dto"
	"github.com/haab-bank/customer-update-api/internal/models"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
	"github.com/haab-bank/customer-update-api/pkg/response"
)

type reportService interface {
	Summary(ctx context.Context, actor *models.JWTClaims) (*dto.SummaryResponse, error)
	CreateExport(ctx context.Context, req dto.ExportRequest, actor *models.JWTClaims) (*dto.ReportJobResponse, error)
	GetStatus(ctx context.Context, jobID string, actor *models.JWTClaims) (*dto.ReportStatusResponse, error)
}

type downloadResolver interface {
	ResolveDownload(token string) (*os.File, string, error)
}

// ReportHandler exposes dashboard summaries and export jobs.
type ReportHandler struct {
	service   reportService
	downloads downloadResolver
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService, downloads downloadResolver) *ReportHandler {
	return &ReportHandler{service: service, downloads: downloads}
}

// Summary godoc
// @Summary Status and type counts over the caller's visible requests
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	summary, err := h.service.Summary(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// CreateExport godoc
// @Summary Queue an asynchronous CSV/PDF export
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Export parameters"
// @Success 202 {object} response.Envelope
// @Router /reports/export [post]
func (h *ReportHandler) CreateExport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.ExportRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export payload"))
		return
	}
	job, err := h.service.CreateExport(c.Request.Context(), payload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// GetStatus godoc
// @Summary Poll export job progress
// @Tags Reports
// @Produce json
// @Param id path string true "Job id"
// @Success 200 {object} response.Envelope
// @Router /reports/jobs/{id} [get]
func (h *ReportHandler) GetStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Download streams a finished export file for a valid signed token.
// The token itself authorizes access, so the route sits outside the JWT
// group and works from a plain browser link.
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Param("token")
	file, relPath, err := h.downloads.ResolveDownload(token)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export not found or link expired"))
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(relPath))
	c.File(file.Name())
}
