package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/haab-bank/customer-update-api/internal/dto"
	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/internal/service"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
	"github.com/haab-bank/customer-update-api/pkg/response"
)

type workflowService interface {
	CreateRequest(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims, meta service.RequestMeta) (*models.UpdateRequest, error)
	List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.UpdateRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error)
	StartReview(ctx context.Context, id string, actor *models.JWTClaims, meta service.RequestMeta) (*models.UpdateRequest, error)
	Approve(ctx context.Context, id string, payload dto.ApproveRequestPayload, actor *models.JWTClaims, meta service.RequestMeta) (*models.UpdateRequest, error)
	Reject(ctx context.Context, id string, payload dto.RejectRequestPayload, actor *models.JWTClaims, meta service.RequestMeta) (*models.UpdateRequest, error)
	Override(ctx context.Context, id string, payload dto.OverrideRequestPayload, actor *models.JWTClaims, meta service.RequestMeta) (*models.UpdateRequest, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims, meta service.RequestMeta) error
}

type summaryInvalidator interface {
	InvalidateSummaries(ctx context.Context)
}

// RequestHandler exposes REST endpoints for the update-request workflow.
type RequestHandler struct {
	service   workflowService
	summaries summaryInvalidator
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(service workflowService, summaries summaryInvalidator) *RequestHandler {
	return &RequestHandler{service: service, summaries: summaries}
}

// Create godoc
// @Summary Submit a customer update request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestPayload true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var payload dto.CreateRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.CreateRequest(c.Request.Context(), payload, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidate(c)
	response.JSON(c, http.StatusCreated, req, nil)
}

// List godoc
// @Summary List visible update requests
// @Tags Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Update type"
// @Param priority query string false "Priority"
// @Param search query string false "Customer name or request id"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.RequestQuery{
		Search: strings.TrimSpace(c.Query("search")),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			query.Status = append(query.Status, models.RequestStatus(strings.TrimSpace(part)))
		}
	}
	if raw := c.Query("type"); raw != "" {
		query.UpdateType = models.UpdateType(raw)
	}
	if raw := c.Query("priority"); raw != "" {
		query.Priority = models.Priority(raw)
	}
	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	query.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Fetch a single update request
// @Tags Requests
// @Produce json
// @Param id path string true "Request id"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// StartReview godoc
// @Summary Claim a pending request for review
// @Tags Requests
// @Produce json
// @Param id path string true "Request id"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/review [post]
func (h *RequestHandler) StartReview(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.StartReview(c.Request.Context(), c.Param("id"), claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidate(c)
	response.JSON(c, http.StatusOK, req, nil)
}

// Approve godoc
// @Summary Approve a request under review
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param payload body dto.ApproveRequestPayload false "Optional review notes"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *RequestHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.ApproveRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approval payload"))
			return
		}
	}
	req, err := h.service.Approve(c.Request.Context(), c.Param("id"), payload, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidate(c)
	response.JSON(c, http.StatusOK, req, nil)
}

// Reject godoc
// @Summary Reject a request under review
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param payload body dto.RejectRequestPayload true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.RejectRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rejection payload"))
		return
	}
	req, err := h.service.Reject(c.Request.Context(), c.Param("id"), payload, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidate(c)
	response.JSON(c, http.StatusOK, req, nil)
}

// Override godoc
// @Summary Admin override of any request field
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param payload body dto.OverrideRequestPayload true "Fields to override"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/override [post]
func (h *RequestHandler) Override(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.OverrideRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid override payload"))
		return
	}
	req, err := h.service.Override(c.Request.Context(), c.Param("id"), payload, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.invalidate(c)
	response.JSON(c, http.StatusOK, req, nil)
}

// Delete godoc
// @Summary Permanently remove a request
// @Tags Requests
// @Param id path string true "Request id"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	h.invalidate(c)
	response.NoContent(c)
}

func (h *RequestHandler) invalidate(c *gin.Context) {
	if h.summaries != nil {
		h.summaries.InvalidateSummaries(c.Request.Context())
	}
}
