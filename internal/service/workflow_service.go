package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/haab-bank/customer-update-api/internal/dto"
	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/internal/repository"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
)

var accountNumberPattern = regexp.MustCompile(`^\d{10}$`)

type requestStore interface {
	NextID(ctx context.Context) (string, error)
	Create(ctx context.Context, req *models.UpdateRequest) error
	GetByID(ctx context.Context, id string) (*models.UpdateRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.UpdateRequest, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
	Update(ctx context.Context, req *models.UpdateRequest) error
	Delete(ctx context.Context, id string) error
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type auditRecorder interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// RequestMeta carries client metadata attached to audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AttachmentPolicy bounds uploaded attachment payloads.
type AttachmentPolicy struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// WorkflowService owns the update-request lifecycle: creation, review
// transitions, admin overrides and role-scoped reads. Audit entries are
// written after the record write; a failed audit write is logged and does
// not roll the operation back.
type WorkflowService struct {
	requests requestStore
	users    userDirectory
	audits   auditRecorder
	validate *validator.Validate
	policy   AttachmentPolicy
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewWorkflowService constructs a WorkflowService.
func NewWorkflowService(requests requestStore, users userDirectory, audits auditRecorder, validate *validator.Validate, policy AttachmentPolicy, metrics *MetricsService, logger *zap.Logger) *WorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxFileSizeBytes <= 0 {
		policy.MaxFileSizeBytes = 5 * 1024 * 1024
	}
	if len(policy.AllowedMIMEs) == 0 {
		policy.AllowedMIMEs = []string{"image/jpeg", "image/png", "image/gif", "application/pdf"}
	}
	return &WorkflowService{
		requests: requests,
		users:    users,
		audits:   audits,
		validate: validate,
		policy:   policy,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateRequest validates and persists a new update request. Submission goes
// straight to pending; draft is only an in-memory construction state.
func (s *WorkflowService) CreateRequest(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims, meta RequestMeta) (*models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	customerName := strings.TrimSpace(payload.CustomerName)
	if customerName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "customer name is required")
	}
	if !accountNumberPattern.MatchString(payload.AccountNumber) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "account number must be exactly 10 digits")
	}
	if !payload.UpdateType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown update type %q", payload.UpdateType))
	}
	fields, err := normalizeFieldValues(payload.UpdateType, payload.FieldsToUpdate)
	if err != nil {
		return nil, err
	}
	instruction := strings.TrimSpace(payload.CustomerInstruction)
	if instruction == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "customer instruction is required")
	}
	priority := payload.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", payload.Priority))
	}
	if err := s.validateAttachments(payload.Attachments); err != nil {
		return nil, err
	}
	if err := s.resolveSupervisor(ctx, payload.AssignedSupervisorID); err != nil {
		return nil, err
	}

	id, err := s.requests.NextID(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "allocate request id")
	}

	supervisorID := payload.AssignedSupervisorID
	now := time.Now().UTC()
	req := &models.UpdateRequest{
		ID:                   id,
		CustomerName:         customerName,
		AccountNumber:        payload.AccountNumber,
		UpdateType:           payload.UpdateType,
		FieldsToUpdate:       fields,
		CustomerInstruction:  instruction,
		InitiatorID:          actor.UserID,
		AssignedSupervisorID: &supervisorID,
		Status:               models.StatusPending,
		Priority:             priority,
		Attachments:          payload.Attachments,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create update request")
	}
	s.metrics.RecordTransition(models.StatusPending)

	s.emitAudit(ctx, actor, meta, models.AuditActionRequestCreated, req.ID, models.MarshalDetails(models.RequestCreatedDetails{
		CustomerName: req.CustomerName,
		UpdateType:   req.UpdateType,
		Priority:     req.Priority,
		FieldCount:   len(req.FieldsToUpdate),
	}))
	s.enrich(ctx, req)
	return req, nil
}

// StartReview moves a pending request into in_review. Only the assigned
// supervisor or an admin may claim the review.
func (s *WorkflowService) StartReview(ctx context.Context, id string, actor *models.JWTClaims, meta RequestMeta) (*models.UpdateRequest, error) {
	req, err := s.visibleRequest(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := requireReviewer(req, actor); err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, req, models.StatusPending, models.StatusInReview, repository.TransitionParams{}); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor, meta, models.AuditActionRequestUpdated, req.ID, models.MarshalDetails(models.RequestTransitionDetails{
		From: models.StatusPending,
		To:   models.StatusInReview,
	}))
	s.enrich(ctx, req)
	return req, nil
}

// Approve finalizes an in_review request with optional review notes.
func (s *WorkflowService) Approve(ctx context.Context, id string, payload dto.ApproveRequestPayload, actor *models.JWTClaims, meta RequestMeta) (*models.UpdateRequest, error) {
	req, err := s.visibleRequest(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := requireReviewer(req, actor); err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(payload.Notes)
	params := repository.TransitionParams{}
	if notes != "" {
		params.ReviewNotes = &notes
	}
	if err := s.applyTransition(ctx, req, models.StatusInReview, models.StatusApproved, params); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor, meta, models.AuditActionRequestApproved, req.ID, models.MarshalDetails(models.RequestApprovedDetails{Notes: notes}))
	s.enrich(ctx, req)
	return req, nil
}

// Reject finalizes an in_review request. A non-empty reason is mandatory.
func (s *WorkflowService) Reject(ctx context.Context, id string, payload dto.RejectRequestPayload, actor *models.JWTClaims, meta RequestMeta) (*models.UpdateRequest, error) {
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	req, err := s.visibleRequest(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := requireReviewer(req, actor); err != nil {
		return nil, err
	}
	if err := s.applyTransition(ctx, req, models.StatusInReview, models.StatusRejected, repository.TransitionParams{RejectionReason: &reason}); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor, meta, models.AuditActionRequestRejected, req.ID, models.MarshalDetails(models.RequestRejectedDetails{Reason: reason}))
	s.enrich(ctx, req)
	return req, nil
}

// Override lets an admin edit a request regardless of status, including
// forcing a status. The applied diff is recorded in the audit trail.
func (s *WorkflowService) Override(ctx context.Context, id string, payload dto.OverrideRequestPayload, actor *models.JWTClaims, meta RequestMeta) (*models.UpdateRequest, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if payload.Status != nil {
		if !payload.Status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", *payload.Status))
		}
		req.Status = *payload.Status
		changes["status"] = *payload.Status
	}
	if payload.Priority != nil {
		if !payload.Priority.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", *payload.Priority))
		}
		req.Priority = *payload.Priority
		changes["priority"] = *payload.Priority
	}
	if payload.AssignedSupervisorID != nil {
		if err := s.resolveSupervisor(ctx, *payload.AssignedSupervisorID); err != nil {
			return nil, err
		}
		req.AssignedSupervisorID = payload.AssignedSupervisorID
		changes["assigned_supervisor_id"] = *payload.AssignedSupervisorID
	}
	if payload.FieldsToUpdate != nil {
		fields, err := normalizeFieldValues(req.UpdateType, payload.FieldsToUpdate)
		if err != nil {
			return nil, err
		}
		req.FieldsToUpdate = fields
		changes["fields_to_update"] = fields
	}
	if payload.CustomerInstruction != nil {
		instruction := strings.TrimSpace(*payload.CustomerInstruction)
		if instruction == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "customer instruction cannot be blank")
		}
		req.CustomerInstruction = instruction
		changes["customer_instruction"] = instruction
	}
	if payload.ReviewNotes != nil {
		notes := strings.TrimSpace(*payload.ReviewNotes)
		req.ReviewNotes = &notes
		changes["review_notes"] = notes
	}
	if len(changes) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to override")
	}

	req.UpdatedAt = time.Now().UTC()
	if err := s.requests.Update(ctx, req); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "update request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "override update request")
	}

	s.emitAudit(ctx, actor, meta, models.AuditActionRequestOverridden, req.ID, models.MarshalDetails(models.RequestOverriddenDetails{Changes: changes}))
	s.enrich(ctx, req)
	return req, nil
}

// Delete removes a request permanently. Admin only.
func (s *WorkflowService) Delete(ctx context.Context, id string, actor *models.JWTClaims, meta RequestMeta) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requests.Delete(ctx, req.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "update request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "delete update request")
	}
	s.emitAudit(ctx, actor, meta, models.AuditActionRequestDeleted, req.ID, models.MarshalDetails(models.RequestDeletedDetails{Status: req.Status}))
	return nil
}

// Get returns a single request if it is visible to the actor. Requests
// outside the actor's scope are reported as not found.
func (s *WorkflowService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	req, err := s.visibleRequest(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, req)
	return req, nil
}

// List returns requests scoped to the actor's role: initiators see their
// own, supervisors see their assigned queue, admins see everything.
func (s *WorkflowService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{
		Status:     query.Status,
		UpdateType: query.UpdateType,
		Priority:   query.Priority,
		Search:     strings.TrimSpace(query.Search),
		Limit:      query.Limit,
		Offset:     query.Offset,
	}
	switch actor.Role {
	case models.RoleInitiator:
		filter.InitiatorID = actor.UserID
	case models.RoleSupervisor:
		filter.SupervisorID = actor.UserID
	case models.RoleAdmin:
	default:
		return nil, appErrors.ErrForbidden
	}

	items, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list update requests")
	}
	s.enrichAll(ctx, items)
	return items, nil
}

func (s *WorkflowService) loadRequest(ctx context.Context, id string) (*models.UpdateRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "update request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load update request")
	}
	return req, nil
}

// visibleRequest loads a request and enforces role scoping. Out-of-scope
// requests surface as not found so their existence is not leaked.
func (s *WorkflowService) visibleRequest(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleInitiator:
		if req.InitiatorID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "update request not found")
		}
	case models.RoleSupervisor:
		if req.AssignedSupervisorID == nil || *req.AssignedSupervisorID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "update request not found")
		}
	default:
		return nil, appErrors.ErrForbidden
	}
	return req, nil
}

func requireReviewer(req *models.UpdateRequest, actor *models.JWTClaims) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role == models.RoleSupervisor && req.AssignedSupervisorID != nil && *req.AssignedSupervisorID == actor.UserID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the assigned supervisor may review this request")
}

// applyTransition enforces the state machine and pushes the change through
// the status-preconditioned update. A concurrent transition loses the race
// and surfaces as a conflict.
func (s *WorkflowService) applyTransition(ctx context.Context, req *models.UpdateRequest, from, to models.RequestStatus, params repository.TransitionParams) error {
	if req.Status.Terminal() {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("request is already %s", req.Status))
	}
	if req.Status != from {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("request must be %s to move to %s, currently %s", from, to, req.Status))
	}
	params.ID = req.ID
	params.FromStatus = from
	params.ToStatus = to
	if err := s.requests.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "request state changed, reload and retry")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "transition update request")
	}
	s.metrics.RecordTransition(to)
	req.Status = to
	if params.ReviewNotes != nil {
		req.ReviewNotes = params.ReviewNotes
	}
	if params.RejectionReason != nil {
		req.RejectionReason = params.RejectionReason
	}
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *WorkflowService) resolveSupervisor(ctx context.Context, id string) error {
	supervisor, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "assigned supervisor does not exist")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "resolve supervisor")
	}
	if supervisor.Role != models.RoleSupervisor {
		return appErrors.Clone(appErrors.ErrValidation, "assigned user is not a supervisor")
	}
	if !supervisor.Active() {
		return appErrors.Clone(appErrors.ErrValidation, "assigned supervisor is inactive")
	}
	return nil
}

func (s *WorkflowService) validateAttachments(attachments models.AttachmentList) error {
	for _, att := range attachments {
		if strings.TrimSpace(att.Name) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "attachment name is required")
		}
		if !s.mimeAllowed(att.Type) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("attachment type %q is not allowed", att.Type))
		}
		if decodedAttachmentSize(att.Data) > s.policy.MaxFileSizeBytes {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("attachment %s exceeds the %d byte limit", att.Name, s.policy.MaxFileSizeBytes))
		}
	}
	return nil
}

func (s *WorkflowService) mimeAllowed(mime string) bool {
	for _, allowed := range s.policy.AllowedMIMEs {
		if strings.EqualFold(mime, allowed) {
			return true
		}
	}
	return false
}

// decodedAttachmentSize estimates the byte size of a base64 data URI payload.
func decodedAttachmentSize(data string) int64 {
	if idx := strings.Index(data, ","); idx >= 0 {
		data = data[idx+1:]
	}
	return int64(base64.StdEncoding.DecodedLen(len(data)))
}

// normalizeFieldValues trims values, rejects keys outside the update type's
// field set and requires at least one populated field.
func normalizeFieldValues(updateType models.UpdateType, values map[string]string) (models.FieldValues, error) {
	allowed := models.FieldsByType[updateType]
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		allowedSet[f] = struct{}{}
	}

	normalized := models.FieldValues{}
	for key, value := range values {
		if _, ok := allowedSet[key]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q does not belong to update type %s", key, updateType))
		}
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		normalized[key] = trimmed
	}
	if len(normalized) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one field value is required")
	}
	return normalized, nil
}

func (s *WorkflowService) enrich(ctx context.Context, req *models.UpdateRequest) {
	if req == nil {
		return
	}
	items := []models.UpdateRequest{*req}
	s.enrichAll(ctx, items)
	req.Initiator = items[0].Initiator
	req.AssignedSupervisor = items[0].AssignedSupervisor
}

// enrichAll attaches initiator and supervisor summaries. Lookup failures are
// logged and the requests returned without the projections.
func (s *WorkflowService) enrichAll(ctx context.Context, items []models.UpdateRequest) {
	if len(items) == 0 {
		return
	}
	idSet := map[string]struct{}{}
	for _, item := range items {
		idSet[item.InitiatorID] = struct{}{}
		if item.AssignedSupervisorID != nil {
			idSet[*item.AssignedSupervisorID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to resolve request participants", zap.Error(err))
		return
	}
	byID := make(map[string]models.UserSummary, len(users))
	for _, u := range users {
		byID[u.ID] = u.Summary()
	}
	for i := range items {
		if summary, ok := byID[items[i].InitiatorID]; ok {
			items[i].Initiator = &summary
		}
		if items[i].AssignedSupervisorID != nil {
			if summary, ok := byID[*items[i].AssignedSupervisorID]; ok {
				items[i].AssignedSupervisor = &summary
			}
		}
	}
}

func (s *WorkflowService) emitAudit(ctx context.Context, actor *models.JWTClaims, meta RequestMeta, action, resourceID string, details []byte) {
	if s.audits == nil {
		return
	}
	userID := actor.UserID
	entry := &models.AuditLog{
		UserID:       &userID,
		Action:       action,
		ResourceType: "update_request",
		ResourceID:   &resourceID,
		Details:      details,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record update request audit log",
			zap.String("action", action),
			zap.String("request_id", resourceID),
			zap.Error(err))
	}
}
