package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haab-bank/customer-update-api/internal/dto"
	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/internal/repository"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
)

type requestStoreStub struct {
	requests map[string]*models.UpdateRequest
	filter   models.RequestFilter
	seq      int
}

func newRequestStoreStub() *requestStoreStub {
	return &requestStoreStub{requests: make(map[string]*models.UpdateRequest)}
}

func (s *requestStoreStub) NextID(ctx context.Context) (string, error) {
	s.seq++
	return fmt.Sprintf("REQ-%06d", s.seq), nil
}

func (s *requestStoreStub) Create(ctx context.Context, req *models.UpdateRequest) error {
	s.requests[req.ID] = req
	return nil
}

func (s *requestStoreStub) GetByID(ctx context.Context, id string) (*models.UpdateRequest, error) {
	if req, ok := s.requests[id]; ok {
		copy := *req
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *requestStoreStub) List(ctx context.Context, filter models.RequestFilter) ([]models.UpdateRequest, error) {
	s.filter = filter
	result := make([]models.UpdateRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if filter.InitiatorID != "" && req.InitiatorID != filter.InitiatorID {
			continue
		}
		if filter.SupervisorID != "" && (req.AssignedSupervisorID == nil || *req.AssignedSupervisorID != filter.SupervisorID) {
			continue
		}
		result = append(result, *req)
	}
	return result, nil
}

func (s *requestStoreStub) Transition(ctx context.Context, params repository.TransitionParams) error {
	req, ok := s.requests[params.ID]
	if !ok || req.Status != params.FromStatus {
		return sql.ErrNoRows
	}
	req.Status = params.ToStatus
	if params.ReviewNotes != nil {
		req.ReviewNotes = params.ReviewNotes
	}
	if params.RejectionReason != nil {
		req.RejectionReason = params.RejectionReason
	}
	return nil
}

func (s *requestStoreStub) Update(ctx context.Context, req *models.UpdateRequest) error {
	if _, ok := s.requests[req.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *req
	s.requests[req.ID] = &copy
	return nil
}

func (s *requestStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.requests[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.requests, id)
	return nil
}

type userDirectoryStub struct {
	users map[string]*models.User
}

func newUserDirectoryStub(users ...*models.User) *userDirectoryStub {
	stub := &userDirectoryStub{users: make(map[string]*models.User)}
	for _, u := range users {
		stub.users[u.ID] = u
	}
	return stub
}

func (s *userDirectoryStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userDirectoryStub) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var result []models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			result = append(result, *u)
		}
	}
	return result, nil
}

type auditRecorderStub struct {
	entries []*models.AuditLog
}

func (s *auditRecorderStub) Create(ctx context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func activeSupervisor(id string) *models.User {
	return &models.User{ID: id, FullName: "Sam Supervisor", Role: models.RoleSupervisor, Status: models.UserStatusActive}
}

func initiatorClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleInitiator}
}

func supervisorClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleSupervisor}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func validCreatePayload(supervisorID string) dto.CreateRequestPayload {
	return dto.CreateRequestPayload{
		CustomerName:         "Jane Doe",
		AccountNumber:        "1234567890",
		UpdateType:           models.UpdateTypeContactInfo,
		FieldsToUpdate:       map[string]string{"email": "jane@example.com"},
		CustomerInstruction:  "Customer called to update email",
		AssignedSupervisorID: supervisorID,
		Priority:             models.PriorityHigh,
	}
}

func newWorkflowFixture(t *testing.T, users ...*models.User) (*WorkflowService, *requestStoreStub, *auditRecorderStub) {
	t.Helper()
	store := newRequestStoreStub()
	audit := &auditRecorderStub{}
	svc := NewWorkflowService(store, newUserDirectoryStub(users...), audit, nil, AttachmentPolicy{}, nil, nil)
	return svc, store, audit
}

func TestWorkflowCreateRequest(t *testing.T) {
	svc, store, audit := newWorkflowFixture(t, activeSupervisor("sup-1"))

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, "REQ-000001", req.ID)
	require.Equal(t, models.StatusPending, req.Status)
	require.Equal(t, "init-1", req.InitiatorID)
	require.NotNil(t, req.AssignedSupervisorID)
	require.Equal(t, "sup-1", *req.AssignedSupervisorID)
	require.Len(t, store.requests, 1)

	require.Len(t, audit.entries, 1)
	require.Equal(t, models.AuditActionRequestCreated, audit.entries[0].Action)
	require.Equal(t, "10.0.0.1", audit.entries[0].IPAddress)
}

func TestWorkflowCreateRequestValidation(t *testing.T) {
	svc, store, audit := newWorkflowFixture(t, activeSupervisor("sup-1"))
	actor := initiatorClaims("init-1")

	cases := []struct {
		name   string
		mutate func(*dto.CreateRequestPayload)
	}{
		{"short account number", func(p *dto.CreateRequestPayload) { p.AccountNumber = "12345" }},
		{"letters in account number", func(p *dto.CreateRequestPayload) { p.AccountNumber = "12345678ab" }},
		{"blank customer name", func(p *dto.CreateRequestPayload) { p.CustomerName = "   " }},
		{"unknown update type", func(p *dto.CreateRequestPayload) { p.UpdateType = "passport" }},
		{"field outside type set", func(p *dto.CreateRequestPayload) {
			p.FieldsToUpdate = map[string]string{"street": "Main St 1"}
		}},
		{"all fields whitespace", func(p *dto.CreateRequestPayload) {
			p.FieldsToUpdate = map[string]string{"email": "   "}
		}},
		{"blank instruction", func(p *dto.CreateRequestPayload) { p.CustomerInstruction = " " }},
		{"unknown priority", func(p *dto.CreateRequestPayload) { p.Priority = "urgent" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := validCreatePayload("sup-1")
			tc.mutate(&payload)
			_, err := svc.CreateRequest(context.Background(), payload, actor, RequestMeta{})
			require.Error(t, err)
			require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
	// nothing persisted, nothing audited
	require.Empty(t, store.requests)
	require.Empty(t, audit.entries)
}

func TestWorkflowCreateRequestSupervisorChecks(t *testing.T) {
	inactive := activeSupervisor("sup-off")
	inactive.Status = models.UserStatusInactive
	notSupervisor := &models.User{ID: "init-2", Role: models.RoleInitiator, Status: models.UserStatusActive}
	svc, _, _ := newWorkflowFixture(t, inactive, notSupervisor)
	actor := initiatorClaims("init-1")

	_, err := svc.CreateRequest(context.Background(), validCreatePayload("missing"), actor, RequestMeta{})
	require.Error(t, err)

	_, err = svc.CreateRequest(context.Background(), validCreatePayload("sup-off"), actor, RequestMeta{})
	require.Error(t, err)

	_, err = svc.CreateRequest(context.Background(), validCreatePayload("init-2"), actor, RequestMeta{})
	require.Error(t, err)
}

func TestWorkflowCreateRequestAttachmentLimits(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t, activeSupervisor("sup-1"))
	actor := initiatorClaims("init-1")

	payload := validCreatePayload("sup-1")
	payload.Attachments = []models.Attachment{{Name: "scan.exe", Type: "application/octet-stream", Data: "data:application/octet-stream;base64,AAAA"}}
	_, err := svc.CreateRequest(context.Background(), payload, actor, RequestMeta{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not allowed")

	payload = validCreatePayload("sup-1")
	payload.Attachments = []models.Attachment{{Name: "id.png", Type: "image/png", Data: "data:image/png;base64,iVBORw0KGgo="}}
	_, err = svc.CreateRequest(context.Background(), payload, actor, RequestMeta{})
	require.NoError(t, err)
}

func TestWorkflowFullApprovalPath(t *testing.T) {
	svc, _, audit := newWorkflowFixture(t, activeSupervisor("sup-1"))
	supervisor := supervisorClaims("sup-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)

	req, err = svc.StartReview(context.Background(), req.ID, supervisor, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.StatusInReview, req.Status)

	req, err = svc.Approve(context.Background(), req.ID, dto.ApproveRequestPayload{Notes: "verified with branch"}, supervisor, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, req.Status)
	require.NotNil(t, req.ReviewNotes)
	require.Equal(t, "verified with branch", *req.ReviewNotes)

	// create + start review + approve
	require.Len(t, audit.entries, 3)
	require.Equal(t, models.AuditActionRequestApproved, audit.entries[2].Action)
}

func TestWorkflowRejectRequiresReason(t *testing.T) {
	svc, store, audit := newWorkflowFixture(t, activeSupervisor("sup-1"))
	supervisor := supervisorClaims("sup-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)
	_, err = svc.StartReview(context.Background(), req.ID, supervisor, RequestMeta{})
	require.NoError(t, err)
	audits := len(audit.entries)

	_, err = svc.Reject(context.Background(), req.ID, dto.RejectRequestPayload{Reason: "   "}, supervisor, RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.StatusInReview, store.requests[req.ID].Status)
	require.Len(t, audit.entries, audits)

	rejected, err := svc.Reject(context.Background(), req.ID, dto.RejectRequestPayload{Reason: "ID document expired"}, supervisor, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	require.Equal(t, models.AuditActionRequestRejected, audit.entries[len(audit.entries)-1].Action)
}

func TestWorkflowApproveSkippingReviewConflicts(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t, activeSupervisor("sup-1"))
	supervisor := supervisorClaims("sup-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), req.ID, dto.ApproveRequestPayload{}, supervisor, RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestWorkflowTerminalStatesNeverTransition(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, activeSupervisor("sup-1"))
	supervisor := supervisorClaims("sup-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)
	_, err = svc.StartReview(context.Background(), req.ID, supervisor, RequestMeta{})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), req.ID, dto.ApproveRequestPayload{}, supervisor, RequestMeta{})
	require.NoError(t, err)

	for _, attempt := range []func() error{
		func() error { _, err := svc.StartReview(context.Background(), req.ID, supervisor, RequestMeta{}); return err },
		func() error {
			_, err := svc.Approve(context.Background(), req.ID, dto.ApproveRequestPayload{}, supervisor, RequestMeta{})
			return err
		},
		func() error {
			_, err := svc.Reject(context.Background(), req.ID, dto.RejectRequestPayload{Reason: "late"}, supervisor, RequestMeta{})
			return err
		},
	} {
		err := attempt()
		require.Error(t, err)
		require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	}
	require.Equal(t, models.StatusApproved, store.requests[req.ID].Status)
}

func TestWorkflowLostTransitionRaceIsConflict(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, activeSupervisor("sup-1"))
	supervisor := supervisorClaims("sup-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)

	// Another actor moves the row between load and update.
	loaded, err := svc.Get(context.Background(), req.ID, supervisor)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, loaded.Status)
	store.requests[req.ID].Status = models.StatusInReview

	_, err = svc.StartReview(context.Background(), req.ID, supervisor, RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestWorkflowVisibilityScoping(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t, activeSupervisor("sup-1"), activeSupervisor("sup-2"))

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)

	// Owner and assigned supervisor see it, admin sees everything.
	_, err = svc.Get(context.Background(), req.ID, initiatorClaims("init-1"))
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), req.ID, supervisorClaims("sup-1"))
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), req.ID, adminClaims("adm-1"))
	require.NoError(t, err)

	// Everyone else gets not-found, never forbidden: existence is not leaked.
	for _, claims := range []*models.JWTClaims{initiatorClaims("init-2"), supervisorClaims("sup-2")} {
		_, err = svc.Get(context.Background(), req.ID, claims)
		require.Error(t, err)
		require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	}
}

func TestWorkflowListScopesByRole(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, activeSupervisor("sup-1"))

	_, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)
	_, err = svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-2"), RequestMeta{})
	require.NoError(t, err)

	items, err := svc.List(context.Background(), dto.RequestQuery{}, initiatorClaims("init-1"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "init-1", store.filter.InitiatorID)

	items, err = svc.List(context.Background(), dto.RequestQuery{}, supervisorClaims("sup-1"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "sup-1", store.filter.SupervisorID)

	items, err = svc.List(context.Background(), dto.RequestQuery{}, adminClaims("adm-1"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Empty(t, store.filter.InitiatorID)
	require.Empty(t, store.filter.SupervisorID)
}

func TestWorkflowInitiatorCannotReviewOwnRequest(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t, activeSupervisor("sup-1"))
	owner := initiatorClaims("init-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), owner, RequestMeta{})
	require.NoError(t, err)

	_, err = svc.StartReview(context.Background(), req.ID, owner, RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWorkflowOverride(t *testing.T) {
	svc, store, audit := newWorkflowFixture(t, activeSupervisor("sup-1"), activeSupervisor("sup-2"))
	admin := adminClaims("adm-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)

	_, err = svc.Override(context.Background(), req.ID, dto.OverrideRequestPayload{}, admin, RequestMeta{})
	require.Error(t, err)

	newSupervisor := "sup-2"
	priority := models.PriorityLow
	updated, err := svc.Override(context.Background(), req.ID, dto.OverrideRequestPayload{
		Priority:             &priority,
		AssignedSupervisorID: &newSupervisor,
	}, admin, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.PriorityLow, updated.Priority)
	require.Equal(t, "sup-2", *store.requests[req.ID].AssignedSupervisorID)
	require.Equal(t, models.AuditActionRequestOverridden, audit.entries[len(audit.entries)-1].Action)

	_, err = svc.Override(context.Background(), req.ID, dto.OverrideRequestPayload{Priority: &priority}, supervisorClaims("sup-1"), RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWorkflowDelete(t *testing.T) {
	svc, store, audit := newWorkflowFixture(t, activeSupervisor("sup-1"))
	admin := adminClaims("adm-1")

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)

	require.Error(t, svc.Delete(context.Background(), req.ID, initiatorClaims("init-1"), RequestMeta{}))
	require.NoError(t, svc.Delete(context.Background(), req.ID, admin, RequestMeta{}))
	require.Empty(t, store.requests)
	require.Equal(t, models.AuditActionRequestDeleted, audit.entries[len(audit.entries)-1].Action)

	err = svc.Delete(context.Background(), req.ID, admin, RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestWorkflowEnrichmentProjectsParticipants(t *testing.T) {
	supervisor := activeSupervisor("sup-1")
	initiator := &models.User{ID: "init-1", FullName: "Dana Initiator", Role: models.RoleInitiator, Status: models.UserStatusActive}
	svc, _, _ := newWorkflowFixture(t, supervisor, initiator)

	req, err := svc.CreateRequest(context.Background(), validCreatePayload("sup-1"), initiatorClaims("init-1"), RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, req.Initiator)
	require.Equal(t, "Dana Initiator", req.Initiator.FullName)
	require.NotNil(t, req.AssignedSupervisor)
	require.Equal(t, "Sam Supervisor", req.AssignedSupervisor.FullName)
}
