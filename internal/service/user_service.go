package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/haab-bank/customer-update-api/internal/dto"
	"github.com/haab-bank/customer-update-api/internal/models"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
)

type userStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	ListAll(ctx context.Context, filter models.UserFilter) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
}

type assignmentSource interface {
	DistinctInitiatorIDs(ctx context.Context, supervisorID string) ([]string, error)
}

// UserService covers admin user management and role-scoped user visibility.
type UserService struct {
	users       userStore
	assignments assignmentSource
	audits      auditRecorder
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(users userStore, assignments assignmentSource, audits auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, assignments: assignments, audits: audits, validate: validate, logger: logger}
}

// ListVisible answers which users the actor may see. This is an
// authorization rule, not a generic listing:
//   - admin: everyone
//   - initiator: self plus every supervisor (the assignment choices)
//   - supervisor: self plus initiators with at least one request assigned
//     to them
//
// Store failures propagate as errors; an empty result is never used to
// mask one.
func (s *UserService) ListVisible(ctx context.Context, actor *models.JWTClaims) ([]models.User, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAdmin:
		all, err := s.users.ListAll(ctx, models.UserFilter{})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "fetch users")
		}
		return all, nil

	case models.RoleInitiator:
		role := models.RoleSupervisor
		supervisors, err := s.users.ListAll(ctx, models.UserFilter{Role: &role})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "fetch supervisors")
		}
		return s.withSelf(ctx, actor.UserID, supervisors)

	case models.RoleSupervisor:
		initiatorIDs, err := s.assignments.DistinctInitiatorIDs(ctx, actor.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "fetch assigned initiators")
		}
		initiators, err := s.users.FindByIDs(ctx, initiatorIDs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "resolve assigned initiators")
		}
		return s.withSelf(ctx, actor.UserID, initiators)

	default:
		return nil, appErrors.ErrForbidden
	}
}

// withSelf prepends the actor unless already present, keeping the rest in
// stable name order.
func (s *UserService) withSelf(ctx context.Context, actorID string, others []models.User) ([]models.User, error) {
	sort.SliceStable(others, func(i, j int) bool { return others[i].FullName < others[j].FullName })
	for _, u := range others {
		if u.ID == actorID {
			return others, nil
		}
	}
	self, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "resolve requesting user")
	}
	return append([]models.User{*self}, others...), nil
}

// List is the admin paged listing.
func (s *UserService) List(ctx context.Context, query dto.UserQuery, actor *models.JWTClaims) ([]models.User, *models.Pagination, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, nil, appErrors.ErrForbidden
	}
	filter := models.UserFilter{
		Search:    query.Search,
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	if query.Role != "" {
		role := query.Role
		filter.Role = &role
	}
	if query.Status != "" {
		status := query.Status
		filter.Status = &status
	}
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single user by id. Admin only.
func (s *UserService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.User, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load user")
	}
	return user, nil
}

// Create provisions a new user. Admin only.
func (s *UserService) Create(ctx context.Context, payload dto.CreateUserPayload, actor *models.JWTClaims, meta RequestMeta) (*models.User, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if !payload.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", payload.Role))
	}

	if _, err := s.users.FindByUsername(ctx, payload.Username); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username is already taken")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check username")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		Username:     payload.Username,
		PasswordHash: string(hash),
		FullName:     payload.FullName,
		Email:        payload.Email,
		Role:         payload.Role,
		Department:   payload.Department,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create user")
	}

	s.emitUserAudit(ctx, actor, meta, models.AuditActionUserCreated, user)
	return user, nil
}

// Update edits display fields and status. Role changes are not supported.
func (s *UserService) Update(ctx context.Context, id string, payload dto.UpdateUserPayload, actor *models.JWTClaims, meta RequestMeta) (*models.User, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load user")
	}

	if payload.FullName != nil {
		user.FullName = *payload.FullName
	}
	if payload.Email != nil {
		user.Email = *payload.Email
	}
	if payload.Department != nil {
		user.Department = *payload.Department
	}
	if payload.Status != nil {
		if *payload.Status != models.UserStatusActive && *payload.Status != models.UserStatusInactive {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", *payload.Status))
		}
		user.Status = *payload.Status
	}
	user.UpdatedAt = time.Now().UTC()

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update user")
	}

	s.emitUserAudit(ctx, actor, meta, models.AuditActionUserUpdated, user)
	return user, nil
}

// Deactivate soft-deletes a user so their history stays intact. Admins
// cannot deactivate themselves.
func (s *UserService) Deactivate(ctx context.Context, id string, actor *models.JWTClaims, meta RequestMeta) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	if actor.UserID == id {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate your own account")
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load user")
	}
	if err := s.users.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "deactivate user")
	}
	s.emitUserAudit(ctx, actor, meta, models.AuditActionUserDeactivated, user)
	return nil
}

func (s *UserService) emitUserAudit(ctx context.Context, actor *models.JWTClaims, meta RequestMeta, action string, subject *models.User) {
	if s.audits == nil {
		return
	}
	actorID := actor.UserID
	subjectID := subject.ID
	entry := &models.AuditLog{
		UserID:       &actorID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   &subjectID,
		Details: models.MarshalDetails(models.UserChangeDetails{
			Username: subject.Username,
			Role:     subject.Role,
		}),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
