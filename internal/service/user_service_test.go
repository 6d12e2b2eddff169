package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/haab-bank/customer-update-api/internal/dto"
	"github.com/haab-bank/customer-update-api/internal/models"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
)

type userStoreStub struct {
	users      map[string]*models.User
	listErr    error
	lastFilter models.UserFilter
}

func newUserStoreStub(users ...*models.User) *userStoreStub {
	stub := &userStoreStub{users: make(map[string]*models.User)}
	for _, u := range users {
		stub.users[u.ID] = u
	}
	return stub
}

func (s *userStoreStub) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *userStoreStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userStoreStub) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var result []models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			result = append(result, *u)
		}
	}
	return result, nil
}

func (s *userStoreStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	all, err := s.ListAll(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return all, len(all), nil
}

func (s *userStoreStub) ListAll(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	s.lastFilter = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	var result []models.User
	for _, u := range s.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return result, nil
}

func (s *userStoreStub) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "user-" + user.Username
	}
	s.users[user.ID] = user
	return nil
}

func (s *userStoreStub) Update(ctx context.Context, user *models.User) error {
	if _, ok := s.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *user
	s.users[user.ID] = &copy
	return nil
}

func (s *userStoreStub) Deactivate(ctx context.Context, id string) error {
	u, ok := s.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Status = models.UserStatusInactive
	return nil
}

type assignmentStub struct {
	initiatorIDs map[string][]string
	err          error
}

func (s *assignmentStub) DistinctInitiatorIDs(ctx context.Context, supervisorID string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.initiatorIDs[supervisorID], nil
}

func testUser(id, name string, role models.UserRole) *models.User {
	return &models.User{ID: id, Username: id, FullName: name, Role: role, Status: models.UserStatusActive}
}

func TestUserListVisibleByRole(t *testing.T) {
	store := newUserStoreStub(
		testUser("adm-1", "Ada Admin", models.RoleAdmin),
		testUser("sup-1", "Sam Supervisor", models.RoleSupervisor),
		testUser("sup-2", "Tess Supervisor", models.RoleSupervisor),
		testUser("init-1", "Dana Initiator", models.RoleInitiator),
		testUser("init-2", "Omar Initiator", models.RoleInitiator),
	)
	assignments := &assignmentStub{initiatorIDs: map[string][]string{"sup-1": {"init-1"}}}
	svc := NewUserService(store, assignments, &auditRecorderStub{}, nil, nil)

	all, err := svc.ListVisible(context.Background(), adminClaims("adm-1"))
	require.NoError(t, err)
	require.Len(t, all, 5)

	visible, err := svc.ListVisible(context.Background(), initiatorClaims("init-1"))
	require.NoError(t, err)
	require.Len(t, visible, 3)
	require.Equal(t, "init-1", visible[0].ID)
	for _, u := range visible[1:] {
		require.Equal(t, models.RoleSupervisor, u.Role)
	}

	visible, err = svc.ListVisible(context.Background(), supervisorClaims("sup-1"))
	require.NoError(t, err)
	require.Len(t, visible, 2)
	require.Equal(t, "sup-1", visible[0].ID)
	require.Equal(t, "init-1", visible[1].ID)

	// A supervisor with no assignments still sees themselves.
	visible, err = svc.ListVisible(context.Background(), supervisorClaims("sup-2"))
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "sup-2", visible[0].ID)
}

func TestUserListVisiblePropagatesStoreErrors(t *testing.T) {
	store := newUserStoreStub()
	store.listErr = errors.New("connection refused")
	svc := NewUserService(store, &assignmentStub{}, nil, nil, nil)

	_, err := svc.ListVisible(context.Background(), initiatorClaims("init-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	_, err = svc.ListVisible(context.Background(), &models.JWTClaims{UserID: "x", Role: "auditor"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUserCreate(t *testing.T) {
	store := newUserStoreStub(testUser("adm-1", "Ada Admin", models.RoleAdmin))
	audit := &auditRecorderStub{}
	svc := NewUserService(store, &assignmentStub{}, audit, nil, nil)

	payload := dto.CreateUserPayload{
		Username:   "new.initiator",
		Password:   "s3cret-pass",
		FullName:   "New Initiator",
		Email:      "new@example.com",
		Role:       models.RoleInitiator,
		Department: "Branch Ops",
	}

	_, err := svc.Create(context.Background(), payload, supervisorClaims("sup-1"), RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	user, err := svc.Create(context.Background(), payload, adminClaims("adm-1"), RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.UserStatusActive, user.Status)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")))
	require.Len(t, audit.entries, 1)
	require.Equal(t, models.AuditActionUserCreated, audit.entries[0].Action)

	_, err = svc.Create(context.Background(), payload, adminClaims("adm-1"), RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserCreateRejectsUnknownRole(t *testing.T) {
	svc := NewUserService(newUserStoreStub(), &assignmentStub{}, nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateUserPayload{
		Username: "odd.role",
		Password: "s3cret-pass",
		FullName: "Odd Role",
		Email:    "odd@example.com",
		Role:     "auditor",
	}, adminClaims("adm-1"), RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserUpdateKeepsRole(t *testing.T) {
	store := newUserStoreStub(testUser("init-1", "Dana Initiator", models.RoleInitiator))
	svc := NewUserService(store, &assignmentStub{}, &auditRecorderStub{}, nil, nil)

	name := "Dana I."
	status := models.UserStatusInactive
	user, err := svc.Update(context.Background(), "init-1", dto.UpdateUserPayload{FullName: &name, Status: &status}, adminClaims("adm-1"), RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, "Dana I.", user.FullName)
	require.Equal(t, models.UserStatusInactive, user.Status)
	require.Equal(t, models.RoleInitiator, user.Role)
}

func TestUserDeactivate(t *testing.T) {
	store := newUserStoreStub(
		testUser("adm-1", "Ada Admin", models.RoleAdmin),
		testUser("init-1", "Dana Initiator", models.RoleInitiator),
	)
	audit := &auditRecorderStub{}
	svc := NewUserService(store, &assignmentStub{}, audit, nil, nil)
	admin := adminClaims("adm-1")

	err := svc.Deactivate(context.Background(), "adm-1", admin, RequestMeta{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "own account")

	require.NoError(t, svc.Deactivate(context.Background(), "init-1", admin, RequestMeta{}))
	require.Equal(t, models.UserStatusInactive, store.users["init-1"].Status)
	require.Equal(t, models.AuditActionUserDeactivated, audit.entries[len(audit.entries)-1].Action)

	err = svc.Deactivate(context.Background(), "ghost", admin, RequestMeta{})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
