package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/haab-bank/customer-update-api/internal/models"
)

func newAuditRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAuditRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	userID := "user-1"
	resourceID := "REQ-000001"
	entry := &models.AuditLog{
		UserID:       &userID,
		Action:       models.AuditActionRequestCreated,
		ResourceType: "update_request",
		ResourceID:   &resourceID,
	}
	require.NoError(t, repo.Create(context.Background(), entry))
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())
	require.JSONEq(t, "{}", string(entry.Details))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "resource_type", "resource_id", "details", "ip_address", "user_agent", "created_at"}).
		AddRow("log-1", "user-1", "Request Created", "update_request", "REQ-000001", []byte(`{"field_count":1}`), "10.0.0.1", "curl", time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE 1=1")).
		WithArgs("user-1", "update_request").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("user-1", "update_request").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	logs, total, err := repo.List(context.Background(), models.AuditFilter{
		UserID:       "user-1",
		ResourceType: "update_request",
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 12, total)
	require.Equal(t, "Request Created", logs[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}
