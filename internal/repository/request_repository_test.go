package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/haab-bank/customer-update-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var requestRows = []string{
	"id", "customer_name", "account_number", "update_type", "fields_to_update",
	"customer_instruction", "initiator_id", "assigned_supervisor_id", "status", "priority",
	"review_notes", "rejection_reason", "attachments", "created_at", "updated_at",
}

func sampleRequestRow() *sqlmock.Rows {
	return sqlmock.NewRows(requestRows).
		AddRow("REQ-000042", "Jane Doe", "1234567890", "contact_info", []byte(`{"email":"jane@example.com"}`),
			"Customer called to update email", "init-1", "sup-1", "pending", "medium",
			nil, nil, []byte(`[]`), time.Now(), time.Now())
}

func TestRequestRepositoryNextID(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nextval('update_request_seq')")).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(42))

	id, err := repo.NextID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "REQ-000042", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO update_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	supervisorID := "sup-1"
	req := &models.UpdateRequest{
		ID:                   "REQ-000042",
		CustomerName:         "Jane Doe",
		AccountNumber:        "1234567890",
		UpdateType:           models.UpdateTypeContactInfo,
		FieldsToUpdate:       models.FieldValues{"email": "jane@example.com"},
		CustomerInstruction:  "Customer called to update email",
		InitiatorID:          "init-1",
		AssignedSupervisorID: &supervisorID,
		Status:               models.StatusPending,
		Priority:             models.PriorityMedium,
	}
	require.NoError(t, repo.Create(context.Background(), req))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, customer_name, account_number")).
		WithArgs("REQ-000042").
		WillReturnRows(sampleRequestRow())

	found, err := repo.GetByID(context.Background(), "REQ-000042")
	require.NoError(t, err)
	require.Equal(t, "REQ-000042", found.ID)
	require.Equal(t, models.StatusPending, found.Status)
	require.Equal(t, "jane@example.com", found.FieldsToUpdate["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, customer_name, account_number")).
		WithArgs("init-1", "pending", "in_review", "%jane%").
		WillReturnRows(sampleRequestRow())

	list, err := repo.List(context.Background(), models.RequestFilter{
		InitiatorID: "init-1",
		Status:      []models.RequestStatus{models.StatusPending, models.StatusInReview},
		Search:      "Jane",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "REQ-000042", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryTransition(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE update_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), TransitionParams{
		ID:         "REQ-000042",
		FromStatus: models.StatusPending,
		ToStatus:   models.StatusInReview,
	})
	require.NoError(t, err)

	// A lost race matches zero rows and surfaces as sql.ErrNoRows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE update_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.Transition(context.Background(), TransitionParams{
		ID:         "REQ-000042",
		FromStatus: models.StatusPending,
		ToStatus:   models.StatusInReview,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM update_requests WHERE id = $1")).
		WithArgs("REQ-000042").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "REQ-000042"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM update_requests WHERE id = $1")).
		WithArgs("REQ-000099").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Delete(context.Background(), "REQ-000099"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDistinctInitiatorIDs(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT initiator_id FROM update_requests")).
		WithArgs("sup-1").
		WillReturnRows(sqlmock.NewRows([]string{"initiator_id"}).AddRow("init-1").AddRow("init-2"))

	ids, err := repo.DistinctInitiatorIDs(context.Background(), "sup-1")
	require.NoError(t, err)
	require.Equal(t, []string{"init-1", "init-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM update_requests")).
		WithArgs("sup-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("approved", 7))

	counts, err := repo.CountByStatus(context.Background(), models.RequestFilter{SupervisorID: "sup-1"})
	require.NoError(t, err)
	require.Equal(t, 3, counts[models.StatusPending])
	require.Equal(t, 7, counts[models.StatusApproved])
	require.NoError(t, mock.ExpectationsWereMet())
}
