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

func newReportJobRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var reportJobRows = []string{"id", "params", "status", "progress", "result_url", "error_message", "created_by", "created_by_role", "created_at", "finished_at"}

func TestReportJobRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newReportJobRepoMock(t)
	defer cleanup()

	repo := NewReportJobRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &models.ReportJob{
		Params:        models.ReportJobParams{Format: models.ReportFormatCSV},
		CreatedBy:     "sup-1",
		CreatedByRole: models.RoleSupervisor,
	}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NotEmpty(t, job.ID)
	require.Equal(t, models.ReportStatusQueued, job.Status)

	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows(reportJobRows).
			AddRow(job.ID, []byte(`{"format":"csv"}`), "queued", 0, nil, nil, "sup-1", "supervisor", time.Now(), nil))

	found, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReportFormatCSV, found.Params.Format)
	require.Equal(t, models.RoleSupervisor, found.CreatedByRole)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryUpdateBuildsSparseSet(t *testing.T) {
	db, mock, cleanup := newReportJobRepoMock(t)
	defer cleanup()

	repo := NewReportJobRepository(db)
	status := models.ReportStatusRunning
	progress := 10
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = $1, progress = $2 WHERE id = $3")).
		WithArgs("running", 10, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateReportJobParams{Status: &status, Progress: &progress})
	require.NoError(t, err)

	// An empty change set never touches the database.
	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateReportJobParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportJobRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newReportJobRepoMock(t)
	defer cleanup()

	repo := NewReportJobRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'queued'")).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows(reportJobRows).
			AddRow("job-1", []byte(`{"format":"pdf"}`), "queued", 0, nil, nil, "adm-1", "admin", time.Now(), nil))

	jobs, err := repo.ListQueued(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, models.ReportFormatPDF, jobs[0].Params.Format)
	require.NoError(t, mock.ExpectationsWereMet())
}
