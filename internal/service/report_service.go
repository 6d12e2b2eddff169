package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haab-bank/customer-update-api/internal/dto"
	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/internal/repository"
	appErrors "github.com/haab-bank/customer-update-api/pkg/errors"
	"github.com/haab-bank/customer-update-api/pkg/jobs"
)

type reportRequestSource interface {
	CountByStatus(ctx context.Context, filter models.RequestFilter) (map[models.RequestStatus]int, error)
	CountByType(ctx context.Context, filter models.RequestFilter) (map[models.UpdateType]int, error)
}

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ReportConfig tunes summary caching.
type ReportConfig struct {
	SummaryTTL time.Duration
}

// ReportService aggregates visible requests for dashboards and drives the
// asynchronous export pipeline.
type ReportService struct {
	requests reportRequestSource
	jobStore reportJobStore
	cache    summaryCache
	exporter exportGenerator
	queue    jobEnqueuer
	validate *validator.Validate
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      ReportConfig
}

// NewReportService constructs a ReportService.
func NewReportService(requests reportRequestSource, jobStore reportJobStore, cache summaryCache, exporter exportGenerator, queue jobEnqueuer, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg ReportConfig) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SummaryTTL <= 0 {
		cfg.SummaryTTL = 5 * time.Minute
	}
	return &ReportService{
		requests: requests,
		jobStore: jobStore,
		cache:    cache,
		exporter: exporter,
		queue:    queue,
		validate: validate,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Summary returns status and type counts over the actor's visible scope.
// Results are cached per scope for a short TTL.
func (s *ReportService) Summary(ctx context.Context, actor *models.JWTClaims) (*dto.SummaryResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	cacheKey := summaryCacheKey(actor)
	if s.cache != nil {
		var cached dto.SummaryResponse
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	filter := scopeFilter(actor.Role, actor.UserID)
	start := time.Now()
	byStatus, err := s.requests.CountByStatus(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "count requests by status")
	}
	s.metrics.ObserveDBQuery("summary_status", time.Since(start))

	start = time.Now()
	byType, err := s.requests.CountByType(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "count requests by type")
	}
	s.metrics.ObserveDBQuery("summary_type", time.Since(start))

	counts := models.StatusCounts{
		Pending:  byStatus[models.StatusPending],
		InReview: byStatus[models.StatusInReview],
		Approved: byStatus[models.StatusApproved],
		Rejected: byStatus[models.StatusRejected],
	}
	for _, n := range byStatus {
		counts.Total += n
	}

	summary := &dto.SummaryResponse{
		Counts:      counts,
		ByType:      byType,
		GeneratedAt: time.Now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, summary, s.cfg.SummaryTTL); err != nil {
			s.logger.Warn("summary cache write failed", zap.Error(err))
		}
	}
	return summary, nil
}

// InvalidateSummaries drops all cached dashboard summaries. Called after
// any request mutation so dashboards never trail by more than the TTL.
func (s *ReportService) InvalidateSummaries(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "reports:summary:*"); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.Error(err))
	}
}

// CreateExport persists an export job scoped to the actor and enqueues it.
func (s *ReportService) CreateExport(ctx context.Context, req dto.ExportRequest, actor *models.JWTClaims) (*dto.ReportJobResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	for _, status := range req.Statuses {
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}

	job := &models.ReportJob{
		ID: uuid.NewString(),
		Params: models.ReportJobParams{
			Format:   req.Format,
			Statuses: req.Statuses,
			From:     req.From,
			To:       req.To,
		},
		Status:        models.ReportStatusQueued,
		CreatedBy:     actor.UserID,
		CreatedByRole: actor.Role,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.jobStore.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "report-export"}); err != nil {
		s.logger.Warn("failed to enqueue export job, recovery will pick it up",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus returns export progress. Only the submitter or an admin may poll.
func (s *ReportService) GetStatus(ctx context.Context, jobID string, actor *models.JWTClaims) (*dto.ReportStatusResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	job, err := s.jobStore.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load export job")
	}
	if job.CreatedBy != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	return &dto.ReportStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultURL: job.ResultURL,
		Error:     job.ErrorMessage,
	}, nil
}

// HandleJob is the queue handler: it loads the job row, renders the export
// and records the outcome.
func (s *ReportService) HandleJob(ctx context.Context, job jobs.Job) error {
	record, err := s.jobStore.GetByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", job.ID, err)
	}
	if record.Status == models.ReportStatusFinished {
		return nil
	}

	running := models.ReportStatusRunning
	progress := 10
	if err := s.jobStore.Update(ctx, record.ID, repository.UpdateReportJobParams{Status: &running, Progress: &progress}); err != nil {
		s.logger.Warn("failed to mark export job running", zap.String("job_id", record.ID), zap.Error(err))
	}

	result, err := s.exporter.Generate(ctx, record)
	if err != nil {
		failed := models.ReportStatusFailed
		msg := err.Error()
		now := time.Now().UTC()
		if updateErr := s.jobStore.Update(ctx, record.ID, repository.UpdateReportJobParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); updateErr != nil {
			s.logger.Warn("failed to mark export job failed", zap.String("job_id", record.ID), zap.Error(updateErr))
		}
		return err
	}

	finished := models.ReportStatusFinished
	done := 100
	now := time.Now().UTC()
	if err := s.jobStore.Update(ctx, record.ID, repository.UpdateReportJobParams{
		Status:     &finished,
		Progress:   &done,
		ResultURL:  &result.URL,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("record export result for %s: %w", record.ID, err)
	}
	s.logger.Info("export job finished",
		zap.String("job_id", record.ID),
		zap.String("format", string(result.Format)))
	return nil
}

// RecoverPendingJobs re-enqueues jobs left queued by a previous process.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) error {
	pending, err := s.jobStore.ListQueued(ctx, 100)
	if err != nil {
		return fmt.Errorf("list queued export jobs: %w", err)
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "report-export"}); err != nil {
			s.logger.Warn("failed to re-enqueue export job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered pending export jobs", zap.Int("count", len(pending)))
	}
	return nil
}

func summaryCacheKey(actor *models.JWTClaims) string {
	if actor.Role == models.RoleAdmin {
		return "reports:summary:admin"
	}
	return fmt.Sprintf("reports:summary:%s:%s", actor.Role, actor.UserID)
}
