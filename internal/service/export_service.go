package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/pkg/export"
	"github.com/haab-bank/customer-update-api/pkg/storage"
)

type exportRequestSource interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.UpdateRequest, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	BatchSize int
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders request exports and persists the files.
type ExportService struct {
	requests exportRequestSource
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(requests exportRequestSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		requests: requests,
		storage:  store,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Generate collects the job's visible requests and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Customer Update Requests")
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("requests-%s-%s.%s", job.ID, time.Now().UTC().Format("20060102-150405"), job.Params.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/reports/download/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ResolveDownload validates a signed token and opens the stored file.
func (s *ExportService) ResolveDownload(token string) (*os.File, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", err
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", fmt.Errorf("open export for job %s: %w", jobID, err)
	}
	return file, relPath, nil
}

// CleanupExpired removes files older than the result TTL.
func (s *ExportService) CleanupExpired() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("removed expired exports", zap.Int("count", len(removed)))
	}
}

// buildDataset pages through the scoped request listing until exhausted.
func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, error) {
	filter := scopeFilter(job.CreatedByRole, job.CreatedBy)
	filter.Status = job.Params.Statuses
	filter.CreatedFrom = job.Params.From
	filter.CreatedTo = job.Params.To
	filter.Limit = s.cfg.BatchSize

	dataset := export.Dataset{
		Headers: []string{"ID", "Customer", "Account", "Type", "Status", "Priority", "Initiator", "Supervisor", "Created"},
	}
	for {
		batch, err := s.requests.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, fmt.Errorf("collect export rows: %w", err)
		}
		for _, req := range batch {
			supervisor := ""
			if req.AssignedSupervisorID != nil {
				supervisor = *req.AssignedSupervisorID
			}
			dataset.Rows = append(dataset.Rows, map[string]string{
				"ID":         req.ID,
				"Customer":   req.CustomerName,
				"Account":    req.AccountNumber,
				"Type":       string(req.UpdateType),
				"Status":     string(req.Status),
				"Priority":   string(req.Priority),
				"Initiator":  req.InitiatorID,
				"Supervisor": supervisor,
				"Created":    req.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(batch) < filter.Limit {
			return dataset, nil
		}
		filter.Offset += filter.Limit
	}
}

// scopeFilter reproduces role-based visibility for aggregate queries.
func scopeFilter(role models.UserRole, userID string) models.RequestFilter {
	switch role {
	case models.RoleInitiator:
		return models.RequestFilter{InitiatorID: userID}
	case models.RoleSupervisor:
		return models.RequestFilter{SupervisorID: userID}
	default:
		return models.RequestFilter{}
	}
}
