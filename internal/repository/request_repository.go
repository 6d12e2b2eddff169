package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haab-bank/customer-update-api/internal/models"
)

// RequestRepository persists customer update requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, customer_name, account_number, update_type, fields_to_update,
       customer_instruction, initiator_id, assigned_supervisor_id, status, priority,
       review_notes, rejection_reason, attachments, created_at, updated_at`

// NextID allocates the next human-readable request identifier.
// The sequence guarantees ids are unique and trace creation order.
func (r *RequestRepository) NextID(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('update_request_seq')`); err != nil {
		return "", fmt.Errorf("allocate request id: %w", err)
	}
	return fmt.Sprintf("REQ-%06d", seq), nil
}

// Create inserts a new request row. The caller must have allocated the id.
func (r *RequestRepository) Create(ctx context.Context, req *models.UpdateRequest) error {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	const query = `INSERT INTO update_requests
	(id, customer_name, account_number, update_type, fields_to_update, customer_instruction,
	 initiator_id, assigned_supervisor_id, status, priority, review_notes, rejection_reason,
	 attachments, created_at, updated_at)
	VALUES (:id, :customer_name, :account_number, :update_type, :fields_to_update, :customer_instruction,
	 :initiator_id, :assigned_supervisor_id, :status, :priority, :review_notes, :rejection_reason,
	 :attachments, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create update request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.UpdateRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM update_requests WHERE id = $1 LIMIT 1`, requestColumns)
	var req models.UpdateRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest first with id as the
// tiebreaker so the order is stable across equal timestamps.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.UpdateRequest, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("SELECT %s FROM update_requests", requestColumns))

	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 5)

	if filter.InitiatorID != "" {
		args = append(args, filter.InitiatorID)
		conditions = append(conditions, fmt.Sprintf("initiator_id = $%d", len(args)))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		conditions = append(conditions, fmt.Sprintf("assigned_supervisor_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.UpdateType != "" {
		args = append(args, filter.UpdateType)
		conditions = append(conditions, fmt.Sprintf("update_type = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(customer_name) LIKE $%d OR LOWER(id) LIKE $%d)", len(args), len(args)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.UpdateRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list update requests: %w", err)
	}
	return requests, nil
}

// TransitionParams groups the columns a status transition may touch.
type TransitionParams struct {
	ID              string
	FromStatus      models.RequestStatus
	ToStatus        models.RequestStatus
	ReviewNotes     *string
	RejectionReason *string
}

// Transition moves a request between lifecycle states. The previous status is
// a precondition of the UPDATE: when another actor won the race the statement
// matches zero rows and sql.ErrNoRows is returned instead of overwriting.
func (r *RequestRepository) Transition(ctx context.Context, params TransitionParams) error {
	setParts := []string{"status = :to_status", "updated_at = :updated_at"}
	if params.ReviewNotes != nil {
		setParts = append(setParts, "review_notes = :review_notes")
	}
	if params.RejectionReason != nil {
		setParts = append(setParts, "rejection_reason = :rejection_reason")
	}
	query := fmt.Sprintf("UPDATE update_requests SET %s WHERE id = :id AND status = :from_status",
		strings.Join(setParts, ", "))

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               params.ID,
		"from_status":      params.FromStatus,
		"to_status":        params.ToStatus,
		"review_notes":     params.ReviewNotes,
		"rejection_reason": params.RejectionReason,
		"updated_at":       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("transition update request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Update persists an admin override of mutable columns.
func (r *RequestRepository) Update(ctx context.Context, req *models.UpdateRequest) error {
	req.UpdatedAt = time.Now().UTC()
	const query = `UPDATE update_requests SET
	customer_name = :customer_name, update_type = :update_type, fields_to_update = :fields_to_update,
	customer_instruction = :customer_instruction, assigned_supervisor_id = :assigned_supervisor_id,
	status = :status, priority = :priority, review_notes = :review_notes,
	rejection_reason = :rejection_reason, attachments = :attachments, updated_at = :updated_at
	WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return nil
}

// Delete removes a request row. Not part of the guarded state machine;
// exposed to admins only.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM update_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete update request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DistinctInitiatorIDs returns the initiators that have at least one request
// assigned to the given supervisor. Feeds the supervisor's visible-user set.
func (r *RequestRepository) DistinctInitiatorIDs(ctx context.Context, supervisorID string) ([]string, error) {
	const query = `SELECT DISTINCT initiator_id FROM update_requests WHERE assigned_supervisor_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, supervisorID); err != nil {
		return nil, fmt.Errorf("distinct initiator ids: %w", err)
	}
	return ids, nil
}

// CountByStatus aggregates request counts per status within the filter scope.
func (r *RequestRepository) CountByStatus(ctx context.Context, filter models.RequestFilter) (map[models.RequestStatus]int, error) {
	builder := strings.Builder{}
	builder.WriteString("SELECT status, COUNT(*) AS count FROM update_requests")

	args := make([]interface{}, 0, 2)
	conditions := make([]string, 0, 2)
	if filter.InitiatorID != "" {
		args = append(args, filter.InitiatorID)
		conditions = append(conditions, fmt.Sprintf("initiator_id = $%d", len(args)))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		conditions = append(conditions, fmt.Sprintf("assigned_supervisor_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" GROUP BY status")

	rows := []struct {
		Status models.RequestStatus `db:"status"`
		Count  int                  `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}
	counts := make(map[models.RequestStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// CountByType aggregates request counts per update type within the filter scope.
func (r *RequestRepository) CountByType(ctx context.Context, filter models.RequestFilter) (map[models.UpdateType]int, error) {
	builder := strings.Builder{}
	builder.WriteString("SELECT update_type, COUNT(*) AS count FROM update_requests")

	args := make([]interface{}, 0, 2)
	conditions := make([]string, 0, 2)
	if filter.InitiatorID != "" {
		args = append(args, filter.InitiatorID)
		conditions = append(conditions, fmt.Sprintf("initiator_id = $%d", len(args)))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		conditions = append(conditions, fmt.Sprintf("assigned_supervisor_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" GROUP BY update_type")

	rows := []struct {
		UpdateType models.UpdateType `db:"update_type"`
		Count      int               `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count requests by type: %w", err)
	}
	counts := make(map[models.UpdateType]int, len(rows))
	for _, row := range rows {
		counts[row.UpdateType] = row.Count
	}
	return counts, nil
}
