package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

const requestColumns = `id, number, subject_id, farm_name, commodity, status, credential_id, credential_number, submitted_at, created_at, updated_at`

const historyColumns = `id, request_id, from_status, to_status, performed_by, role, special_case, note, occurred_at`

// RequestRepository persists certification requests and their append-only
// transition history.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (class 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Create inserts a new request row. Request numbers are unique; a collision
// surfaces as a conflict rather than an opaque driver error.
func (r *RequestRepository) Create(ctx context.Context, request *models.CertificationRequest) error {
	now := time.Now().UTC()
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = workflow.StatusDraft
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	const query = `INSERT INTO certification_requests
	(id, number, subject_id, farm_name, commodity, status, credential_id, credential_number, submitted_at, created_at, updated_at)
	VALUES (:id, :number, :subject_id, :farm_name, :commodity, :status, :credential_id, :credential_number, :submitted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "certification request number already exists")
		}
		return fmt.Errorf("create certification request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.CertificationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM certification_requests WHERE id = $1`
	var request models.CertificationRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.CertificationRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM certification_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(farm_name) LIKE $%d OR LOWER(number) LIKE $%d)", len(args), len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.PageSize)
		builder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
		args = append(args, (page-1)*filter.PageSize)
		builder.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	requests := []models.CertificationRequest{}
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list certification requests: %w", err)
	}
	return requests, nil
}

// TransitionParams describes one status change to persist atomically.
type TransitionParams struct {
	RequestID      string
	ExpectedStatus workflow.Status
	NextStatus     workflow.Status
	PerformedBy    string
	Role           workflow.Role
	SpecialCase    workflow.SpecialCase
	Note           *string
	OccurredAt     time.Time
}

// UpdateStatusWithHistory performs the compare-and-swap status write and the
// history append in one transaction. The WHERE clause on the expected status
// is the serialization guard against interleaved transitions on the same
// request: a concurrent writer that got there first leaves zero affected
// rows and the caller sees sql.ErrNoRows.
func (r *RequestRepository) UpdateStatusWithHistory(ctx context.Context, params TransitionParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if params.OccurredAt.IsZero() {
		params.OccurredAt = time.Now().UTC()
	}

	var statusUpdate string
	args := []interface{}{params.RequestID, params.NextStatus, params.OccurredAt, params.ExpectedStatus}
	if params.NextStatus == workflow.StatusSubmitted {
		statusUpdate = `UPDATE certification_requests SET status = $2, submitted_at = $3, updated_at = $3 WHERE id = $1 AND status = $4`
	} else {
		statusUpdate = `UPDATE certification_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	}
	result, err := tx.ExecContext(ctx, statusUpdate, args...)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	entry := models.HistoryEntry{
		ID:          uuid.NewString(),
		RequestID:   params.RequestID,
		FromStatus:  params.ExpectedStatus,
		ToStatus:    params.NextStatus,
		PerformedBy: params.PerformedBy,
		Role:        params.Role,
		SpecialCase: params.SpecialCase,
		Note:        params.Note,
		OccurredAt:  params.OccurredAt,
	}
	const insertHistory = `INSERT INTO request_history
	(id, request_id, from_status, to_status, performed_by, role, special_case, note, occurred_at)
	VALUES (:id, :request_id, :from_status, :to_status, :performed_by, :role, :special_case, :note, :occurred_at)`
	if _, err := tx.NamedExecContext(ctx, insertHistory, entry); err != nil {
		return fmt.Errorf("append request history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition tx: %w", err)
	}
	return nil
}

// StampCredentialIssued moves an approved request to its terminal status and
// records the credential id and number, appending the matching history entry
// in the same transaction. Guarded by the same expected-status check, so a
// duplicate CredentialIssued event is a no-op reported as sql.ErrNoRows.
func (r *RequestRepository) StampCredentialIssued(ctx context.Context, requestID, credentialID, credentialNumber string, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stamp tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const statusUpdate = `UPDATE certification_requests
	SET status = $2, credential_id = $3, credential_number = $4, updated_at = $5
	WHERE id = $1 AND status = $6`
	result, err := tx.ExecContext(ctx, statusUpdate, requestID, workflow.StatusCredentialIssued, credentialID, credentialNumber, at, workflow.StatusApproved)
	if err != nil {
		return fmt.Errorf("stamp credential on request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp credential on request: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	note := fmt.Sprintf("credential %s issued", credentialNumber)
	entry := models.HistoryEntry{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		FromStatus:  workflow.StatusApproved,
		ToStatus:    workflow.StatusCredentialIssued,
		PerformedBy: "system",
		Role:        workflow.RoleAdmin,
		Note:        &note,
		OccurredAt:  at,
	}
	const insertHistory = `INSERT INTO request_history
	(id, request_id, from_status, to_status, performed_by, role, special_case, note, occurred_at)
	VALUES (:id, :request_id, :from_status, :to_status, :performed_by, :role, :special_case, :note, :occurred_at)`
	if _, err := tx.NamedExecContext(ctx, insertHistory, entry); err != nil {
		return fmt.Errorf("append issuance history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stamp tx: %w", err)
	}
	return nil
}

// GetHistory returns the request's history entries in append order.
func (r *RequestRepository) GetHistory(ctx context.Context, requestID string) ([]models.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM request_history WHERE request_id = $1 ORDER BY occurred_at ASC, id ASC`
	entries := []models.HistoryEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("get request history: %w", err)
	}
	return entries, nil
}
