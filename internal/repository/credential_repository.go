package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agrocert/agrocert-api/internal/models"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

const credentialColumns = `id, number, request_id, subject_id, issued_at, expires_at, status, revoked_at, revoked_by, created_at, updated_at`

// CredentialRepository persists issued credentials.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository constructs the repository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create inserts a new credential row. The unique constraint on request_id
// backs up the orchestrator's one-credential-per-request guarantee; a
// violation surfaces as ErrCredentialExists so callers can treat the race as
// already-issued.
func (r *CredentialRepository) Create(ctx context.Context, credential *models.Credential) error {
	const query = `INSERT INTO credentials
	(id, number, request_id, subject_id, issued_at, expires_at, status, revoked_at, revoked_by, created_at, updated_at)
	VALUES (:id, :number, :request_id, :subject_id, :issued_at, :expires_at, :status, :revoked_at, :revoked_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, credential); err != nil {
		if isUniqueViolation(err) {
			return appErrors.ErrCredentialExists
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// GetByID fetches a credential by identifier.
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	var credential models.Credential
	if err := r.db.GetContext(ctx, &credential, query, id); err != nil {
		return nil, err
	}
	return &credential, nil
}

// FindByRequestID returns the credential issued for the request, or
// sql.ErrNoRows when none exists yet.
func (r *CredentialRepository) FindByRequestID(ctx context.Context, requestID string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE request_id = $1`
	var credential models.Credential
	if err := r.db.GetContext(ctx, &credential, query, requestID); err != nil {
		return nil, err
	}
	return &credential, nil
}

// List returns credentials matching the filter, newest first.
func (r *CredentialRepository) List(ctx context.Context, filter models.CredentialFilter) ([]models.Credential, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + credentialColumns + ` FROM credentials`)

	conditions := make([]string, 0, 2)
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
	if len(conditions) > 0 {
		builder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY issued_at DESC")
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

	credentials := []models.Credential{}
	if err := r.db.SelectContext(ctx, &credentials, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// FindExpiringWithin returns active credentials whose expiry falls within
// the next N days, exclusive of already-expired ones.
func (r *CredentialRepository) FindExpiringWithin(ctx context.Context, days int) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
	WHERE status = $1 AND expires_at > $2 AND expires_at <= $3
	ORDER BY expires_at ASC`
	now := time.Now().UTC()
	credentials := []models.Credential{}
	if err := r.db.SelectContext(ctx, &credentials, query, models.CredentialActive, now, now.Add(time.Duration(days)*24*time.Hour)); err != nil {
		return nil, fmt.Errorf("find credentials expiring within %d days: %w", days, err)
	}
	return credentials, nil
}

// FindExpired returns active credentials whose expiry has passed.
func (r *CredentialRepository) FindExpired(ctx context.Context) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
	WHERE status = $1 AND expires_at <= $2
	ORDER BY expires_at ASC`
	credentials := []models.Credential{}
	if err := r.db.SelectContext(ctx, &credentials, query, models.CredentialActive, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("find expired credentials: %w", err)
	}
	return credentials, nil
}

// UpdateStatus sets the credential status unconditionally. Used by the
// orchestrator's expiry handler.
func (r *CredentialRepository) UpdateStatus(ctx context.Context, id string, status models.CredentialStatus, at time.Time) error {
	const query = `UPDATE credentials SET status = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Revoke moves an active credential to revoked. The status guard in the
// WHERE clause rejects revocation of expired or already-revoked credentials.
func (r *CredentialRepository) Revoke(ctx context.Context, id, revokedBy string, at time.Time) error {
	const query = `UPDATE credentials SET status = $2, revoked_at = $3, revoked_by = $4, updated_at = $3
	WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, models.CredentialRevoked, at, revokedBy, models.CredentialActive)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
