package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/agrocert/agrocert-api/internal/models"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

func credentialRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "number", "request_id", "subject_id", "issued_at", "expires_at", "status", "revoked_at", "revoked_by", "created_at", "updated_at"})
	for _, id := range ids {
		rows.AddRow(id, "AGC-2026-"+id, "req-"+id, "producer-1", time.Now(), time.Now().Add(time.Hour), "ACTIVE", nil, nil, time.Now(), time.Now())
	}
	return rows
}

func TestCredentialRepositoryCreateAndFindByRequest(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCredentialRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credentials")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), &models.Credential{
		ID:        "cred-1",
		Number:    "AGC-2026-cred-1",
		RequestID: "req-cred-1",
		SubjectID: "producer-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(3 * 365 * 24 * time.Hour),
		Status:    models.CredentialActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, number, request_id")).
		WithArgs("req-cred-1").
		WillReturnRows(credentialRows("cred-1"))

	found, err := repo.FindByRequestID(context.Background(), "req-cred-1")
	require.NoError(t, err)
	require.Equal(t, "cred-1", found.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCredentialRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO credentials")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Credential{
		ID:        "cred-1",
		RequestID: "req-1",
		Status:    models.CredentialActive,
	})
	require.ErrorIs(t, err, appErrors.ErrCredentialExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepositoryFindByRequestIDMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCredentialRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, number, request_id")).
		WithArgs("req-unknown").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByRequestID(context.Background(), "req-unknown")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepositoryFindExpiringWithin(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCredentialRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, number, request_id")).
		WithArgs("ACTIVE", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(credentialRows("cred-1", "cred-2"))

	list, err := repo.FindExpiringWithin(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepositoryRevoke(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCredentialRepository(db)
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE credentials SET status")).
		WithArgs("cred-1", "REVOKED", at, "admin-1", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Revoke(context.Background(), "cred-1", "admin-1", at))

	// Revoking a non-active credential leaves zero rows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE credentials SET status")).
		WithArgs("cred-1", "REVOKED", at, "admin-1", "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revoke(context.Background(), "cred-1", "admin-1", at)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
