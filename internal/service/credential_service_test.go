package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

type credentialRepoStub struct {
	credentials map[string]*models.Credential
	revoked     []string
	revokeErr   error
}

func newCredentialRepoStub() *credentialRepoStub {
	return &credentialRepoStub{credentials: make(map[string]*models.Credential)}
}

func (r *credentialRepoStub) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	credential, ok := r.credentials[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *credential
	return &copied, nil
}

func (r *credentialRepoStub) FindByRequestID(ctx context.Context, requestID string) (*models.Credential, error) {
	for _, credential := range r.credentials {
		if credential.RequestID == requestID {
			copied := *credential
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *credentialRepoStub) List(ctx context.Context, filter models.CredentialFilter) ([]models.Credential, error) {
	var out []models.Credential
	for _, credential := range r.credentials {
		if filter.SubjectID != "" && credential.SubjectID != filter.SubjectID {
			continue
		}
		out = append(out, *credential)
	}
	return out, nil
}

func (r *credentialRepoStub) Revoke(ctx context.Context, id, revokedBy string, at time.Time) error {
	if r.revokeErr != nil {
		return r.revokeErr
	}
	credential, ok := r.credentials[id]
	if !ok || credential.Status != models.CredentialActive {
		return sql.ErrNoRows
	}
	credential.Status = models.CredentialRevoked
	credential.RevokedBy = &revokedBy
	credential.RevokedAt = &at
	r.revoked = append(r.revoked, id)
	return nil
}

func newCredentialFixture(t *testing.T) (*CredentialService, *credentialRepoStub, *auditStub) {
	t.Helper()
	repo := newCredentialRepoStub()
	audit := &auditStub{}
	return NewCredentialService(repo, audit, nil, zap.NewNop()), repo, audit
}

func seedCredential(repo *credentialRepoStub, id, requestID, subjectID string, status models.CredentialStatus) {
	repo.credentials[id] = &models.Credential{
		ID:        id,
		Number:    "AGC-2026-" + id,
		RequestID: requestID,
		SubjectID: subjectID,
		Status:    status,
	}
}

func TestCredentialServiceRevoke(t *testing.T) {
	svc, repo, audit := newCredentialFixture(t)
	seedCredential(repo, "cred-1", "req-1", "producer-1", models.CredentialActive)

	revoked, err := svc.Revoke(context.Background(), "cred-1",
		dto.RevokeCredentialRequest{Reason: "fraudulent inspection report"},
		claims("admin-1", workflow.RoleAdmin))
	require.NoError(t, err)
	require.Equal(t, models.CredentialRevoked, revoked.Status)
	require.Equal(t, []string{"cred-1"}, repo.revoked)
	require.Contains(t, audit.actions, models.AuditActionCredentialRevoke)
}

func TestCredentialServiceRevokeRequiresReason(t *testing.T) {
	svc, repo, _ := newCredentialFixture(t)
	seedCredential(repo, "cred-1", "req-1", "producer-1", models.CredentialActive)

	_, err := svc.Revoke(context.Background(), "cred-1",
		dto.RevokeCredentialRequest{}, claims("admin-1", workflow.RoleAdmin))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Empty(t, repo.revoked)
}

func TestCredentialServiceRevokeFinalizedCredential(t *testing.T) {
	svc, repo, _ := newCredentialFixture(t)
	seedCredential(repo, "cred-1", "req-1", "producer-1", models.CredentialExpired)

	_, err := svc.Revoke(context.Background(), "cred-1",
		dto.RevokeCredentialRequest{Reason: "late revocation"}, claims("admin-1", workflow.RoleAdmin))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrCredentialFinalized.Code, appErr.Code)
}

func TestCredentialServiceGetByRequestID(t *testing.T) {
	svc, repo, _ := newCredentialFixture(t)
	seedCredential(repo, "cred-1", "req-1", "producer-1", models.CredentialActive)

	found, err := svc.GetByRequestID(context.Background(), "req-1", claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)
	require.Equal(t, "cred-1", found.ID)

	// Another producer may not read it, a reviewer may.
	_, err = svc.GetByRequestID(context.Background(), "req-1", claims("producer-2", workflow.RoleProducer))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.GetByRequestID(context.Background(), "req-1", claims("reviewer-1", workflow.RoleDocumentReviewer))
	require.NoError(t, err)
}

func TestCredentialServiceGetByRequestIDNotIssued(t *testing.T) {
	svc, _, _ := newCredentialFixture(t)

	_, err := svc.GetByRequestID(context.Background(), "req-unknown", claims("admin-1", workflow.RoleAdmin))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
