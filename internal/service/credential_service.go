package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

type credentialRepository interface {
	GetByID(ctx context.Context, id string) (*models.Credential, error)
	FindByRequestID(ctx context.Context, requestID string) (*models.Credential, error)
	List(ctx context.Context, filter models.CredentialFilter) ([]models.Credential, error)
	Revoke(ctx context.Context, id, revokedBy string, at time.Time) error
}

// CredentialService reads and revokes issued credentials. Issuance itself is
// the orchestrator's job; nothing here creates credentials.
type CredentialService struct {
	repo      credentialRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCredentialService builds the service.
func NewCredentialService(repo credentialRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *CredentialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CredentialService{repo: repo, audit: audit, validator: validate, logger: logger, now: time.Now}
}

// Get returns one credential; producers only see their own.
func (s *CredentialService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Credential, error) {
	credential, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "credential not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credential")
	}
	if actor.Role == workflow.RoleProducer && credential.SubjectID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "credential belongs to another producer")
	}
	return credential, nil
}

// GetByRequestID returns the credential issued for one request, if any.
func (s *CredentialService) GetByRequestID(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.Credential, error) {
	credential, err := s.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no credential issued for this request")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credential")
	}
	if actor.Role == workflow.RoleProducer && credential.SubjectID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "credential belongs to another producer")
	}
	return credential, nil
}

// List returns credentials matching the query; producers only see their own.
func (s *CredentialService) List(ctx context.Context, query dto.CredentialQuery, actor *models.JWTClaims) ([]models.Credential, error) {
	filter := models.CredentialFilter{
		SubjectID: query.SubjectID,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	for _, raw := range query.Statuses() {
		status := models.CredentialStatus(strings.ToUpper(raw))
		switch status {
		case models.CredentialActive, models.CredentialExpired, models.CredentialRevoked, models.CredentialSuspended:
			filter.Status = append(filter.Status, status)
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown credential status %q", raw))
		}
	}
	if actor.Role == workflow.RoleProducer {
		filter.SubjectID = actor.UserID
	}
	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list credentials")
	}
	return list, nil
}

// Revoke administratively invalidates an active credential. The repository's
// active-status guard makes a revoke of an already finalized credential a
// no-row update rather than a double write.
func (s *CredentialService) Revoke(ctx context.Context, id string, req dto.RevokeCredentialRequest, actor *models.JWTClaims) (*models.Credential, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revoke payload")
	}

	credential, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "credential not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credential")
	}
	if credential.Status != models.CredentialActive {
		return nil, appErrors.Clone(appErrors.ErrCredentialFinalized, "")
	}

	if err := s.repo.Revoke(ctx, id, actor.UserID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrCredentialFinalized, "credential status changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke credential")
	}

	if s.audit != nil {
		if err := s.audit.LogAction(ctx, models.AuditActionCredentialRevoke, "credential", id, actor.UserID, map[string]any{
			"reason": req.Reason,
		}); err != nil {
			s.logger.Warn("failed to write audit entry", zap.String("credential_id", id), zap.Error(err))
		}
	}

	return s.repo.GetByID(ctx, id)
}
