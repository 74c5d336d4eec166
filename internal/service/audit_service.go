package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/models"
)

type auditLogRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error)
}

// AuditService writes the audit trail. Failures are reported to the caller
// but callers treat the trail as best effort and never roll back domain
// writes over it.
type AuditService struct {
	repo   auditLogRepository
	logger *zap.Logger
}

// NewAuditService builds the service.
func NewAuditService(repo auditLogRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// LogAction appends one audit record. Empty actor or entity ids are stored
// as NULL; system-originated actions pass an empty actorID.
func (s *AuditService) LogAction(ctx context.Context, action, entityType, entityID, actorID string, metadata map[string]any) error {
	log := &models.AuditLog{
		Action:     action,
		EntityType: entityType,
		CreatedAt:  time.Now().UTC(),
	}
	if entityID != "" {
		log.EntityID = &entityID
	}
	if actorID != "" {
		log.ActorID = &actorID
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			s.logger.Warn("failed to marshal audit metadata", zap.String("action", action), zap.Error(err))
		} else {
			log.Metadata = raw
		}
	}
	return s.repo.CreateAuditLog(ctx, log)
}

// ListByEntity returns the most recent audit entries for one entity.
func (s *AuditService) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error) {
	return s.repo.ListByEntity(ctx, entityType, entityID, limit)
}
