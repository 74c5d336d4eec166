package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/internal/events"
	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/repository"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

type requestRepository interface {
	Create(ctx context.Context, request *models.CertificationRequest) error
	GetByID(ctx context.Context, id string) (*models.CertificationRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.CertificationRequest, error)
	UpdateStatusWithHistory(ctx context.Context, params repository.TransitionParams) error
	GetHistory(ctx context.Context, requestID string) ([]models.HistoryEntry, error)
}

type requestCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditRecorder interface {
	LogAction(ctx context.Context, action, entityType, entityID, actorID string, metadata map[string]any) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event events.Event) []events.HandlerResult
}

type workflowMetrics interface {
	ObserveTransition(target workflow.Status, special bool)
	RecordCacheOperation(hit bool)
}

const requestCacheTTL = 2 * time.Minute

// RequestService executes certification request operations. It is the
// collaborator in front of the workflow engine: it consults the engine's
// gate, persists the compare-and-swap status write plus the history append,
// and only then publishes the domain event.
type RequestService struct {
	repo      requestRepository
	engine    *workflow.Engine
	checker   *workflow.Checker
	bus       eventPublisher
	cache     requestCache
	audit     auditRecorder
	metrics   workflowMetrics
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithRequestCache attaches a read cache.
func WithRequestCache(cache requestCache) RequestServiceOption {
	return func(s *RequestService) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithWorkflowMetrics attaches transition and cache metrics.
func WithWorkflowMetrics(metrics workflowMetrics) RequestServiceOption {
	return func(s *RequestService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithRequestClock overrides the time source (tests).
func WithRequestClock(now func() time.Time) RequestServiceOption {
	return func(s *RequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRequestService constructs the service.
func NewRequestService(repo requestRepository, engine *workflow.Engine, bus eventPublisher, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &RequestService{
		repo:      repo,
		engine:    engine,
		checker:   workflow.NewChecker(engine),
		bus:       bus,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create stores a new draft request for the producer.
func (s *RequestService) Create(ctx context.Context, req dto.CreateRequestRequest, actor *models.JWTClaims) (*models.CertificationRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	subjectID := actor.UserID
	if req.SubjectID != "" && actor.Role == workflow.RoleAdmin {
		subjectID = req.SubjectID
	}

	request := &models.CertificationRequest{
		ID:        uuid.NewString(),
		Number:    s.requestNumber(),
		SubjectID: subjectID,
		FarmName:  strings.TrimSpace(req.FarmName),
		Commodity: strings.TrimSpace(req.Commodity),
		Status:    workflow.StatusDraft,
	}
	if request.FarmName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "farm name is required")
	}
	if err := s.repo.Create(ctx, request); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.logAudit(ctx, models.AuditActionRequestCreate, request.ID, actor.UserID, map[string]any{"number": request.Number})
	return request, nil
}

// Get returns one request, restricted to the owning producer unless the
// actor holds a reviewing role.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.CertificationRequest, error) {
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == workflow.RoleProducer && request.SubjectID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another producer")
	}
	return request, nil
}

// List returns requests matching the query; producers only see their own.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.CertificationRequest, error) {
	filter := models.RequestFilter{
		SubjectID: query.SubjectID,
		Search:    query.Search,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	for _, raw := range query.Statuses() {
		status := workflow.Status(strings.ToUpper(raw))
		if !status.IsKnown() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", raw))
		}
		filter.Status = append(filter.Status, status)
	}
	if actor.Role == workflow.RoleProducer {
		filter.SubjectID = actor.UserID
	}
	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return list, nil
}

// NextStatuses returns the statuses the actor can move the request to.
func (s *RequestService) NextStatuses(ctx context.Context, id string, actor *models.JWTClaims) ([]workflow.Status, error) {
	request, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.engine.NextPossibleStatuses(actor.Role, request.Status), nil
}

// Transition moves the request to the target status after consulting the
// engine. The repository's expected-status guard serializes concurrent
// attempts; a lost race surfaces as a precondition failure, not a silent
// double transition.
func (s *RequestService) Transition(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.CertificationRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	target := workflow.Status(strings.ToUpper(strings.TrimSpace(req.Target)))
	if !target.IsKnown() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", req.Target))
	}

	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.engine.Rules().IsTerminal(request.Status) {
		return nil, appErrors.Clone(appErrors.ErrRequestFinalized, "")
	}
	if !s.engine.CanTransition(request.Status, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", request.Status, target))
	}
	if !s.engine.HasPermission(actor.Role, target) {
		return nil, appErrors.Clone(appErrors.ErrTransitionDenied,
			fmt.Sprintf("role %s cannot set status %s", actor.Role, target))
	}

	occurredAt := s.now().UTC()
	err = s.repo.UpdateStatusWithHistory(ctx, repository.TransitionParams{
		RequestID:      request.ID,
		ExpectedStatus: request.Status,
		NextStatus:     target,
		PerformedBy:    actor.UserID,
		Role:           actor.Role,
		Note:           req.Note,
		OccurredAt:     occurredAt,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request status changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist transition")
	}
	s.afterTransition(ctx, request, target, actor, "", occurredAt)

	return s.reload(ctx, request.ID)
}

// SpecialTransition applies one of the named escape hatches.
func (s *RequestService) SpecialTransition(ctx context.Context, id string, caseName string, req dto.SpecialTransitionRequest, actor *models.JWTClaims) (*models.CertificationRequest, error) {
	kind := workflow.SpecialCase(strings.ToUpper(strings.TrimSpace(caseName)))
	if !kind.IsKnown() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown special case %q", caseName))
	}

	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if kind == workflow.SpecialRequesterCancel && request.SubjectID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester may cancel")
	}

	target, applicable := s.engine.SpecialTransitionTarget(kind, request.Status)
	if !applicable {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("special case %s is not applicable from %s", kind, request.Status))
	}
	if !s.engine.CanPerformSpecialTransition(kind, request.Status, actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrTransitionDenied,
			fmt.Sprintf("role %s may not invoke %s", actor.Role, kind))
	}

	occurredAt := s.now().UTC()
	err = s.repo.UpdateStatusWithHistory(ctx, repository.TransitionParams{
		RequestID:      request.ID,
		ExpectedStatus: request.Status,
		NextStatus:     target,
		PerformedBy:    actor.UserID,
		Role:           actor.Role,
		SpecialCase:    kind,
		Note:           req.Note,
		OccurredAt:     occurredAt,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request status changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist special transition")
	}
	s.afterTransition(ctx, request, target, actor, kind, occurredAt)

	return s.reload(ctx, request.ID)
}

// History returns the request's append-only transition history.
func (s *RequestService) History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.HistoryEntry, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	history, err := s.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load history")
	}
	return history, nil
}

// Integrity runs both integrity checks over the persisted history. Invoked
// on demand for audits, never inline with transitions.
func (s *RequestService) Integrity(ctx context.Context, id string, actor *models.JWTClaims) (*dto.IntegrityResponse, error) {
	if _, err := s.loadRequest(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load history")
	}

	transitions := make([]workflow.Transition, len(entries))
	for i, entry := range entries {
		transitions[i] = entry.Transition()
	}

	response := &dto.IntegrityResponse{
		RequestID:    id,
		MissingSteps: s.checker.AnalyzeMissingSteps(transitions),
		Validation:   s.checker.ValidateIntegrity(transitions),
	}
	s.logAudit(ctx, models.AuditActionIntegrityAudit, id, actor.UserID, map[string]any{
		"is_valid":          response.Validation.IsValid,
		"has_missing_steps": response.MissingSteps.HasMissingSteps,
	})
	return response, nil
}

func (s *RequestService) afterTransition(ctx context.Context, request *models.CertificationRequest, target workflow.Status, actor *models.JWTClaims, kind workflow.SpecialCase, occurredAt time.Time) {
	s.invalidate(ctx, request.ID)
	if s.metrics != nil {
		s.metrics.ObserveTransition(target, kind != "")
	}

	action := models.AuditActionStatusTransition
	metadata := map[string]any{
		"from": string(request.Status),
		"to":   string(target),
	}
	if kind != "" {
		action = models.AuditActionSpecialTransition
		metadata["special_case"] = string(kind)
	}
	s.logAudit(ctx, action, request.ID, actor.UserID, metadata)

	// The approval event is published only after the status write
	// committed, so the orchestrator's defensive re-check sees the new
	// status.
	if target == workflow.StatusApproved {
		s.bus.Publish(ctx, events.RequestApproved{
			RequestID:  request.ID,
			ApproverID: actor.UserID,
			At:         occurredAt,
		})
	}
}

func (s *RequestService) loadRequest(ctx context.Context, id string) (*models.CertificationRequest, error) {
	if s.cache != nil {
		var cached models.CertificationRequest
		if err := s.cache.Get(ctx, requestCacheKey(id), &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return &cached, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certification request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, requestCacheKey(id), request, requestCacheTTL); err != nil {
			s.logger.Warn("failed to cache request", zap.String("request_id", id), zap.Error(err))
		}
	}
	return request, nil
}

func (s *RequestService) reload(ctx context.Context, id string) (*models.CertificationRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload request")
	}
	return request, nil
}

func (s *RequestService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, requestCacheKey(id)); err != nil {
		s.logger.Warn("failed to invalidate request cache", zap.String("request_id", id), zap.Error(err))
	}
}

func (s *RequestService) logAudit(ctx context.Context, action, requestID, actorID string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAction(ctx, action, "certification_request", requestID, actorID, metadata); err != nil {
		s.logger.Warn("failed to write audit entry",
			zap.String("action", action),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

func (s *RequestService) requestNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("REQ-%s-%s", s.now().UTC().Format("2006"), suffix)
}

func requestCacheKey(id string) string {
	return "request:" + id
}
