package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/internal/events"
	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/repository"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

type requestRepoStub struct {
	requests    map[string]*models.CertificationRequest
	history     map[string][]models.HistoryEntry
	transitions []repository.TransitionParams
	casConflict bool
	createErr   error
}

func newRequestRepoStub() *requestRepoStub {
	return &requestRepoStub{
		requests: make(map[string]*models.CertificationRequest),
		history:  make(map[string][]models.HistoryEntry),
	}
}

func (r *requestRepoStub) Create(ctx context.Context, request *models.CertificationRequest) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.requests[request.ID] = request
	return nil
}

func (r *requestRepoStub) GetByID(ctx context.Context, id string) (*models.CertificationRequest, error) {
	request, ok := r.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *request
	return &copied, nil
}

func (r *requestRepoStub) List(ctx context.Context, filter models.RequestFilter) ([]models.CertificationRequest, error) {
	var out []models.CertificationRequest
	for _, request := range r.requests {
		if filter.SubjectID != "" && request.SubjectID != filter.SubjectID {
			continue
		}
		out = append(out, *request)
	}
	return out, nil
}

func (r *requestRepoStub) UpdateStatusWithHistory(ctx context.Context, params repository.TransitionParams) error {
	if r.casConflict {
		return sql.ErrNoRows
	}
	request, ok := r.requests[params.RequestID]
	if !ok {
		return sql.ErrNoRows
	}
	if request.Status != params.ExpectedStatus {
		return sql.ErrNoRows
	}
	request.Status = params.NextStatus
	r.transitions = append(r.transitions, params)
	r.history[params.RequestID] = append(r.history[params.RequestID], models.HistoryEntry{
		RequestID:   params.RequestID,
		FromStatus:  params.ExpectedStatus,
		ToStatus:    params.NextStatus,
		PerformedBy: params.PerformedBy,
		Role:        params.Role,
		SpecialCase: params.SpecialCase,
		Note:        params.Note,
		OccurredAt:  params.OccurredAt,
	})
	return nil
}

func (r *requestRepoStub) GetHistory(ctx context.Context, requestID string) ([]models.HistoryEntry, error) {
	return r.history[requestID], nil
}

type auditStub struct {
	actions []string
}

func (a *auditStub) LogAction(ctx context.Context, action, entityType, entityID, actorID string, metadata map[string]any) error {
	a.actions = append(a.actions, action)
	return nil
}

type requestCacheStub struct {
	entries map[string]models.CertificationRequest
}

func newRequestCacheStub() *requestCacheStub {
	return &requestCacheStub{entries: make(map[string]models.CertificationRequest)}
}

func (c *requestCacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	cached, ok := c.entries[key]
	if !ok {
		return sql.ErrNoRows
	}
	*dest.(*models.CertificationRequest) = cached
	return nil
}

func (c *requestCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.entries[key] = *value.(*models.CertificationRequest)
	return nil
}

func (c *requestCacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	delete(c.entries, pattern)
	return nil
}

type metricsStub struct {
	transitions []workflow.Status
	cacheHits   int
	cacheMisses int
}

func (m *metricsStub) ObserveTransition(target workflow.Status, special bool) {
	m.transitions = append(m.transitions, target)
}

func (m *metricsStub) RecordCacheOperation(hit bool) {
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

type requestFixture struct {
	repo    *requestRepoStub
	audit   *auditStub
	bus     *events.Bus
	service *RequestService
	events  []events.Event
	opts    []RequestServiceOption
}

func newRequestFixture(t *testing.T, opts ...RequestServiceOption) *requestFixture {
	t.Helper()
	f := &requestFixture{
		repo:  newRequestRepoStub(),
		audit: &auditStub{},
		bus:   events.NewBus(zap.NewNop()),
		opts:  opts,
	}
	f.bus.Subscribe(events.TypeRequestApproved, "recorder", func(ctx context.Context, event events.Event) error {
		f.events = append(f.events, event)
		return nil
	})
	engine := workflow.NewEngine(workflow.DefaultRuleset())
	f.service = NewRequestService(f.repo, engine, f.bus, f.audit, nil, zap.NewNop(), f.opts...)
	return f
}

func (f *requestFixture) seed(id string, status workflow.Status, subjectID string) {
	f.repo.requests[id] = &models.CertificationRequest{
		ID:        id,
		Number:    "REQ-2026-TEST0001",
		SubjectID: subjectID,
		FarmName:  "Green Valley",
		Commodity: "coffee",
		Status:    status,
	}
}

func claims(userID string, role workflow.Role) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: role}
}

func TestRequestServiceTransitionHappyPath(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusDraft, "producer-1")

	updated, err := f.service.Transition(context.Background(), "req-1",
		dto.TransitionRequest{Target: "SUBMITTED"}, claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSubmitted, updated.Status)
	require.Len(t, f.repo.transitions, 1)
	require.Contains(t, f.audit.actions, models.AuditActionStatusTransition)
	require.Empty(t, f.events)
}

func TestRequestServiceTransitionRejectsIllegalEdge(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusDraft, "producer-1")

	_, err := f.service.Transition(context.Background(), "req-1",
		dto.TransitionRequest{Target: "CREDENTIAL_ISSUED"}, claims("admin-1", workflow.RoleAdmin))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	require.Empty(t, f.repo.transitions)
}

func TestRequestServiceTransitionRejectsUnpermittedRole(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusPendingApproval, "producer-1")

	// The edge exists but a producer cannot set APPROVED.
	_, err := f.service.Transition(context.Background(), "req-1",
		dto.TransitionRequest{Target: "APPROVED"}, claims("producer-1", workflow.RoleProducer))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrTransitionDenied.Code, appErr.Code)
	require.Empty(t, f.repo.transitions)
}

func TestRequestServiceTransitionOnTerminalRequest(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusRejected, "producer-1")

	_, err := f.service.Transition(context.Background(), "req-1",
		dto.TransitionRequest{Target: "SUBMITTED"}, claims("admin-1", workflow.RoleAdmin))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrRequestFinalized.Code, appErr.Code)
}

func TestRequestServiceTransitionLostRace(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusPendingApproval, "producer-1")
	f.repo.casConflict = true

	_, err := f.service.Transition(context.Background(), "req-1",
		dto.TransitionRequest{Target: "APPROVED"}, claims("approver-1", workflow.RoleApprover))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	require.Empty(t, f.events, "no event may be published for an uncommitted transition")
}

func TestRequestServiceApprovalPublishesEvent(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusPendingApproval, "producer-1")

	updated, err := f.service.Transition(context.Background(), "req-1",
		dto.TransitionRequest{Target: "APPROVED"}, claims("approver-1", workflow.RoleApprover))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusApproved, updated.Status)

	require.Len(t, f.events, 1)
	approved, ok := f.events[0].(events.RequestApproved)
	require.True(t, ok)
	require.Equal(t, "req-1", approved.RequestID)
	require.Equal(t, "approver-1", approved.ApproverID)
}

func TestRequestServiceSpecialTransitionEmergencyStop(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusInspecting, "producer-1")

	updated, err := f.service.SpecialTransition(context.Background(), "req-1", "EMERGENCY_STOP",
		dto.SpecialTransitionRequest{}, claims("admin-1", workflow.RoleAdmin))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRejected, updated.Status)

	require.Len(t, f.repo.transitions, 1)
	require.Equal(t, workflow.SpecialEmergencyStop, f.repo.transitions[0].SpecialCase)
	require.Contains(t, f.audit.actions, models.AuditActionSpecialTransition)
}

func TestRequestServiceSpecialTransitionDeniedForRole(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusInspecting, "producer-1")

	_, err := f.service.SpecialTransition(context.Background(), "req-1", "EMERGENCY_STOP",
		dto.SpecialTransitionRequest{}, claims("inspector-1", workflow.RoleFieldInspector))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrTransitionDenied.Code, appErr.Code)
}

func TestRequestServiceRequesterCancelOnlyByOwner(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusSubmitted, "producer-1")

	_, err := f.service.SpecialTransition(context.Background(), "req-1", "REQUESTER_CANCEL",
		dto.SpecialTransitionRequest{}, claims("producer-2", workflow.RoleProducer))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	updated, err := f.service.SpecialTransition(context.Background(), "req-1", "REQUESTER_CANCEL",
		dto.SpecialTransitionRequest{}, claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRejected, updated.Status)
}

func TestRequestServiceSpecialTransitionNotApplicable(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusDraft, "producer-1")

	// Reschedule only applies to inspection stages.
	_, err := f.service.SpecialTransition(context.Background(), "req-1", "RESCHEDULE",
		dto.SpecialTransitionRequest{}, claims("admin-1", workflow.RoleAdmin))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

func TestRequestServiceProducerCannotReadOthersRequest(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusSubmitted, "producer-1")

	_, err := f.service.Get(context.Background(), "req-1", claims("producer-2", workflow.RoleProducer))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = f.service.Get(context.Background(), "req-1", claims("reviewer-1", workflow.RoleDocumentReviewer))
	require.NoError(t, err)
}

func TestRequestServiceNextStatuses(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusPendingApproval, "producer-1")

	next, err := f.service.NextStatuses(context.Background(), "req-1", claims("approver-1", workflow.RoleApprover))
	require.NoError(t, err)
	require.ElementsMatch(t, []workflow.Status{workflow.StatusApproved, workflow.StatusRejected}, next)
}

func TestRequestServiceIntegrityReport(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusDocumentChecking, "producer-1")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.repo.history["req-1"] = []models.HistoryEntry{
		{RequestID: "req-1", FromStatus: workflow.StatusDraft, ToStatus: workflow.StatusSubmitted, OccurredAt: base},
		// Gap: the SUBMITTED -> DOCUMENT_CHECKING entry is missing.
		{RequestID: "req-1", FromStatus: workflow.StatusDocumentChecking, ToStatus: workflow.StatusDocumentApproved, OccurredAt: base.Add(time.Hour)},
	}

	report, err := f.service.Integrity(context.Background(), "req-1", claims("admin-1", workflow.RoleAdmin))
	require.NoError(t, err)
	require.True(t, report.MissingSteps.HasMissingSteps)
	require.False(t, report.Validation.IsValid)
	require.Contains(t, f.audit.actions, models.AuditActionIntegrityAudit)
}

func TestRequestServiceListScopesProducerToOwnRequests(t *testing.T) {
	f := newRequestFixture(t)
	f.seed("req-1", workflow.StatusSubmitted, "producer-1")
	f.seed("req-2", workflow.StatusSubmitted, "producer-2")

	list, err := f.service.List(context.Background(), dto.RequestQuery{}, claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
}

func TestRequestServiceCreate(t *testing.T) {
	f := newRequestFixture(t)

	created, err := f.service.Create(context.Background(), dto.CreateRequestRequest{
		FarmName:  "Green Valley",
		Commodity: "coffee",
	}, claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusDraft, created.Status)
	require.Equal(t, "producer-1", created.SubjectID)
	require.NotEmpty(t, created.Number)
	require.Contains(t, f.audit.actions, models.AuditActionRequestCreate)
}

func TestRequestServiceCreateValidatesPayload(t *testing.T) {
	f := newRequestFixture(t)

	// Commodity is required alongside the farm name.
	_, err := f.service.Create(context.Background(), dto.CreateRequestRequest{
		FarmName: "Green Valley",
	}, claims("producer-1", workflow.RoleProducer))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Empty(t, f.repo.requests)
}

func TestRequestServiceCreatePassesThroughConflict(t *testing.T) {
	f := newRequestFixture(t)
	f.repo.createErr = appErrors.Clone(appErrors.ErrConflict, "certification request number already exists")

	_, err := f.service.Create(context.Background(), dto.CreateRequestRequest{
		FarmName:  "Green Valley",
		Commodity: "coffee",
	}, claims("producer-1", workflow.RoleProducer))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestRequestServiceRecordsCacheHitsAndMisses(t *testing.T) {
	cache := newRequestCacheStub()
	metrics := &metricsStub{}
	f := newRequestFixture(t, WithRequestCache(cache), WithWorkflowMetrics(metrics))
	f.seed("req-1", workflow.StatusSubmitted, "producer-1")

	// First read misses and populates the cache, second read hits.
	_, err := f.service.Get(context.Background(), "req-1", claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)
	_, err = f.service.Get(context.Background(), "req-1", claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)

	require.Equal(t, 1, metrics.cacheMisses)
	require.Equal(t, 1, metrics.cacheHits)
}

func TestRequestServiceObservesCommittedTransition(t *testing.T) {
	metrics := &metricsStub{}
	f := newRequestFixture(t, WithWorkflowMetrics(metrics))
	f.seed("req-1", workflow.StatusDraft, "producer-1")

	_, err := f.service.Transition(context.Background(), "req-1",
		dto.TransitionRequest{Target: "SUBMITTED"}, claims("producer-1", workflow.RoleProducer))
	require.NoError(t, err)
	require.Equal(t, []workflow.Status{workflow.StatusSubmitted}, metrics.transitions)
}

func TestRequestServiceGetNotFound(t *testing.T) {
	f := newRequestFixture(t)

	_, err := f.service.Get(context.Background(), "missing", claims("admin-1", workflow.RoleAdmin))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
