package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/events"
	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

type requestStore interface {
	GetByID(ctx context.Context, id string) (*models.CertificationRequest, error)
	StampCredentialIssued(ctx context.Context, requestID, credentialID, credentialNumber string, at time.Time) error
}

type credentialStore interface {
	FindByRequestID(ctx context.Context, requestID string) (*models.Credential, error)
	Create(ctx context.Context, credential *models.Credential) error
	FindExpiringWithin(ctx context.Context, days int) ([]models.Credential, error)
	FindExpired(ctx context.Context) ([]models.Credential, error)
	UpdateStatus(ctx context.Context, id string, status models.CredentialStatus, at time.Time) error
}

type notificationSender interface {
	Send(ctx context.Context, kind models.NotificationKind, recipient string, payload map[string]any) error
}

type auditLogger interface {
	LogAction(ctx context.Context, action, entityType, entityID, actorID string, metadata map[string]any) error
}

type issuanceObserver interface {
	ObserveCredentialIssued()
}

// Config carries the issuance policy.
type Config struct {
	// CredentialValidity is the fixed validity period of issued credentials.
	CredentialValidity time.Duration
	// ExpiryCheckpoints are the renewal-reminder thresholds in days,
	// descending (e.g. 30, 7, 1).
	ExpiryCheckpoints []int
	// NumberPrefix prefixes generated credential numbers.
	NumberPrefix string
}

// Orchestrator reacts to workflow events with the cross-aggregate side
// effects the state machine itself must not know about: credential
// issuance, terminal status stamping, notifications and audit entries. All
// effects are idempotent under at-least-once event delivery; nothing here
// mutates state outside the event-driven path.
type Orchestrator struct {
	bus         *events.Bus
	requests    requestStore
	credentials credentialStore
	notifier    notificationSender
	audit       auditLogger
	metrics     issuanceObserver
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIssuanceObserver attaches the credential issuance counter.
func WithIssuanceObserver(metrics issuanceObserver) Option {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// New constructs the orchestrator. Call Register to attach its handlers to
// the bus.
func New(bus *events.Bus, requests requestStore, credentials credentialStore, notifier notificationSender, audit auditLogger, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CredentialValidity <= 0 {
		cfg.CredentialValidity = 3 * 365 * 24 * time.Hour
	}
	if len(cfg.ExpiryCheckpoints) == 0 {
		cfg.ExpiryCheckpoints = []int{30, 7, 1}
	}
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "AGC"
	}
	o := &Orchestrator{
		bus:         bus,
		requests:    requests,
		credentials: credentials,
		notifier:    notifier,
		audit:       audit,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Register subscribes the orchestrator's handlers. Expected once at startup,
// before any publishing begins.
func (o *Orchestrator) Register() {
	o.bus.Subscribe(events.TypeRequestApproved, "orchestrator.issue_credential", o.handleRequestApproved)
	o.bus.Subscribe(events.TypeCredentialIssued, "orchestrator.finalize_request", o.handleCredentialIssued)
	o.bus.Subscribe(events.TypeCredentialExpiringSoon, "orchestrator.renewal_reminder", o.handleCredentialExpiringSoon)
	o.bus.Subscribe(events.TypeCredentialExpired, "orchestrator.expire_credential", o.handleCredentialExpired)
}

// handleRequestApproved issues the credential for an approved request. The
// existing-credential check makes the handler a no-op under duplicate
// delivery; the persisted-status recheck guards against stale events.
// Verification or store errors produce a CredentialGenerationFailed
// reporting event, never an in-place retry.
func (o *Orchestrator) handleRequestApproved(ctx context.Context, event events.Event) error {
	approved, ok := event.(events.RequestApproved)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.Type())
	}

	existing, err := o.credentials.FindByRequestID(ctx, approved.RequestID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return o.reportGenerationFailure(ctx, approved.RequestID, fmt.Errorf("lookup credential: %w", err))
	}
	if existing != nil {
		o.logger.Info("credential already issued, skipping duplicate event",
			zap.String("request_id", approved.RequestID),
			zap.String("credential_id", existing.ID),
		)
		return nil
	}

	request, err := o.requests.GetByID(ctx, approved.RequestID)
	if err != nil {
		return o.reportGenerationFailure(ctx, approved.RequestID, fmt.Errorf("load request: %w", err))
	}
	if request.Status != workflow.StatusApproved {
		o.logger.Warn("stale approval event, persisted status does not reflect approval",
			zap.String("request_id", approved.RequestID),
			zap.String("status", string(request.Status)),
		)
		return nil
	}

	now := o.now().UTC()
	credential := &models.Credential{
		ID:        uuid.NewString(),
		Number:    o.credentialNumber(),
		RequestID: request.ID,
		SubjectID: request.SubjectID,
		IssuedAt:  now,
		ExpiresAt: now.Add(o.cfg.CredentialValidity),
		Status:    models.CredentialActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.credentials.Create(ctx, credential); err != nil {
		// A concurrent handler won the check-then-create race against the
		// unique request_id constraint; the credential exists, so this
		// delivery is done.
		if errors.Is(err, appErrors.ErrCredentialExists) {
			o.logger.Info("credential created concurrently, skipping",
				zap.String("request_id", approved.RequestID),
			)
			return nil
		}
		return o.reportGenerationFailure(ctx, approved.RequestID, fmt.Errorf("create credential: %w", err))
	}
	if o.metrics != nil {
		o.metrics.ObserveCredentialIssued()
	}

	o.logger.Info("credential issued",
		zap.String("request_id", request.ID),
		zap.String("credential_id", credential.ID),
		zap.String("credential_number", credential.Number),
	)
	o.bus.Publish(ctx, events.CredentialIssued{
		CredentialID:     credential.ID,
		CredentialNumber: credential.Number,
		RequestID:        request.ID,
		SubjectID:        request.SubjectID,
		At:               now,
	})
	return nil
}

func (o *Orchestrator) reportGenerationFailure(ctx context.Context, requestID string, cause error) error {
	o.logger.Error("credential generation failed",
		zap.String("request_id", requestID),
		zap.Error(cause),
	)
	o.bus.Publish(ctx, events.CredentialGenerationFailed{
		RequestID: requestID,
		Reason:    cause.Error(),
		At:        o.now().UTC(),
	})
	return cause
}

// handleCredentialIssued finalizes the originating request, notifies the
// subject and writes the audit entry. The three effects are independent:
// each failure is caught individually so the others still run.
func (o *Orchestrator) handleCredentialIssued(ctx context.Context, event events.Event) error {
	issued, ok := event.(events.CredentialIssued)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.Type())
	}

	var errs []error
	if err := o.requests.StampCredentialIssued(ctx, issued.RequestID, issued.CredentialID, issued.CredentialNumber, o.now().UTC()); err != nil {
		o.logger.Error("failed to stamp credential on request",
			zap.String("request_id", issued.RequestID), zap.Error(err))
		errs = append(errs, fmt.Errorf("stamp request: %w", err))
	}

	if err := o.notifier.Send(ctx, models.NotifyCredentialIssued, issued.SubjectID, map[string]any{
		"request_id":        issued.RequestID,
		"credential_id":     issued.CredentialID,
		"credential_number": issued.CredentialNumber,
	}); err != nil {
		o.logger.Error("failed to send issuance notification",
			zap.String("request_id", issued.RequestID), zap.Error(err))
		errs = append(errs, fmt.Errorf("notify: %w", err))
	}

	if err := o.audit.LogAction(ctx, models.AuditActionCredentialIssue, "credential", issued.CredentialID, "", map[string]any{
		"request_id":        issued.RequestID,
		"credential_number": issued.CredentialNumber,
		"subject_id":        issued.SubjectID,
	}); err != nil {
		o.logger.Error("failed to write issuance audit entry",
			zap.String("request_id", issued.RequestID), zap.Error(err))
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	return errors.Join(errs...)
}

// handleCredentialExpiringSoon sends the renewal reminder for one expiry
// checkpoint and records it. Re-delivery at successive checkpoints is
// expected, not a duplicate.
func (o *Orchestrator) handleCredentialExpiringSoon(ctx context.Context, event events.Event) error {
	expiring, ok := event.(events.CredentialExpiringSoon)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.Type())
	}

	var errs []error
	if err := o.notifier.Send(ctx, models.NotifyRenewalReminder, expiring.SubjectID, map[string]any{
		"credential_id":     expiring.CredentialID,
		"days_until_expiry": expiring.DaysUntilExpiry,
	}); err != nil {
		o.logger.Error("failed to send renewal reminder",
			zap.String("credential_id", expiring.CredentialID), zap.Error(err))
		errs = append(errs, fmt.Errorf("notify: %w", err))
	}

	if err := o.audit.LogAction(ctx, models.AuditActionRenewalReminder, "credential", expiring.CredentialID, "", map[string]any{
		"days_until_expiry": expiring.DaysUntilExpiry,
	}); err != nil {
		o.logger.Error("failed to write renewal-reminder audit entry",
			zap.String("credential_id", expiring.CredentialID), zap.Error(err))
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	return errors.Join(errs...)
}

// handleCredentialExpired marks the credential expired, notifies the
// subject and records the expiry.
func (o *Orchestrator) handleCredentialExpired(ctx context.Context, event events.Event) error {
	expired, ok := event.(events.CredentialExpired)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event, event.Type())
	}

	var errs []error
	if err := o.credentials.UpdateStatus(ctx, expired.CredentialID, models.CredentialExpired, o.now().UTC()); err != nil {
		o.logger.Error("failed to mark credential expired",
			zap.String("credential_id", expired.CredentialID), zap.Error(err))
		errs = append(errs, fmt.Errorf("update status: %w", err))
	}

	if err := o.notifier.Send(ctx, models.NotifyCredentialExpired, expired.SubjectID, map[string]any{
		"credential_id": expired.CredentialID,
	}); err != nil {
		o.logger.Error("failed to send expiration notification",
			zap.String("credential_id", expired.CredentialID), zap.Error(err))
		errs = append(errs, fmt.Errorf("notify: %w", err))
	}

	if err := o.audit.LogAction(ctx, models.AuditActionCredentialExpire, "credential", expired.CredentialID, "", nil); err != nil {
		o.logger.Error("failed to write expiration audit entry",
			zap.String("credential_id", expired.CredentialID), zap.Error(err))
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	return errors.Join(errs...)
}

func (o *Orchestrator) credentialNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("%s-%s-%s", o.cfg.NumberPrefix, o.now().UTC().Format("2006"), suffix)
}
