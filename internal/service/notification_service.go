package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/pkg/jobs"
)

type notificationJob struct {
	Kind      models.NotificationKind `json:"kind"`
	Recipient string                  `json:"recipient"`
	Payload   map[string]any          `json:"payload"`
}

// NotificationService hands outbound notifications to a background queue.
// Delivery transports live behind the queue handler; the workflow side only
// depends on Send.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the service with its worker queue.
func NewNotificationService(logger *zap.Logger, workers int) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{logger: logger}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Logger:     logger,
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Send enqueues a notification for asynchronous delivery.
func (s *NotificationService) Send(ctx context.Context, kind models.NotificationKind, recipient string, payload map[string]any) error {
	return s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: string(kind),
		Payload: notificationJob{
			Kind:      kind,
			Recipient: recipient,
			Payload:   payload,
		},
		Enqueued: time.Now().UTC(),
	})
}

// deliver is the queue handler. Until an external transport is wired in,
// delivery means a structured log line consumed by the ops pipeline.
func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationJob)
	if !ok {
		s.logger.Warn("dropping malformed notification job", zap.String("job_id", job.ID))
		return nil
	}
	s.logger.Info("notification delivered",
		zap.String("kind", string(payload.Kind)),
		zap.String("recipient", payload.Recipient),
		zap.Any("payload", payload.Payload),
	)
	return nil
}
