package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/pkg/jobs"
)

type auditLogStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditRecorder writes audit trail entries through a background job
// queue so request paths never block on the audit table. Entries are
// best effort: a full queue or failed insert is logged, not surfaced.
type AuditRecorder struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditRecorder builds the recorder and its worker queue.
func NewAuditRecorder(store auditLogStore, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := func(ctx context.Context, job jobs.Job) error {
		log, ok := job.Payload.(*models.AuditLog)
		if !ok {
			return fmt.Errorf("unexpected audit payload type %T", job.Payload)
		}
		return store.CreateAuditLog(ctx, log)
	}

	queue := jobs.NewQueue("audit", handler, jobs.Options{
		Workers:    2,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Logger:     logger,
	})

	return &AuditRecorder{queue: queue, logger: logger}
}

// Start launches the queue workers.
func (r *AuditRecorder) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop drains the workers.
func (r *AuditRecorder) Stop() {
	r.queue.Stop()
}

// Record enqueues an audit entry for asynchronous persistence.
func (r *AuditRecorder) Record(log *models.AuditLog) {
	if log == nil {
		return
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	job := jobs.Job{
		ID:      uuid.NewString(),
		Kind:    log.Action,
		Payload: log,
	}
	if err := r.queue.Enqueue(job); err != nil {
		r.logger.Warn("failed to enqueue audit entry",
			zap.String("action", log.Action),
			zap.Error(err))
	}
}
