package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/observability"
	"kortrade/internal/queue"
	"kortrade/internal/repository"
)

// ActivityEntry is one audit event. Detail is stored as a JSON object.
type ActivityEntry struct {
	ActorID    uint
	Action     string
	TargetType string
	TargetID   uint
	Detail     map[string]interface{}
	IP         string
}

// ActivityPublisher hands activity rows to a durable queue.
type ActivityPublisher interface {
	PublishJSON(ctx context.Context, queue string, v any) error
}

// ActivityRecorder writes activity logs either directly or through the
// activity_logs queue. Recording never fails the calling request.
type ActivityRecorder struct {
	repo      repository.ActivityLogRepository
	publisher ActivityPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewActivityRecorder(repo repository.ActivityLogRepository) *ActivityRecorder {
	return &ActivityRecorder{
		repo:   repo,
		logger: middleware.Component("activity"),
		now:    time.Now,
	}
}

// UseQueue routes subsequent records through p.
func (r *ActivityRecorder) UseQueue(p ActivityPublisher) {
	r.publisher = p
}

func (r *ActivityRecorder) toModel(e ActivityEntry) (*models.ActivityLog, error) {
	row := &models.ActivityLog{
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		IP:         e.IP,
		CreatedAt:  r.now().UTC(),
	}
	if e.ActorID != 0 {
		actor := e.ActorID
		row.ActorID = &actor
	}
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return nil, err
		}
		row.Detail = string(b)
	}
	return row, nil
}

// Record stores e. Failures are logged and counted.
func (r *ActivityRecorder) Record(ctx context.Context, e ActivityEntry) {
	if r == nil || r.repo == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	row, err := r.toModel(e)
	if err != nil {
		r.logger.WarnContext(ctx, "activity detail not serializable", slog.String("action", e.Action), slog.Any("error", err))
		return
	}

	if r.publisher != nil {
		err := r.publisher.PublishJSON(ctx, queue.ActivityLogQueue, row)
		if err == nil {
			observability.ActivityLogQueue.WithLabelValues("queue", "ok").Inc()
			return
		}
		observability.ActivityLogQueue.WithLabelValues("queue", "error").Inc()
		r.logger.WarnContext(ctx, "activity publish failed, writing directly", slog.Any("error", err))
	}

	if err := r.repo.Create(ctx, row); err != nil {
		observability.ActivityLogQueue.WithLabelValues("direct", "error").Inc()
		r.logger.ErrorContext(ctx, "activity log write failed", slog.String("action", e.Action), slog.Any("error", err))
		return
	}
	observability.ActivityLogQueue.WithLabelValues("direct", "ok").Inc()
}

// Persist is the queue consumer handler.
func (r *ActivityRecorder) Persist(ctx context.Context, body []byte) error {
	var row models.ActivityLog
	if err := json.Unmarshal(body, &row); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrMalformed, err)
	}
	if row.Action == "" {
		return fmt.Errorf("%w: missing action", queue.ErrMalformed)
	}
	row.ID = 0
	if err := r.repo.Create(ctx, &row); err != nil {
		observability.ActivityLogQueue.WithLabelValues("consumer", "error").Inc()
		return err
	}
	observability.ActivityLogQueue.WithLabelValues("consumer", "ok").Inc()
	return nil
}
