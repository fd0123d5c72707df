// Package analytics delivers facade analytics events to the
// integration_analytics table, either inline or through the job queue.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/queuecx/dashboard/internal/jobs"
	"github.com/queuecx/dashboard/internal/remote"
)

// Direct writes each event synchronously.
type Direct struct {
	DB remote.Database
}

func (d Direct) Track(ctx context.Context, ev remote.AnalyticsEvent) error {
	if err := d.DB.InsertAnalytics(ctx, ev); err != nil {
		return fmt.Errorf("insert analytics %s: %w", ev.EventType, err)
	}
	return nil
}

// Enqueuer is the part of *asynq.Client the queue tracker uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue hands events to the worker so request latency never includes the
// analytics insert.
type Queue struct {
	Client Enqueuer
}

func (q Queue) Track(ctx context.Context, ev remote.AnalyticsEvent) error {
	task, err := jobs.NewTrackEventTask(jobs.TrackEventPayload{
		EventType:  ev.EventType,
		UserID:     ev.UserID,
		Source:     ev.Source,
		Metadata:   ev.Metadata,
		OccurredAt: ev.CreatedAt,
	})
	if err != nil {
		return err
	}
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.EventType, err)
	}
	return nil
}

// Handler returns the worker handler for jobs.TaskTrackEvent.
func Handler(db remote.Database, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p jobs.TrackEventPayload
		if err := jobs.Decode(t, &p); err != nil {
			log.Error().Err(err).Msg("dropping analytics task")
			return err
		}
		ev := remote.AnalyticsEvent{
			EventType: p.EventType,
			UserID:    p.UserID,
			Source:    p.Source,
			Metadata:  p.Metadata,
			CreatedAt: p.OccurredAt,
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		if err := (Direct{DB: db}).Track(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event", p.EventType).Bool("retry", jobs.IsRetryable(err)).Msg("track event failed")
			return jobs.Settle(err)
		}
		return nil
	}
}
