package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTrackEvent   = "analytics:track_event"
	TaskSendInterest = "email:interest_submission"
)

// Queue names and weights served by the worker.
const (
	QueueAnalytics = "analytics"
	QueueEmail     = "email"
)

var Queues = map[string]int{
	QueueEmail:     10, // user-visible, higher priority
	QueueAnalytics: 5,
}

type TrackEventPayload struct {
	EventType  string         `json:"event_type"`
	UserID     *string        `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type SendInterestPayload struct {
	To      string `json:"to"`
	ReplyTo string `json:"reply_to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func NewTrackEventTask(p TrackEventPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal track event: %w", err)
	}
	return asynq.NewTask(TaskTrackEvent, b, asynq.Queue(QueueAnalytics), asynq.MaxRetry(5)), nil
}

func NewSendInterestTask(p SendInterestPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal interest email: %w", err)
	}
	return asynq.NewTask(TaskSendInterest, b, asynq.Queue(QueueEmail), asynq.MaxRetry(10)), nil
}

// Decode unmarshals a task payload. A malformed payload is never retried.
func Decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("bad %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// IsRetryable reports whether a handler error looks transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		return false
	}
	errStr := strings.ToLower(err.Error())

	// network and connectivity
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") {
		return true
	}

	// SMTP 4xx replies are temporary by definition
	if strings.Contains(errStr, "421") ||
		strings.Contains(errStr, "450") ||
		strings.Contains(errStr, "451") ||
		strings.Contains(errStr, "452") {
		return true
	}

	// postgres: too many connections, serialization failure, deadlock
	if strings.Contains(errStr, "53300") ||
		strings.Contains(errStr, "40001") ||
		strings.Contains(errStr, "40p01") {
		return true
	}
	return false
}

// Settle maps a handler error to what asynq should do with it: transient
// errors are returned for retry, everything else is dropped.
func Settle(err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}
