// Package interest handles submissions of the marketing site's interest form.
package interest

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/queuecx/dashboard/internal/backend"
	"github.com/queuecx/dashboard/internal/email"
	"github.com/queuecx/dashboard/internal/jobs"
)

const (
	Recipient  = "relations@queue.cx"
	MaxMessage = 5000
	MaxContext = 100
)

var Identities = []string{"Customer", "Business", "Open Source Contributor"}

type Submission struct {
	Email             string `json:"email"`
	Identity          string `json:"identity"`
	Message           string `json:"message"`
	SubmissionContext string `json:"submissionContext"`
}

// Validate checks every field and returns a *backend.ValidationError naming
// the first bad one.
func (s Submission) Validate() error {
	if s.Email == "" || s.Identity == "" || s.Message == "" || s.SubmissionContext == "" {
		return &backend.ValidationError{Message: "missing required fields"}
	}
	if !backend.ValidEmail(s.Email) {
		return &backend.ValidationError{Field: "email", Message: "invalid email format"}
	}
	if !slices.Contains(Identities, s.Identity) {
		return &backend.ValidationError{Field: "identity", Message: "invalid identity selected"}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(s.Message)); n < 1 || n > MaxMessage {
		return &backend.ValidationError{Field: "message", Message: fmt.Sprintf("message is invalid or too long (max %d characters)", MaxMessage)}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(s.SubmissionContext)); n < 1 || n > MaxContext {
		return &backend.ValidationError{Field: "submissionContext", Message: "submission context is missing or invalid"}
	}
	return nil
}

// Subject is "New QCX Demo Request from …" for demo requests and
// "New QCX {context} Submission from …" otherwise.
func (s Submission) Subject() string {
	if strings.Contains(strings.ToLower(s.SubmissionContext), "demo") {
		return "New QCX Demo Request from " + s.Email
	}
	return fmt.Sprintf("New QCX %s Submission from %s", s.SubmissionContext, s.Email)
}

var bodyTmpl = template.Must(template.New("interest").Parse(`<div style="font-family: Arial, sans-serif; line-height: 1.6;">
  <h2 style="color: #333;">New Submission: {{.SubmissionContext}}</h2>
  <p><strong>Email:</strong> {{.Email}}</p>
  <p><strong>Identity:</strong> {{.Identity}}</p>
  <p><strong>Context:</strong> {{.SubmissionContext}}</p>
  <p><strong>Message:</strong></p>
  <p style="white-space: pre-wrap; background-color: #f9f9f9; border: 1px solid #eee; padding: 10px;">{{.Message}}</p>
  <hr/>
  <p style="font-size: 0.9em; color: #555;">This email was sent from the QCX website.</p>
</div>`))

// Message renders the notification sent to the relations inbox. Replies go
// to the submitter.
func (s Submission) Message() (email.Message, error) {
	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, s); err != nil {
		return email.Message{}, fmt.Errorf("render interest email: %w", err)
	}
	return email.Message{To: Recipient, ReplyTo: s.Email, Subject: s.Subject(), HTML: buf.String()}, nil
}

// Enqueuer is the part of *asynq.Client used to defer delivery.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service accepts submissions. With a Queue set, delivery happens in the
// worker; otherwise Sender is called inline.
type Service struct {
	Sender email.Sender
	Queue  Enqueuer
	Log    zerolog.Logger
}

func (s *Service) Submit(ctx context.Context, sub Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	msg, err := sub.Message()
	if err != nil {
		return err
	}
	if s.Queue != nil {
		task, err := jobs.NewSendInterestTask(jobs.SendInterestPayload(msg))
		if err != nil {
			return err
		}
		info, err := s.Queue.EnqueueContext(ctx, task)
		if err != nil {
			return fmt.Errorf("enqueue interest email: %w", err)
		}
		s.Log.Info().Str("task_id", info.ID).Str("from", sub.Email).Msg("interest email queued")
		return nil
	}
	if err := s.Sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send interest email: %w", err)
	}
	s.Log.Info().Str("from", sub.Email).Str("context", sub.SubmissionContext).Msg("interest email sent")
	return nil
}

// Handler returns the worker handler for jobs.TaskSendInterest.
func Handler(sender email.Sender, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p jobs.SendInterestPayload
		if err := jobs.Decode(t, &p); err != nil {
			log.Error().Err(err).Msg("dropping interest email task")
			return err
		}
		if err := sender.Send(ctx, email.Message(p)); err != nil {
			log.Warn().Err(err).Str("reply_to", p.ReplyTo).Bool("retry", jobs.IsRetryable(err)).Msg("interest email failed")
			return jobs.Settle(err)
		}
		log.Info().Str("reply_to", p.ReplyTo).Msg("interest email sent")
		return nil
	}
}
