// Package email sends outbound HTML mail.
package email

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Message is one HTML email. ReplyTo is optional.
type Message struct {
	To      string `json:"to"`
	ReplyTo string `json:"reply_to,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// StdoutSender logs messages instead of delivering them.
type StdoutSender struct {
	Log zerolog.Logger
}

func (s StdoutSender) Send(_ context.Context, msg Message) error {
	s.Log.Info().Str("to", msg.To).Str("reply_to", msg.ReplyTo).Str("subject", msg.Subject).Msg(msg.HTML)
	return nil
}

// SMTPSender delivers through a plain SMTP relay (MailHog on localhost:1025
// during development).
type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

func NewSMTPSender(addr, from string) *SMTPSender {
	if addr == "" {
		addr = "localhost:1025"
	}
	if from == "" {
		from = "no-reply@queue.cx"
	}
	return &SMTPSender{Addr: addr, From: from}
}

// WithPlainAuth enables PLAIN auth against the relay host.
func (s *SMTPSender) WithPlainAuth(username, password string) *SMTPSender {
	if username != "" {
		host := s.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		s.Auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("email: empty recipient")
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("email: bad recipient %q: %w", msg.To, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body := s.compose(msg, time.Now())
	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{msg.To}, body); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message, now time.Time) []byte {
	var b strings.Builder
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }
	header("From", s.From)
	header("To", msg.To)
	if msg.ReplyTo != "" {
		header("Reply-To", msg.ReplyTo)
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}
