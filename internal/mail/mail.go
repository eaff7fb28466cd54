// Package mail delivers the verification and 2FA links. Sending is
// synchronous; failures propagate to the caller.
package mail

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/config"
)

// Sender delivers a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewSender picks SMTP when a host is configured and the log otherwise.
func NewSender(cfg *config.Config, logger *slog.Logger) Sender {
	if cfg.SMTPHost == "" {
		logger.Warn("⚠️ [Mail] SMTP_HOST not set, emails will only be logged")
		return NewLogSender(logger)
	}
	return NewSMTPSender(cfg.SMTPHost, int(cfg.SMTPPort), cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom, logger)
}

// SMTPSender sends through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	logger *slog.Logger
}

func NewSMTPSender(host string, port int, user, password, from string, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
		logger: logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("❌ [Mail] Failed to send email", "to", to, "subject", subject, "error", err)
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}

	s.logger.Info("📧 [Mail] Email sent", "to", to, "subject", subject)
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("📧 [Mail] Email (not sent)", "to", to, "subject", subject, "body", body)
	return nil
}
