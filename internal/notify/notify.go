// Package notify delivers operational e-mail.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"revenue-service/internal/config"
)

type Attachment struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

type Email struct {
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	HTMLBody    string       `json:"html_body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Sender delivers an e-mail. Implementations may queue it.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// Recipients merges address lists, dropping blanks and case-insensitive
// duplicates while keeping first-seen order.
func Recipients(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, addr := range list {
			addr = strings.TrimSpace(addr)
			key := strings.ToLower(addr)
			if addr == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, addr)
		}
	}
	return out
}

// SMTPSender sends synchronously over SMTP.
type SMTPSender struct {
	cfg    config.MailConfig
	logger *zap.Logger
}

func NewSMTPSender(cfg config.MailConfig, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) Send(ctx context.Context, e Email) error {
	if len(e.To) == 0 {
		return errors.New("notify: e-mail has no recipients")
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("notify: from address: %w", err)
	}
	if err := msg.To(e.To...); err != nil {
		return fmt.Errorf("notify: to address: %w", err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextHTML, e.HTMLBody)
	for _, a := range e.Attachments {
		if err := msg.AttachReader(a.Name, bytes.NewReader(a.Content)); err != nil {
			return fmt.Errorf("notify: attach %s: %w", a.Name, err)
		}
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %q: %w", e.Subject, err)
	}

	s.logger.Info("E-mail sent", zap.String("subject", e.Subject), zap.Strings("to", e.To))
	return nil
}
