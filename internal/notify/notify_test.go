package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"revenue-service/internal/config"
)

func TestRecipients(t *testing.T) {
	got := Recipients(
		[]string{"ops@example.com", " ", "IT@example.com"},
		[]string{"it@example.com", "approver@example.com"},
		nil,
	)
	assert.Equal(t, []string{"ops@example.com", "IT@example.com", "approver@example.com"}, got)
}

func TestSMTPSenderRejectsEmptyRecipients(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{Host: "localhost", Port: 25, From: "a@example.com"}, zap.NewNop())
	err := s.Send(context.Background(), Email{Subject: "x"})
	assert.Error(t, err)
}

func TestSMTPSenderRejectsBadFrom(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{Host: "localhost", Port: 25, From: "not an address"}, zap.NewNop())
	err := s.Send(context.Background(), Email{To: []string{"b@example.com"}, Subject: "x"})
	assert.Error(t, err)
}
