package email

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFromConfigSelectsBackend(t *testing.T) {
	p, err := NewFromConfig(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &NoOpProvider{}, p)

	_, err = NewFromConfig(config.Config{Email: config.EmailConfig{Provider: "postmark", From: "billing@acme.test"}}, zap.NewNop())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	p, err = NewFromConfig(config.Config{Email: config.EmailConfig{
		Provider:             "postmark",
		From:                 "billing@acme.test",
		PostmarkServerToken:  "server",
		PostmarkAccountToken: "account",
	}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &PostmarkProvider{}, p)

	_, err = NewFromConfig(config.Config{Email: config.EmailConfig{Provider: "pigeon"}}, zap.NewNop())
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestSendRequiresRecipients(t *testing.T) {
	p := NewSMTP(SMTPConfig{Host: "localhost", Port: 25})
	err := p.Send(context.Background(), Message{Subject: "hi"})
	assert.True(t, errors.Is(err, ErrNoRecipients))
}
