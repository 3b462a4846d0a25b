package email

import (
	"context"
	"errors"
)

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To       []string
	Subject  string
	HTMLBody string
	Tag      string
}

var (
	ErrInvalidConfig  = errors.New("invalid_email_config")
	ErrNoRecipients   = errors.New("email_no_recipients")
	ErrFailedToSend   = errors.New("email_send_failed")
	ErrUnknownBackend = errors.New("unknown_email_provider")
)

func (m Message) validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	for _, to := range m.To {
		if to == "" {
			return ErrNoRecipients
		}
	}
	return nil
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
