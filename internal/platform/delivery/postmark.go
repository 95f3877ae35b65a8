package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkConfig holds the Postmark credentials and envelope addresses.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
	Tag          string
}

// PostmarkEmailSender sends plain-text email through Postmark's
// transactional API.
type PostmarkEmailSender struct {
	client *postmark.Client
	cfg    PostmarkConfig
}

func NewPostmarkEmailSender(cfg PostmarkConfig) (*PostmarkEmailSender, error) {
	if cfg.ServerToken == "" {
		return nil, errors.New("postmark: server token is required")
	}
	if cfg.From == "" {
		return nil, errors.New("postmark: sender address is required")
	}
	if cfg.Tag == "" {
		cfg.Tag = "waitlist"
	}
	return &PostmarkEmailSender{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

func (s *PostmarkEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.cfg.From,
		ReplyTo:  s.cfg.ReplyTo,
		To:       to,
		Subject:  subject,
		Tag:      s.cfg.Tag,
		TextBody: body,
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
