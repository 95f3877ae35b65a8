package delivery

import (
	"context"
	"fmt"
	"time"
)

const DefaultTimeout = 10 * time.Second

// Transport routes a Message to the sender for a channel and bounds every
// call with a timeout. A sender that ignores its context still cannot hold
// the caller past the deadline.
type Transport struct {
	email    EmailSender
	sms      SMSSender
	internal InternalSender
	timeout  time.Duration
}

func NewTransport(email EmailSender, sms SMSSender, internal InternalSender, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transport{email: email, sms: sms, internal: internal, timeout: timeout}
}

// Send delivers msg on ch. Every failure, including a timeout, is returned as
// a *TransportError.
func (t *Transport) Send(ctx context.Context, ch Channel, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.route(ctx, ch, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return &TransportError{Channel: ch, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &TransportError{Channel: ch, Err: ctx.Err()}
	}
}

func (t *Transport) route(ctx context.Context, ch Channel, msg Message) error {
	switch ch {
	case ChannelEmail:
		if t.email == nil {
			return fmt.Errorf("email sender not configured")
		}
		if msg.Email == "" {
			return ErrNoAddress
		}
		return t.email.SendEmail(ctx, msg.Email, msg.Subject, msg.Body)
	case ChannelSMS:
		if t.sms == nil {
			return fmt.Errorf("sms sender not configured")
		}
		if msg.Phone == "" {
			return ErrNoAddress
		}
		return t.sms.SendSMS(ctx, msg.Phone, msg.Body)
	case ChannelInternal:
		if t.internal == nil {
			return fmt.Errorf("internal sender not configured")
		}
		return t.internal.SendInternal(ctx, msg.RecipientID, msg.Body)
	default:
		return fmt.Errorf("unsupported channel: %s", ch)
	}
}
