// Package delivery moves rendered notification text to patients and staff
// over email, SMS and the internal staff channel.
package delivery

import (
	"context"
	"errors"
	"fmt"
)

// Channel names a delivery path.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelInternal Channel = "internal"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// InternalSender posts a message to the staff-facing channel.
type InternalSender interface {
	SendInternal(ctx context.Context, recipientID, body string) error
}

// Message is one rendered notification ready to be handed to a channel.
type Message struct {
	NotificationID string
	RecipientID    string
	Email          string
	Phone          string
	Subject        string
	Body           string
}

// ErrNoAddress is returned when the recipient has no address for a channel.
var ErrNoAddress = errors.New("recipient has no address for channel")

// TransportError reports a failed delivery on a single channel.
type TransportError struct {
	Channel Channel
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s delivery: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
