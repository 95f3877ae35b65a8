package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeWaitlistUpdate       Type = "waitlist_update"
	TypeAppointmentAvailable Type = "appointment_available"
	TypeContactReminder      Type = "contact_reminder"
	TypeStatusChange         Type = "status_change"
)

func (t Type) Valid() bool {
	switch t {
	case TypeWaitlistUpdate, TypeAppointmentAvailable, TypeContactReminder, TypeStatusChange:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Metadata keys written by the service.
const (
	MetaAttempts  = "attempts"
	MetaLastError = "lastError"
	MetaChannels  = "channels"
	MetaFailedAt  = "failedAt"
)

// Metadata is the free-form JSON object stored with a notification.
type Metadata map[string]any

// Int reads a numeric value regardless of whether it came from Go code or
// from a JSON round trip.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m Metadata) clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Notification is a message addressed to a waitlist patient or to staff.
type Notification struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Type         Type       `db:"type" json:"type"`
	RecipientID  string     `db:"recipient_id" json:"recipient_id"`
	Message      string     `db:"message" json:"message"`
	Priority     Priority   `db:"priority" json:"priority"`
	Metadata     Metadata   `db:"metadata" json:"metadata"`
	Status       Status     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ClaimedUntil *time.Time `db:"claimed_until" json:"-"`
	ClaimToken   *uuid.UUID `db:"claim_token" json:"-"`
}

// Attempts is the number of failed deliveries recorded so far.
func (n *Notification) Attempts() int {
	return n.Metadata.Int(MetaAttempts)
}

// Due reports whether the notification may be dispatched at now.
func (n *Notification) Due(now time.Time) bool {
	return n.ScheduledFor == nil || !n.ScheduledFor.After(now)
}

// claimLive reports whether a dispatcher holds n at now.
func (n *Notification) claimLive(now time.Time) bool {
	return n.ClaimedUntil != nil && n.ClaimedUntil.After(now)
}

// claimedByOther reports whether a live claim on n belongs to someone other
// than token.
func (n *Notification) claimedByOther(token uuid.UUID, now time.Time) bool {
	return n.claimLive(now) && (n.ClaimToken == nil || *n.ClaimToken != token)
}

func (n *Notification) clone() *Notification {
	c := *n
	c.Metadata = n.Metadata.clone()
	if n.ScheduledFor != nil {
		t := *n.ScheduledFor
		c.ScheduledFor = &t
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	if n.ClaimedUntil != nil {
		t := *n.ClaimedUntil
		c.ClaimedUntil = &t
	}
	if n.ClaimToken != nil {
		tok := *n.ClaimToken
		c.ClaimToken = &tok
	}
	return &c
}
