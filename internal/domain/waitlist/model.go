package waitlist

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/waitlist/pkg/timerange"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusContacted Status = "contacted"
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusContacted, StatusScheduled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	return u.Rank() > 0
}

// Rank orders urgency levels; higher is more urgent.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// Entry is a patient's request to be offered an earlier appointment.
type Entry struct {
	ID                  uuid.UUID         `db:"id" json:"id"`
	PatientName         string            `db:"patient_name" json:"patient_name"`
	ContactEmail        *string           `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone        *string           `db:"contact_phone" json:"contact_phone,omitempty"`
	Status              Status            `db:"status" json:"status"`
	UrgencyLevel        Urgency           `db:"urgency_level" json:"urgency_level"`
	RequestDate         time.Time         `db:"request_date" json:"request_date"`
	PreferredTimeRanges []timerange.Range `db:"preferred_time_ranges" json:"preferred_time_ranges"`
	LastContactAttempt  *time.Time        `db:"last_contact_attempt" json:"last_contact_attempt,omitempty"`
	ContactAttempts     int               `db:"contact_attempts" json:"contact_attempts"`
	Notes               *string           `db:"notes" json:"notes,omitempty"`
	InternalNotes       *string           `db:"internal_notes" json:"internal_notes,omitempty"`
	StatusChangedAt     *time.Time        `db:"status_changed_at" json:"status_changed_at,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.ContactEmail = clonePtr(e.ContactEmail)
	c.ContactPhone = clonePtr(e.ContactPhone)
	c.Notes = clonePtr(e.Notes)
	c.InternalNotes = clonePtr(e.InternalNotes)
	c.LastContactAttempt = clonePtr(e.LastContactAttempt)
	c.StatusChangedAt = clonePtr(e.StatusChangedAt)
	if e.PreferredTimeRanges != nil {
		c.PreferredTimeRanges = make([]timerange.Range, len(e.PreferredTimeRanges))
		for i, r := range e.PreferredTimeRanges {
			r.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
			c.PreferredTimeRanges[i] = r
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ContactInfo is how a patient can be reached. At least one is required.
type ContactInfo struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// CreateRequest is the input to CreateEntry.
type CreateRequest struct {
	PatientName         string            `json:"patient_name"`
	ContactInfo         ContactInfo       `json:"contact_info"`
	PreferredTimeRanges []timerange.Range `json:"preferred_time_ranges"`
	Notes               *string           `json:"notes"`
	UrgencyLevel        Urgency           `json:"urgency_level"`
}

// Update is a partial change to an entry. Nil fields are left untouched; an
// empty contact string clears that contact method.
type Update struct {
	PatientName         *string            `json:"patient_name"`
	ContactEmail        *string            `json:"contact_email"`
	ContactPhone        *string            `json:"contact_phone"`
	Status              *Status            `json:"status"`
	UrgencyLevel        *Urgency           `json:"urgency_level"`
	PreferredTimeRanges *[]timerange.Range `json:"preferred_time_ranges"`
	Notes               *string            `json:"notes"`
	InternalNotes       *string            `json:"internal_notes"`
}

func (u Update) apply(e *Entry) {
	if u.PatientName != nil {
		e.PatientName = *u.PatientName
	}
	if u.ContactEmail != nil {
		e.ContactEmail = optional(*u.ContactEmail)
	}
	if u.ContactPhone != nil {
		e.ContactPhone = optional(*u.ContactPhone)
	}
	if u.UrgencyLevel != nil {
		e.UrgencyLevel = *u.UrgencyLevel
	}
	if u.PreferredTimeRanges != nil {
		e.PreferredTimeRanges = *u.PreferredTimeRanges
	}
	if u.Notes != nil {
		e.Notes = clonePtr(u.Notes)
	}
	if u.InternalNotes != nil {
		e.InternalNotes = clonePtr(u.InternalNotes)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SearchFilter narrows SearchEntries. Zero values match everything;
// PatientName is a case-insensitive substring.
type SearchFilter struct {
	Status       Status
	UrgencyLevel Urgency
	PatientName  string
}
