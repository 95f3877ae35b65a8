package waitlist

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/waitlist/internal/domain/notification"
	"github.com/ehr/waitlist/internal/platform/db"
)

// RecipientDirectory resolves notification recipients that are waitlist
// entries.
type RecipientDirectory struct {
	repo Repository
}

func NewRecipientDirectory(repo Repository) *RecipientDirectory {
	return &RecipientDirectory{repo: repo}
}

func (d *RecipientDirectory) LookupRecipient(ctx context.Context, id string) (*notification.Recipient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %w", id, db.ErrNotFound)
	}
	e, err := d.repo.GetByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	r := &notification.Recipient{ID: id, Name: e.PatientName}
	if e.ContactEmail != nil {
		r.Email = *e.ContactEmail
	}
	if e.ContactPhone != nil {
		r.Phone = *e.ContactPhone
	}
	return r, nil
}
