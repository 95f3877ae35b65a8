package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/waitlist/internal/platform/apperr"
)

var (
	// ErrNotPending is returned when a claim or delivery write finds the
	// notification already sent, failed or cancelled.
	ErrNotPending = errors.New("notification is not pending")
	// ErrClaimed is returned when another dispatcher holds a live claim.
	ErrClaimed = fmt.Errorf("notification is being dispatched: %w", apperr.ErrConflict)
	// ErrClaimLost is returned by UpdateDelivery when the claim passed to
	// another dispatcher before the outcome was written.
	ErrClaimLost = errors.New("notification claim lost")
	// ErrNotCancellable is returned when cancelling a notification that is
	// no longer pending.
	ErrNotCancellable = fmt.Errorf("notification is not pending: %w", apperr.ErrConflict)
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// Claim takes a pending notification for token until now+lease. A claim
	// already held by token is extended. It fails with ErrNotPending or
	// ErrClaimed when the notification cannot be taken.
	Claim(ctx context.Context, id, token uuid.UUID, now time.Time, lease time.Duration) (*Notification, error)
	// ClaimPendingDue claims up to limit pending, due, unclaimed
	// notifications for token until now+lease and returns them.
	ClaimPendingDue(ctx context.Context, token uuid.UUID, now time.Time, lease time.Duration, limit int) ([]*Notification, error)
	// UpdateDelivery persists status, sentAt, scheduledFor and metadata of a
	// notification claimed by token and releases the claim. The write only
	// applies while the notification is pending and token still holds it.
	UpdateDelivery(ctx context.Context, n *Notification, token uuid.UUID) error
	// Cancel marks a pending notification cancelled unless a dispatcher holds
	// a live claim on it.
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) (*Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Notification, int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
