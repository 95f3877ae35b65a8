package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// GetForUpdate reads an entry and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	// Search returns matching entries most urgent first, oldest request first
	// within an urgency level, plus the total number of matches.
	Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Entry, int, error)
	// ListStale returns ids of waiting entries requested before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}
