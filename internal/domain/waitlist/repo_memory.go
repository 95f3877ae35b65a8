package waitlist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/waitlist/internal/platform/db"
)

// MemoryRepo is an in-process Repository. Row locks are provided by the
// serialization of db.MemoryTx; writes inside one are undone on failure.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{entries: make(map[uuid.UUID]*Entry)}
}

func (r *MemoryRepo) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.ID]; exists {
		return db.Wrap("create waitlist entry", fmt.Errorf("duplicate id %s", e.ID))
	}
	r.entries[e.ID] = e.clone()
	id := e.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, db.Wrap(fmt.Sprintf("get waitlist entry %s", id), db.ErrNotFound)
	}
	return e.clone(), nil
}

func (r *MemoryRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryRepo) Update(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[e.ID]
	if !ok {
		return db.Wrap("update waitlist entry", db.ErrNotFound)
	}
	next := e.clone()
	if prev.ContactAttempts > next.ContactAttempts {
		next.ContactAttempts = prev.ContactAttempts
	}
	next.RequestDate = prev.RequestDate
	next.CreatedAt = prev.CreatedAt
	r.entries[e.ID] = next
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.entries[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryRepo) matches(e *Entry, f SearchFilter) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.UrgencyLevel != "" && e.UrgencyLevel != f.UrgencyLevel {
		return false
	}
	if name := strings.TrimSpace(f.PatientName); name != "" &&
		!strings.Contains(strings.ToLower(e.PatientName), strings.ToLower(name)) {
		return false
	}
	return true
}

func (r *MemoryRepo) Search(_ context.Context, f SearchFilter, limit, offset int) ([]*Entry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Entry
	for _, e := range r.entries {
		if r.matches(e, f) {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.UrgencyLevel.Rank() != b.UrgencyLevel.Rank() {
			return a.UrgencyLevel.Rank() > b.UrgencyLevel.Rank()
		}
		if !a.RequestDate.Equal(b.RequestDate) {
			return a.RequestDate.Before(b.RequestDate)
		}
		return a.ID.String() < b.ID.String()
	})

	total := len(all)
	if offset >= total {
		return []*Entry{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Entry, 0, end-offset)
	for _, e := range all[offset:end] {
		out = append(out, e.clone())
	}
	return out, total, nil
}

func (r *MemoryRepo) ListStale(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*Entry
	for _, e := range r.entries {
		if e.Status == StatusWaiting && e.RequestDate.Before(cutoff) {
			stale = append(stale, e)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].RequestDate.Before(stale[j].RequestDate) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]uuid.UUID, 0, len(stale))
	for _, e := range stale {
		ids = append(ids, e.ID)
	}
	return ids, nil
}
