package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/waitlist/internal/platform/db"
)

// MemoryRepo is an in-process Repository. Writes made inside a db.MemoryTx
// are undone if the transaction fails.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]*Notification)}
}

func (r *MemoryRepo) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Metadata == nil {
		n.Metadata = Metadata{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[n.ID]; exists {
		return db.Wrap("create notification", fmt.Errorf("duplicate id %s", n.ID))
	}
	r.items[n.ID] = n.clone()
	id := n.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[id]
	if !ok {
		return nil, db.Wrap(fmt.Sprintf("get notification %s", id), db.ErrNotFound)
	}
	return n.clone(), nil
}

// set replaces the stored notification and restores prev if the surrounding
// transaction rolls back. Callers hold r.mu.
func (r *MemoryRepo) set(ctx context.Context, prev, next *Notification) {
	r.items[next.ID] = next
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[prev.ID] = prev
		r.mu.Unlock()
	})
}

func (r *MemoryRepo) Claim(ctx context.Context, id, token uuid.UUID, now time.Time, lease time.Duration) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[id]
	if !ok {
		return nil, db.Wrap(fmt.Sprintf("claim notification %s", id), db.ErrNotFound)
	}
	if prev.Status != StatusPending {
		return nil, fmt.Errorf("claim notification %s (%s): %w", id, prev.Status, ErrNotPending)
	}
	if prev.claimedByOther(token, now) {
		return nil, fmt.Errorf("claim notification %s: %w", id, ErrClaimed)
	}
	next := prev.clone()
	until, tok := now.Add(lease), token
	next.ClaimedUntil, next.ClaimToken = &until, &tok
	r.set(ctx, prev, next)
	return next.clone(), nil
}

func (r *MemoryRepo) UpdateDelivery(ctx context.Context, n *Notification, token uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[n.ID]
	if !ok {
		return db.Wrap("update notification", db.ErrNotFound)
	}
	if prev.Status != StatusPending {
		return fmt.Errorf("update notification %s (%s): %w", n.ID, prev.Status, ErrNotPending)
	}
	if prev.ClaimToken == nil || *prev.ClaimToken != token {
		return fmt.Errorf("update notification %s: %w", n.ID, ErrClaimLost)
	}
	next := prev.clone()
	next.Status = n.Status
	next.Metadata = n.Metadata.clone()
	next.ScheduledFor = n.ScheduledFor
	next.SentAt = n.SentAt
	next.ClaimedUntil, next.ClaimToken = nil, nil
	r.set(ctx, prev, next)
	n.ClaimedUntil, n.ClaimToken = nil, nil
	return nil
}

func (r *MemoryRepo) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[id]
	if !ok {
		return nil, db.Wrap(fmt.Sprintf("cancel notification %s", id), db.ErrNotFound)
	}
	if prev.Status != StatusPending {
		return nil, fmt.Errorf("cancel %s (%s): %w", id, prev.Status, ErrNotCancellable)
	}
	if prev.claimLive(now) {
		return nil, fmt.Errorf("cancel %s: %w", id, ErrClaimed)
	}
	next := prev.clone()
	next.Status = StatusCancelled
	next.ClaimedUntil, next.ClaimToken = nil, nil
	r.set(ctx, prev, next)
	return next.clone(), nil
}

func (r *MemoryRepo) ClaimPendingDue(ctx context.Context, token uuid.UUID, now time.Time, lease time.Duration, limit int) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*Notification
	for _, n := range r.items {
		if n.Status != StatusPending || !n.Due(now) || n.claimLive(now) {
			continue
		}
		due = append(due, n)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		switch {
		case a.ScheduledFor == nil && b.ScheduledFor != nil:
			return true
		case a.ScheduledFor != nil && b.ScheduledFor == nil:
			return false
		case a.ScheduledFor != nil && !a.ScheduledFor.Equal(*b.ScheduledFor):
			return a.ScheduledFor.Before(*b.ScheduledFor)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]*Notification, 0, len(due))
	for _, prev := range due {
		next := prev.clone()
		claimed, tok := until, token
		next.ClaimedUntil, next.ClaimToken = &claimed, &tok
		r.set(ctx, prev, next)
		out = append(out, next.clone())
	}
	return out, nil
}

func (r *MemoryRepo) ListByRecipient(_ context.Context, recipientID string, limit, offset int) ([]*Notification, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Notification
	for _, n := range r.items {
		if n.RecipientID == recipientID {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []*Notification{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Notification, 0, end-offset)
	for _, n := range all[offset:end] {
		out = append(out, n.clone())
	}
	return out, total, nil
}

func (r *MemoryRepo) CountByStatus(_ context.Context) (map[Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, n := range r.items {
		counts[n.Status]++
	}
	return counts, nil
}
