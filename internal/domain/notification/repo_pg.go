package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/waitlist/internal/platform/db"
)

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &notificationRepoPG{pool: pool} }

func (r *notificationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const notificationCols = `id, type, recipient_id, message, priority, metadata, status,
	created_at, scheduled_for, sent_at, claimed_until, claim_token`

func (r *notificationRepoPG) scan(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.Type, &n.RecipientID, &n.Message, &n.Priority, &n.Metadata, &n.Status,
		&n.CreatedAt, &n.ScheduledFor, &n.SentAt, &n.ClaimedUntil, &n.ClaimToken)
	if err != nil {
		return nil, err
	}
	if n.Metadata == nil {
		n.Metadata = Metadata{}
	}
	return &n, nil
}

func (r *notificationRepoPG) scanAll(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Metadata == nil {
		n.Metadata = Metadata{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (id, type, recipient_id, message, priority, metadata, status,
			created_at, scheduled_for, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		n.ID, n.Type, n.RecipientID, n.Message, n.Priority, n.Metadata, n.Status,
		n.CreatedAt, n.ScheduledFor, n.SentAt)
	return db.Wrap("create notification", err)
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		return nil, db.Wrap(fmt.Sprintf("get notification %s", id), err)
	}
	return n, nil
}

// currentStatus reads the status of id after a conditional write matched no
// row, so the caller can tell a missing row from a conflicting one.
func (r *notificationRepoPG) currentStatus(ctx context.Context, op string, id uuid.UUID) (Status, error) {
	var status Status
	err := r.conn(ctx).QueryRow(ctx, `SELECT status FROM notifications WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return "", db.Wrap(op, err)
	}
	return status, nil
}

func (r *notificationRepoPG) Claim(ctx context.Context, id, token uuid.UUID, now time.Time, lease time.Duration) (*Notification, error) {
	n, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE notifications SET claimed_until = $4, claim_token = $2
		WHERE id = $1 AND status = 'pending'
			AND (claimed_until IS NULL OR claimed_until <= $3 OR claim_token = $2)
		RETURNING `+notificationCols,
		id, token, now, now.Add(lease)))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, db.Wrap(fmt.Sprintf("claim notification %s", id), err)
	}
	op := fmt.Sprintf("claim notification %s", id)
	status, err := r.currentStatus(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if status != StatusPending {
		return nil, fmt.Errorf("%s (%s): %w", op, status, ErrNotPending)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrClaimed)
}

func (r *notificationRepoPG) UpdateDelivery(ctx context.Context, n *Notification, token uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET status=$2, metadata=$3, scheduled_for=$4, sent_at=$5,
			claimed_until=NULL, claim_token=NULL
		WHERE id = $1 AND status = 'pending' AND claim_token = $6`,
		n.ID, n.Status, n.Metadata, n.ScheduledFor, n.SentAt, token)
	if err != nil {
		return db.Wrap("update notification", err)
	}
	if tag.RowsAffected() == 0 {
		status, err := r.currentStatus(ctx, "update notification", n.ID)
		if err != nil {
			return err
		}
		if status != StatusPending {
			return fmt.Errorf("update notification %s (%s): %w", n.ID, status, ErrNotPending)
		}
		return fmt.Errorf("update notification %s: %w", n.ID, ErrClaimLost)
	}
	n.ClaimedUntil, n.ClaimToken = nil, nil
	return nil
}

func (r *notificationRepoPG) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (*Notification, error) {
	n, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE notifications SET status = 'cancelled', claimed_until = NULL, claim_token = NULL
		WHERE id = $1 AND status = 'pending' AND (claimed_until IS NULL OR claimed_until <= $2)
		RETURNING `+notificationCols,
		id, now))
	if err == nil {
		return n, nil
	}
	op := fmt.Sprintf("cancel notification %s", id)
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, db.Wrap(op, err)
	}
	status, err := r.currentStatus(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if status != StatusPending {
		return nil, fmt.Errorf("cancel %s (%s): %w", id, status, ErrNotCancellable)
	}
	return nil, fmt.Errorf("cancel %s: %w", id, ErrClaimed)
}

func (r *notificationRepoPG) ClaimPendingDue(ctx context.Context, token uuid.UUID, now time.Time, lease time.Duration, limit int) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE notifications SET claimed_until = $2, claim_token = $4
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'pending'
				AND (scheduled_for IS NULL OR scheduled_for <= $1)
				AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY scheduled_for ASC NULLS FIRST, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationCols,
		now, now.Add(lease), limit, token)
	if err != nil {
		return nil, db.Wrap("claim due notifications", err)
	}
	items, err := r.scanAll(rows)
	if err != nil {
		return nil, db.Wrap("claim due notifications", err)
	}
	return items, nil
}

func (r *notificationRepoPG) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1`, recipientID).Scan(&total); err != nil {
		return nil, 0, db.Wrap("count notifications", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationCols+` FROM notifications
		WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, 0, db.Wrap("list notifications", err)
	}
	items, err := r.scanAll(rows)
	if err != nil {
		return nil, 0, db.Wrap("list notifications", err)
	}
	return items, total, nil
}

func (r *notificationRepoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, db.Wrap("count notifications by status", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var c int
		if err := rows.Scan(&s, &c); err != nil {
			return nil, db.Wrap("count notifications by status", err)
		}
		counts[s] = c
	}
	return counts, db.Wrap("count notifications by status", rows.Err())
}
