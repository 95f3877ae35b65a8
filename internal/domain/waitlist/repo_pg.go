package waitlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/waitlist/internal/platform/db"
	"github.com/ehr/waitlist/pkg/timerange"
)

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &entryRepoPG{pool: pool} }

func (r *entryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const entryCols = `id, patient_name, contact_email, contact_phone, status, urgency_level,
	request_date, preferred_time_ranges, last_contact_attempt, contact_attempts,
	notes, internal_notes, status_changed_at, created_at, updated_at`

const urgencyOrder = `CASE urgency_level WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, request_date ASC`

func (r *entryRepoPG) scan(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PatientName, &e.ContactEmail, &e.ContactPhone, &e.Status, &e.UrgencyLevel,
		&e.RequestDate, &e.PreferredTimeRanges, &e.LastContactAttempt, &e.ContactAttempts,
		&e.Notes, &e.InternalNotes, &e.StatusChangedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func ranges(e *Entry) []timerange.Range {
	if e.PreferredTimeRanges == nil {
		return []timerange.Range{}
	}
	return e.PreferredTimeRanges
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO waitlist_entries (id, patient_name, contact_email, contact_phone, status, urgency_level,
			request_date, preferred_time_ranges, last_contact_attempt, contact_attempts,
			notes, internal_notes, status_changed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		e.ID, e.PatientName, e.ContactEmail, e.ContactPhone, e.Status, e.UrgencyLevel,
		e.RequestDate, ranges(e), e.LastContactAttempt, e.ContactAttempts,
		e.Notes, e.InternalNotes, e.StatusChangedAt, e.CreatedAt, e.UpdatedAt)
	return db.Wrap("create waitlist entry", err)
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM waitlist_entries WHERE id = $1`, id))
	if err != nil {
		return nil, db.Wrap(fmt.Sprintf("get waitlist entry %s", id), err)
	}
	return e, nil
}

func (r *entryRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM waitlist_entries WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.Wrap(fmt.Sprintf("lock waitlist entry %s", id), err)
	}
	return e, nil
}

// Update never lowers contact_attempts.
func (r *entryRepoPG) Update(ctx context.Context, e *Entry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE waitlist_entries SET patient_name=$2, contact_email=$3, contact_phone=$4, status=$5,
			urgency_level=$6, preferred_time_ranges=$7, last_contact_attempt=$8,
			contact_attempts=GREATEST(contact_attempts, $9), notes=$10, internal_notes=$11,
			status_changed_at=$12, updated_at=$13
		WHERE id = $1`,
		e.ID, e.PatientName, e.ContactEmail, e.ContactPhone, e.Status,
		e.UrgencyLevel, ranges(e), e.LastContactAttempt,
		e.ContactAttempts, e.Notes, e.InternalNotes,
		e.StatusChangedAt, e.UpdatedAt)
	if err != nil {
		return db.Wrap("update waitlist entry", err)
	}
	if tag.RowsAffected() == 0 {
		return db.Wrap("update waitlist entry", db.ErrNotFound)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *entryRepoPG) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Entry, int, error) {
	query := `SELECT ` + entryCols + ` FROM waitlist_entries WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM waitlist_entries WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		clause := fmt.Sprintf(` AND status = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.Status)
		idx++
	}
	if f.UrgencyLevel != "" {
		clause := fmt.Sprintf(` AND urgency_level = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.UrgencyLevel)
		idx++
	}
	if name := strings.TrimSpace(f.PatientName); name != "" {
		clause := fmt.Sprintf(` AND patient_name ILIKE $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+escapeLike(name)+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, db.Wrap("count waitlist entries", err)
	}

	query += fmt.Sprintf(` ORDER BY %s LIMIT $%d OFFSET $%d`, urgencyOrder, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Wrap("search waitlist entries", err)
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, 0, db.Wrap("search waitlist entries", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Wrap("search waitlist entries", err)
	}
	return items, total, nil
}

func (r *entryRepoPG) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM waitlist_entries
		WHERE status = 'waiting' AND request_date < $1
		ORDER BY request_date ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, db.Wrap("list stale waitlist entries", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, db.Wrap("list stale waitlist entries", err)
		}
		ids = append(ids, id)
	}
	return ids, db.Wrap("list stale waitlist entries", rows.Err())
}
