package waitlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/waitlist/internal/domain/notification"
	"github.com/ehr/waitlist/internal/platform/apperr"
	"github.com/ehr/waitlist/internal/platform/db"
	"github.com/ehr/waitlist/internal/platform/delivery"
	"github.com/ehr/waitlist/pkg/timerange"
)

const (
	DefaultMatchLimit = 5
	// matchCandidatePool bounds how many waiting entries are scanned for a
	// slot match.
	matchCandidatePool = 500
	staleBatchDefault  = 100
)

// Notifier is the part of the notification service the waitlist needs.
type Notifier interface {
	Enqueue(ctx context.Context, p notification.CreateParams) (*notification.Notification, error)
	Create(ctx context.Context, p notification.CreateParams) (*notification.Notification, error)
	DispatchIfUrgent(ctx context.Context, n *notification.Notification)
}

// Service owns the entry lifecycle. Every status change and the
// notification it triggers are written in one transaction.
type Service struct {
	repo       Repository
	tx         db.Transactor
	notifier   Notifier
	cfg        notification.Config
	matchLimit int
	logger     zerolog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMatchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.matchLimit = n
		}
	}
}

func NewService(repo Repository, tx db.Transactor, notifier Notifier, cfg notification.Config, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		tx:         tx,
		notifier:   notifier,
		cfg:        cfg.Clone(),
		matchLimit: DefaultMatchLimit,
		logger:     zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEntry registers a patient on the waitlist and queues the
// confirmation notification.
func (s *Service) CreateEntry(ctx context.Context, req CreateRequest) (*Entry, error) {
	now := s.now()
	urgency := req.UrgencyLevel
	if urgency == "" {
		urgency = UrgencyMedium
	}
	prefs := req.PreferredTimeRanges
	if prefs == nil {
		prefs = []timerange.Range{}
	}
	e := &Entry{
		ID:                  uuid.New(),
		PatientName:         strings.TrimSpace(req.PatientName),
		ContactEmail:        optional(strings.TrimSpace(req.ContactInfo.Email)),
		ContactPhone:        optional(strings.TrimSpace(req.ContactInfo.Phone)),
		Status:              StatusWaiting,
		UrgencyLevel:        urgency,
		RequestDate:         now,
		PreferredTimeRanges: prefs,
		Notes:               clonePtr(req.Notes),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if problems := ValidateEntry(e); len(problems) > 0 {
		return nil, apperr.NewValidationError(problems...)
	}

	var queued *notification.Notification
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		n, err := s.notifier.Enqueue(ctx, notification.CreateParams{
			Type:        notification.TypeWaitlistUpdate,
			RecipientID: e.ID.String(),
			Message:     delivery.Render(s.cfg.ConfirmationMessage, templateData(e)),
			Priority:    notification.PriorityNormal,
			Metadata: notification.Metadata{
				"patientName": e.PatientName,
				"requestDate": e.RequestDate.Format(time.RFC3339),
			},
			ScheduledFor: &now,
		})
		queued = n
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifier.DispatchIfUrgent(ctx, queued)

	s.logger.Info().Str("entry_id", e.ID.String()).Str("urgency", string(e.UrgencyLevel)).Msg("waitlist entry created")
	return e, nil
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateEntry applies a partial update. A status change must follow the
// lifecycle; the expired status is reserved for the expiration sweep.
func (s *Service) UpdateEntry(ctx context.Context, id uuid.UUID, upd Update) (*Entry, error) {
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, apperr.NewValidationError(fmt.Sprintf("invalid status %q", *upd.Status))
		}
		if *upd.Status == StatusExpired {
			return nil, apperr.NewValidationError("status expired is assigned automatically")
		}
	}

	var (
		result *Entry
		queued *notification.Notification
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next := existing.clone()
		upd.apply(next)
		if problems := ValidateEntry(next); len(problems) > 0 {
			return apperr.NewValidationError(problems...)
		}

		now := s.now()
		next.UpdatedAt = now
		changed := upd.Status != nil && *upd.Status != existing.Status
		if changed {
			if err := transition(existing, next, *upd.Status, now); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		if changed {
			if queued, err = s.enqueueStatusChange(ctx, existing.Status, next, now, nil); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.DispatchIfUrgent(ctx, queued)
	return result, nil
}

// CancelEntry cancels an entry and stamps the cancellation time into its
// internal notes.
func (s *Service) CancelEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	status := StatusCancelled
	note := "Cancelled at " + s.now().Format(time.RFC3339)
	return s.UpdateEntry(ctx, id, Update{Status: &status, InternalNotes: &note})
}

// ExpireEntry moves a waiting entry to expired. It reports false, without
// error, when the entry is no longer waiting.
func (s *Service) ExpireEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	var (
		expired bool
		queued  *notification.Notification
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if existing.Status != StatusWaiting {
			return nil
		}
		now := s.now()
		next := existing.clone()
		next.UpdatedAt = now
		if err := transition(existing, next, StatusExpired, now); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		extra := notification.Metadata{
			"requestDate":    existing.RequestDate.Format(time.RFC3339),
			"expirationDate": now.Format(time.RFC3339),
		}
		if queued, err = s.enqueueStatusChange(ctx, existing.Status, next, now, extra); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.notifier.DispatchIfUrgent(ctx, queued)
	return expired, nil
}

// StaleEntries lists waiting entries requested before cutoff.
func (s *Service) StaleEntries(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = staleBatchDefault
	}
	return s.repo.ListStale(ctx, cutoff, limit)
}

// transition moves next to status to, stamping statusChangedAt and, when
// entering contacted, recording the contact attempt.
func transition(existing, next *Entry, to Status, now time.Time) error {
	if !CanTransition(existing.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, existing.Status, to)
	}
	next.Status = to
	next.StatusChangedAt = &now
	if to == StatusContacted {
		next.LastContactAttempt = &now
		next.ContactAttempts = existing.ContactAttempts + 1
	}
	return nil
}

func (s *Service) enqueueStatusChange(ctx context.Context, prev Status, e *Entry, now time.Time, extra notification.Metadata) (*notification.Notification, error) {
	tpl, ok := s.cfg.StatusTemplate(string(e.Status))
	if !ok {
		return nil, nil
	}
	meta := notification.Metadata{
		"previousStatus":  string(prev),
		"newStatus":       string(e.Status),
		"patientName":     e.PatientName,
		"statusChangedAt": now.Format(time.RFC3339),
	}
	for k, v := range extra {
		meta[k] = v
	}
	at := now.Add(tpl.Delay())
	return s.notifier.Enqueue(ctx, notification.CreateParams{
		Type:         notification.TypeStatusChange,
		RecipientID:  e.ID.String(),
		Message:      delivery.Render(tpl.Message, templateData(e)),
		Priority:     tpl.Priority,
		Metadata:     meta,
		ScheduledFor: &at,
	})
}

func templateData(e *Entry) map[string]string {
	return map[string]string{
		"patient_name": e.PatientName,
		"status":       string(e.Status),
	}
}

// SearchEntries filters entries, most urgent and longest waiting first.
func (s *Service) SearchEntries(ctx context.Context, f SearchFilter, limit, offset int) ([]*Entry, int, error) {
	var problems []string
	if f.Status != "" && !f.Status.Valid() {
		problems = append(problems, fmt.Sprintf("invalid status %q", f.Status))
	}
	if f.UrgencyLevel != "" && !f.UrgencyLevel.Valid() {
		problems = append(problems, fmt.Sprintf("invalid urgency level %q", f.UrgencyLevel))
	}
	if len(problems) > 0 {
		return nil, 0, apperr.NewValidationError(problems...)
	}
	return s.repo.Search(ctx, f, limit, offset)
}

// FindMatchingEntries picks the most urgent waiting entries whose
// preferences overlap an available slot and notifies each of them. Entries
// without preferences accept any slot.
func (s *Service) FindMatchingEntries(ctx context.Context, available []timerange.Range) ([]*Entry, error) {
	if len(available) == 0 {
		return nil, apperr.NewValidationError("at least one available time range is required")
	}
	var problems []string
	for i, r := range available {
		if !timerange.Valid(r) {
			problems = append(problems, fmt.Sprintf("invalid time range format at position %d (%s)", i, r))
		}
	}
	if len(problems) > 0 {
		return nil, apperr.NewValidationError(problems...)
	}

	candidates, _, err := s.repo.Search(ctx, SearchFilter{Status: StatusWaiting}, matchCandidatePool, 0)
	if err != nil {
		return nil, err
	}

	matches := make([]*Entry, 0, s.matchLimit)
	for _, e := range candidates {
		if len(e.PreferredTimeRanges) == 0 || timerange.AnyOverlap(e.PreferredTimeRanges, available) {
			matches = append(matches, e)
			if len(matches) == s.matchLimit {
				break
			}
		}
	}

	slots := make([]string, 0, len(available))
	for _, r := range available {
		slots = append(slots, r.String())
	}
	now := s.now()
	for _, e := range matches {
		_, err := s.notifier.Create(ctx, notification.CreateParams{
			Type:        notification.TypeAppointmentAvailable,
			RecipientID: e.ID.String(),
			Message:     delivery.Render(s.cfg.MatchMessage, templateData(e)),
			Priority:    notification.PriorityHigh,
			Metadata: notification.Metadata{
				"patientName":         e.PatientName,
				"availableTimeRanges": slots,
			},
			ScheduledFor: &now,
		})
		if err != nil {
			return nil, fmt.Errorf("notify match %s: %w", e.ID, err)
		}
	}
	return matches, nil
}
