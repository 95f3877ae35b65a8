package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/waitlist/internal/platform/apperr"
	"github.com/ehr/waitlist/internal/platform/db"
	"github.com/ehr/waitlist/internal/platform/delivery"
)

// DefaultClaimLease bounds how long a single dispatch holds its claim.
const DefaultClaimLease = 2 * time.Minute

// Recipient is the contact data resolved for a notification's recipientId.
type Recipient struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// RecipientDirectory resolves recipient ids to contact details.
type RecipientDirectory interface {
	LookupRecipient(ctx context.Context, id string) (*Recipient, error)
}

// Sender delivers one message on one channel. *delivery.Transport is the
// production implementation.
type Sender interface {
	Send(ctx context.Context, ch delivery.Channel, msg delivery.Message) error
}

// CreateParams describes a new notification.
type CreateParams struct {
	Type         Type       `json:"type"`
	RecipientID  string     `json:"recipient_id"`
	Message      string     `json:"message"`
	Priority     Priority   `json:"priority"`
	Metadata     Metadata   `json:"metadata"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

func (p CreateParams) validate() error {
	var problems []string
	if !p.Type.Valid() {
		problems = append(problems, fmt.Sprintf("invalid notification type %q", p.Type))
	}
	if strings.TrimSpace(p.RecipientID) == "" {
		problems = append(problems, "recipient id is required")
	}
	if strings.TrimSpace(p.Message) == "" {
		problems = append(problems, "message is required")
	}
	if p.Priority != "" && !p.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("invalid priority %q", p.Priority))
	}
	if len(problems) > 0 {
		return apperr.NewValidationError(problems...)
	}
	return nil
}

// Stats is the per-status count of stored notifications.
type Stats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// Service owns every notification status change: creation, dispatch with
// bounded retry, and cancellation.
type Service struct {
	repo       Repository
	sender     Sender
	recipients RecipientDirectory
	cfg        Config
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	claimLease time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClaimLease sets how long Dispatch holds a notification while it
// delivers it. It must outlast one transport call.
func WithClaimLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimLease = d
		}
	}
}

func NewService(repo Repository, sender Sender, recipients RecipientDirectory, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		sender:     sender,
		recipients: recipients,
		cfg:        cfg.Clone(),
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("github.com/ehr/waitlist/internal/domain/notification"),
		now:        func() time.Time { return time.Now().UTC() },
		claimLease: DefaultClaimLease,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the frozen notification configuration.
func (s *Service) Config() Config { return s.cfg.Clone() }

// Enqueue persists a pending notification without attempting delivery. It
// joins the caller's transaction when ctx carries one.
func (s *Service) Enqueue(ctx context.Context, p CreateParams) (*Notification, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	priority := p.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	meta := p.Metadata.clone()
	n := &Notification{
		ID:           uuid.New(),
		Type:         p.Type,
		RecipientID:  p.RecipientID,
		Message:      p.Message,
		Priority:     priority,
		Metadata:     meta,
		Status:       StatusPending,
		CreatedAt:    s.now(),
		ScheduledFor: p.ScheduledFor,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Create persists a notification and, when it is high priority and already
// due, tries to deliver it before returning. Delivery problems never fail
// Create; the notification stays pending for the scheduler.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Notification, error) {
	n, err := s.Enqueue(ctx, p)
	if err != nil {
		return nil, err
	}
	if !s.urgent(n) {
		return n, nil
	}
	if err := s.Dispatch(ctx, n.ID); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("immediate dispatch failed, left for scheduler")
		return n, nil
	}
	if latest, err := s.repo.GetByID(ctx, n.ID); err == nil {
		return latest, nil
	}
	return n, nil
}

// DispatchIfUrgent delivers n now if it is high priority and due. Callers
// use it after committing the transaction that enqueued n.
func (s *Service) DispatchIfUrgent(ctx context.Context, n *Notification) {
	if n == nil || !s.urgent(n) {
		return
	}
	if err := s.Dispatch(ctx, n.ID); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("immediate dispatch failed, left for scheduler")
	}
}

func (s *Service) urgent(n *Notification) bool {
	return n.Priority == PriorityHigh && n.Status == StatusPending && n.Due(s.now())
}

// Dispatch claims a pending notification and attempts delivery. A
// notification that is sent, failed, cancelled or held by another
// dispatcher is left alone. Only persistence errors are returned; delivery
// failures are recorded on the notification.
func (s *Service) Dispatch(ctx context.Context, id uuid.UUID) error {
	return s.dispatch(ctx, id, uuid.New())
}

// DispatchClaimed delivers a notification the caller claimed with token via
// ClaimDue. The claim is renewed before sending, so a batch claim that has
// lapsed and passed to another dispatcher is skipped.
func (s *Service) DispatchClaimed(ctx context.Context, id, token uuid.UUID) error {
	return s.dispatch(ctx, id, token)
}

func (s *Service) dispatch(ctx context.Context, id, token uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "notification.dispatch",
		trace.WithAttributes(attribute.String("notification.id", id.String())))
	defer span.End()

	n, err := s.repo.Claim(ctx, id, token, s.now(), s.claimLease)
	switch {
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrClaimed):
		s.logger.Debug().Err(err).Str("notification_id", id.String()).Msg("dispatch skipped")
		return nil
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("notification.type", string(n.Type)))

	channels, sendErr := s.deliver(ctx, n)
	now := s.now()
	n.Metadata[MetaChannels] = channels

	if sendErr == nil {
		n.Status = StatusSent
		n.SentAt = &now
		delete(n.Metadata, MetaLastError)
		if err := s.record(ctx, n, token); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		s.logger.Info().Str("notification_id", id.String()).Str("type", string(n.Type)).Msg("notification sent")
		return nil
	}

	attempts := n.Attempts()
	n.Metadata[MetaLastError] = sendErr.Error()
	log := s.logger.Warn().Err(sendErr).Str("notification_id", id.String()).Int("attempts", attempts)
	if attempts < s.cfg.RetryAttempts {
		next := now.Add(s.cfg.RetryDelay())
		n.ScheduledFor = &next
		n.Metadata[MetaAttempts] = attempts + 1
		log.Time("retry_at", next).Msg("delivery failed, retry scheduled")
	} else {
		n.Status = StatusFailed
		n.Metadata[MetaFailedAt] = now.Format(time.RFC3339Nano)
		log.Msg("delivery failed permanently")
	}
	span.SetStatus(codes.Error, sendErr.Error())
	return s.record(ctx, n, token)
}

// record writes a dispatch outcome. An outcome whose claim was lost, or whose
// notification stopped being pending meanwhile, is dropped.
func (s *Service) record(ctx context.Context, n *Notification, token uuid.UUID) error {
	err := s.repo.UpdateDelivery(ctx, n, token)
	if errors.Is(err, ErrClaimLost) || errors.Is(err, ErrNotPending) {
		s.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Str("outcome", string(n.Status)).Msg("dispatch outcome discarded")
		return nil
	}
	return err
}

// deliver sends n on every channel for its type concurrently and waits for
// all of them. The returned map records the outcome per channel.
func (s *Service) deliver(ctx context.Context, n *Notification) (map[string]string, error) {
	recipient := s.lookup(ctx, n.RecipientID)
	channels := channelsFor(n.Type, recipient)
	msg := delivery.Message{
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID,
		Email:          recipient.Email,
		Phone:          recipient.Phone,
		Subject:        subjectFor(n.Type),
		Body:           n.Message,
	}

	results := make([]error, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = s.sender.Send(ctx, ch, msg)
			return nil
		})
	}
	_ = g.Wait()

	outcome := make(map[string]string, len(channels))
	var errs []error
	for i, ch := range channels {
		if results[i] != nil {
			outcome[string(ch)] = results[i].Error()
			errs = append(errs, results[i])
			continue
		}
		outcome[string(ch)] = "sent"
	}
	return outcome, errors.Join(errs...)
}

func (s *Service) lookup(ctx context.Context, id string) *Recipient {
	if s.recipients == nil {
		return &Recipient{ID: id}
	}
	r, err := s.recipients.LookupRecipient(ctx, id)
	if err != nil || r == nil {
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			s.logger.Warn().Err(err).Str("recipient_id", id).Msg("recipient lookup failed")
		}
		return &Recipient{ID: id}
	}
	return r
}

// channelsFor maps a notification type to its delivery channels. Email and
// SMS stand in for each other when the recipient only has the other address.
func channelsFor(t Type, r *Recipient) []delivery.Channel {
	var wanted []delivery.Channel
	switch t {
	case TypeAppointmentAvailable:
		wanted = []delivery.Channel{delivery.ChannelEmail, delivery.ChannelSMS}
	case TypeContactReminder:
		wanted = []delivery.Channel{delivery.ChannelInternal}
	default:
		wanted = []delivery.Channel{delivery.ChannelEmail}
	}

	seen := make(map[delivery.Channel]bool, len(wanted))
	out := make([]delivery.Channel, 0, len(wanted))
	for _, ch := range wanted {
		switch {
		case ch == delivery.ChannelEmail && r.Email == "" && r.Phone != "":
			ch = delivery.ChannelSMS
		case ch == delivery.ChannelSMS && r.Phone == "" && r.Email != "":
			ch = delivery.ChannelEmail
		}
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}

func subjectFor(t Type) string {
	switch t {
	case TypeAppointmentAvailable:
		return "An appointment is available"
	case TypeStatusChange:
		return "Your waitlist request was updated"
	case TypeContactReminder:
		return "Contact reminder"
	default:
		return "Waitlist confirmation"
	}
}

// ClaimDue claims up to limit due pending notifications under one token and
// returns the token with their ids. Pass both to DispatchClaimed.
func (s *Service) ClaimDue(ctx context.Context, limit int, lease time.Duration) (uuid.UUID, []uuid.UUID, error) {
	token := uuid.New()
	items, err := s.repo.ClaimPendingDue(ctx, token, s.now(), lease, limit)
	if err != nil {
		return uuid.Nil, nil, err
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, n := range items {
		ids = append(ids, n.ID)
	}
	return token, ids, nil
}

// Cancel stops a pending notification from ever being delivered. It fails
// with a conflict while a dispatch holds the notification.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.Cancel(ctx, id, s.now())
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByRecipient(ctx, recipientID, limit, offset)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Pending:   counts[StatusPending],
		Sent:      counts[StatusSent],
		Failed:    counts[StatusFailed],
		Cancelled: counts[StatusCancelled],
	}
	st.Total = st.Pending + st.Sent + st.Failed + st.Cancelled
	return st, nil
}
