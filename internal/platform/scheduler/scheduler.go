// Package scheduler runs the recurring background work of the waitlist:
// delivering notifications that have come due and expiring entries that
// have waited too long.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultInterval   = time.Minute
	DefaultBatchSize  = 100
	DefaultClaimLease = 2 * time.Minute

	// maxRounds bounds the batches drained per sweep so one tick always ends.
	maxRounds = 50
)

// NotificationSweeper claims and delivers due notifications. ClaimDue
// returns the claim token that DispatchClaimed must present; the claim is
// renewed per notification just before it is sent.
type NotificationSweeper interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) (uuid.UUID, []uuid.UUID, error)
	DispatchClaimed(ctx context.Context, id, token uuid.UUID) error
}

// EntryExpirer finds and expires stale waitlist entries.
type EntryExpirer interface {
	StaleEntries(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ExpireEntry(ctx context.Context, id uuid.UUID) (bool, error)
}

type Config struct {
	Interval      time.Duration
	BatchSize     int
	ClaimLease    time.Duration
	ExpirationAge time.Duration
	// LockTTL is how long the leader lock lives without a refresh; it
	// defaults to the interval. A tick refreshes it before every batch and
	// every dispatch.
	LockTTL time.Duration
}

// Result summarizes one tick.
type Result struct {
	Processed      int
	DispatchErrors int
	Expired        int
	ExpireErrors   int
	Skipped        bool
	// LockLost is set when the leader lock lapsed mid-tick and the tick
	// stopped early.
	LockLost bool
}

type Scheduler struct {
	notifications NotificationSweeper
	entries       EntryExpirer
	locker        Locker
	cfg           Config
	logger        zerolog.Logger
	tracer        trace.Tracer
	now           func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(notifications NotificationSweeper, entries EntryExpirer, cfg Config, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	s := &Scheduler{
		notifications: notifications,
		entries:       entries,
		locker:        NoopLocker{},
		cfg:           cfg,
		logger:        zerolog.Nop(),
		tracer:        otel.Tracer("github.com/ehr/waitlist/scheduler"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a tick immediately and then every interval until ctx is
// cancelled or Stop is called. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.loop(ctx)
	}()
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("scheduler started")
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("scheduler stopped")
}

// Run blocks running ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler tick failed")
		return
	}
	if res.Skipped {
		s.logger.Debug().Msg("scheduler tick skipped, lock held elsewhere")
		return
	}
	ev := s.logger.Debug()
	if res.DispatchErrors > 0 || res.ExpireErrors > 0 {
		ev = s.logger.Warn()
	}
	if res.LockLost {
		ev = s.logger.Warn()
	}
	ev.Int("processed", res.Processed).
		Int("dispatch_errors", res.DispatchErrors).
		Int("expired", res.Expired).
		Int("expire_errors", res.ExpireErrors).
		Bool("lock_lost", res.LockLost).
		Msg("scheduler tick")
}

// RunOnce performs one tick: the pending-notification sweep followed by the
// expiration sweep. Per-item failures are logged and counted; only a
// failure to take the leader lock is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	ok, err := s.locker.TryLock(ctx, s.cfg.LockTTL)
	if err != nil {
		return res, err
	}
	if !ok {
		res.Skipped = true
		return res, nil
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("scheduler lock release failed")
		}
	}()

	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	s.sweepNotifications(ctx, &res)
	if !res.LockLost && s.entries != nil && s.cfg.ExpirationAge > 0 {
		s.sweepExpired(ctx, &res)
	}
	span.SetAttributes(
		attribute.Int("scheduler.processed", res.Processed),
		attribute.Int("scheduler.dispatch_errors", res.DispatchErrors),
		attribute.Int("scheduler.expired", res.Expired),
		attribute.Int("scheduler.expire_errors", res.ExpireErrors),
		attribute.Bool("scheduler.lock_lost", res.LockLost),
	)
	return res, nil
}

// holdLock refreshes the leader lock and reports whether this instance
// still owns it.
func (s *Scheduler) holdLock(ctx context.Context, res *Result) bool {
	ok, err := s.locker.Refresh(ctx, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduler lock refresh failed")
	}
	if err != nil || !ok {
		res.LockLost = true
		return false
	}
	return true
}

func (s *Scheduler) sweepNotifications(ctx context.Context, res *Result) {
	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil || !s.holdLock(ctx, res) {
			return
		}
		token, ids, err := s.notifications.ClaimDue(ctx, s.cfg.BatchSize, s.cfg.ClaimLease)
		if err != nil {
			s.logger.Error().Err(err).Msg("claim due notifications")
			return
		}
		for i, id := range ids {
			if i > 0 && !s.holdLock(ctx, res) {
				return
			}
			res.Processed++
			if err := s.notifications.DispatchClaimed(ctx, id, token); err != nil {
				res.DispatchErrors++
				s.logger.Error().Err(err).Str("notification_id", id.String()).Msg("dispatch failed")
			}
		}
		if len(ids) < s.cfg.BatchSize {
			return
		}
	}
}

func (s *Scheduler) sweepExpired(ctx context.Context, res *Result) {
	cutoff := s.now().Add(-s.cfg.ExpirationAge)
	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil || !s.holdLock(ctx, res) {
			return
		}
		ids, err := s.entries.StaleEntries(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("list stale entries")
			return
		}
		progressed := false
		for _, id := range ids {
			expired, err := s.entries.ExpireEntry(ctx, id)
			if err != nil {
				res.ExpireErrors++
				s.logger.Error().Err(err).Str("entry_id", id.String()).Msg("expire entry failed")
				continue
			}
			if expired {
				res.Expired++
				progressed = true
			}
		}
		// A full batch that made no progress would be listed again unchanged.
		if len(ids) < s.cfg.BatchSize || !progressed {
			return
		}
	}
}
