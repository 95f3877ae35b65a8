package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/waitlist/internal/domain/notification"
	"github.com/ehr/waitlist/internal/domain/waitlist"
	"github.com/ehr/waitlist/internal/platform/db"
	"github.com/ehr/waitlist/internal/platform/delivery"
	"github.com/ehr/waitlist/pkg/timerange"
)

// --- stubs ---

type stubSweeper struct {
	mu       sync.Mutex
	batches  [][]uuid.UUID
	failing  map[uuid.UUID]bool
	claims   int
	tokens   []uuid.UUID
	sent     []uuid.UUID
	sentWith []uuid.UUID
	claimErr error
}

func (s *stubSweeper) ClaimDue(_ context.Context, _ int, _ time.Duration) (uuid.UUID, []uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if s.claimErr != nil {
		return uuid.Nil, nil, s.claimErr
	}
	token := uuid.New()
	s.tokens = append(s.tokens, token)
	if len(s.batches) == 0 {
		return token, nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return token, b, nil
}

func (s *stubSweeper) DispatchClaimed(_ context.Context, id, token uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[id] {
		return errors.New("store unavailable")
	}
	s.sent = append(s.sent, id)
	s.sentWith = append(s.sentWith, token)
	return nil
}

func (s *stubSweeper) claimCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims
}

type stubExpirer struct {
	stale  []uuid.UUID
	err    error
	calls  int
	cutoff time.Time
}

func (e *stubExpirer) StaleEntries(_ context.Context, cutoff time.Time, _ int) ([]uuid.UUID, error) {
	e.cutoff = cutoff
	return e.stale, nil
}

func (e *stubExpirer) ExpireEntry(context.Context, uuid.UUID) (bool, error) {
	e.calls++
	return false, e.err
}

type stubLocker struct {
	grant    bool
	err      error
	unlocked int
	// refreshes counts Refresh calls; once it passes keepFor the lock
	// reports lapsed. Zero keeps it forever.
	refreshes int
	keepFor   int
}

func (l *stubLocker) TryLock(context.Context, time.Duration) (bool, error) { return l.grant, l.err }
func (l *stubLocker) Refresh(context.Context, time.Duration) (bool, error) {
	l.refreshes++
	return l.keepFor == 0 || l.refreshes <= l.keepFor, nil
}
func (l *stubLocker) Unlock(context.Context) error {
	l.unlocked++
	return nil
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

// --- sweep behaviour ---

func TestRunOnce_DispatchFailuresDoNotStopSweep(t *testing.T) {
	batch := ids(3)
	sw := &stubSweeper{batches: [][]uuid.UUID{batch}, failing: map[uuid.UUID]bool{batch[0]: true}}
	s := New(sw, nil, Config{BatchSize: 10})

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Processed != 3 || res.DispatchErrors != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(sw.sent) != 2 {
		t.Errorf("expected the remaining 2 to be dispatched, got %d", len(sw.sent))
	}
}

func TestRunOnce_DispatchesUnderBatchToken(t *testing.T) {
	sw := &stubSweeper{batches: [][]uuid.UUID{ids(2), ids(1)}}
	s := New(sw, nil, Config{BatchSize: 2})

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []uuid.UUID{sw.tokens[0], sw.tokens[0], sw.tokens[1]}
	if len(sw.sentWith) != len(want) {
		t.Fatalf("expected %d dispatches, got %d", len(want), len(sw.sentWith))
	}
	for i := range want {
		if sw.sentWith[i] != want[i] {
			t.Errorf("dispatch %d used token %s, want %s", i, sw.sentWith[i], want[i])
		}
	}
}

func TestRunOnce_StopsWhenLockLapses(t *testing.T) {
	sw := &stubSweeper{batches: [][]uuid.UUID{ids(3)}}
	exp := &stubExpirer{stale: ids(1)}
	lock := &stubLocker{grant: true, keepFor: 2}
	s := New(sw, exp, Config{BatchSize: 10, ExpirationAge: time.Hour}, WithLocker(lock))

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.LockLost || res.Processed != 2 {
		t.Errorf("expected the tick to stop after 2 dispatches, got %+v", res)
	}
	if !exp.cutoff.IsZero() {
		t.Error("expiration sweep must not run after the lock lapsed")
	}
	if lock.unlocked != 1 {
		t.Errorf("expected unlock attempt, got %d", lock.unlocked)
	}
}

func TestRunOnce_DrainsFullBatches(t *testing.T) {
	sw := &stubSweeper{batches: [][]uuid.UUID{ids(2), ids(2), ids(1)}}
	s := New(sw, nil, Config{BatchSize: 2})

	res, _ := s.RunOnce(context.Background())
	if res.Processed != 5 {
		t.Errorf("expected 5 processed, got %d", res.Processed)
	}
	if sw.claimCount() != 3 {
		t.Errorf("expected 3 claims, got %d", sw.claimCount())
	}
}

func TestRunOnce_ClaimErrorIsLogged(t *testing.T) {
	sw := &stubSweeper{claimErr: errors.New("connection refused")}
	exp := &stubExpirer{}
	s := New(sw, exp, Config{ExpirationAge: time.Hour})

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("claim failures are not tick failures: %v", err)
	}
	if res.Processed != 0 || exp.cutoff.IsZero() {
		t.Errorf("expiration sweep should still run: %+v", res)
	}
}

func TestRunOnce_ExpirationStopsWithoutProgress(t *testing.T) {
	exp := &stubExpirer{stale: ids(2), err: errors.New("deadlock detected")}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := New(&stubSweeper{}, exp, Config{BatchSize: 2, ExpirationAge: 30 * 24 * time.Hour},
		WithClock(func() time.Time { return now }))

	res, _ := s.RunOnce(context.Background())
	if res.ExpireErrors != 2 || exp.calls != 2 {
		t.Errorf("expected one pass over the batch, got %+v (calls=%d)", res, exp.calls)
	}
	if want := now.Add(-30 * 24 * time.Hour); !exp.cutoff.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, exp.cutoff)
	}
}

func TestRunOnce_SkipsWithoutLock(t *testing.T) {
	sw := &stubSweeper{batches: [][]uuid.UUID{ids(1)}}
	lock := &stubLocker{grant: false}
	s := New(sw, nil, Config{}, WithLocker(lock))

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || sw.claimCount() != 0 {
		t.Errorf("expected skipped tick, got %+v", res)
	}
	if lock.unlocked != 0 {
		t.Error("must not release a lock it does not hold")
	}

	lock.grant = true
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lock.unlocked != 1 {
		t.Errorf("expected lock release after tick, got %d", lock.unlocked)
	}
}

func TestRunOnce_LockError(t *testing.T) {
	s := New(&stubSweeper{}, nil, Config{}, WithLocker(&stubLocker{err: errors.New("redis down")}))
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Error("expected lock error")
	}
}

func TestStartStop(t *testing.T) {
	sw := &stubSweeper{}
	s := New(sw, nil, Config{Interval: 5 * time.Millisecond})

	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for sw.claimCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	if sw.claimCount() < 2 {
		t.Fatalf("expected at least two ticks, got %d", sw.claimCount())
	}

	after := sw.claimCount()
	time.Sleep(20 * time.Millisecond)
	if sw.claimCount() != after {
		t.Error("ticks continued after Stop")
	}
	s.Stop()
}

// --- end to end with the in-memory services ---

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type system struct {
	waitlist *waitlist.Service
	notify   *notification.Service
	nrepo    *notification.MemoryRepo
	email    *delivery.MockEmailSender
	sched    *Scheduler
	clock    *clock
}

func newSystem(t *testing.T) *system {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
	wrepo := waitlist.NewMemoryRepo()
	nrepo := notification.NewMemoryRepo()
	email := &delivery.MockEmailSender{}
	transport := delivery.NewTransport(email, &delivery.MockSMSSender{}, &delivery.MockInternalSender{}, time.Second)
	cfg := notification.DefaultConfig()

	nsvc := notification.NewService(nrepo, transport, waitlist.NewRecipientDirectory(wrepo), cfg,
		notification.WithClock(c.Now))
	wsvc := waitlist.NewService(wrepo, db.NewMemoryTx(), nsvc, cfg, waitlist.WithClock(c.Now))
	sched := New(nsvc, wsvc, Config{BatchSize: 10, ExpirationAge: cfg.ExpirationAge()}, WithClock(c.Now))
	return &system{waitlist: wsvc, notify: nsvc, nrepo: nrepo, email: email, sched: sched, clock: c}
}

func (s *system) createEntry(t *testing.T) *waitlist.Entry {
	t.Helper()
	e, err := s.waitlist.CreateEntry(context.Background(), waitlist.CreateRequest{
		PatientName:         "Jane Doe",
		ContactInfo:         waitlist.ContactInfo{Email: "jane@example.com"},
		PreferredTimeRanges: []timerange.Range{{StartTime: "09:00", EndTime: "12:00"}},
		UrgencyLevel:        waitlist.UrgencyLow,
	})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	return e
}

func TestScheduler_ExpiresStaleEntries(t *testing.T) {
	sys := newSystem(t)
	ctx := context.Background()
	e := sys.createEntry(t)
	sys.clock.Advance(31 * 24 * time.Hour)

	res, err := sys.sched.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Expired != 1 {
		t.Fatalf("expected confirmation sent and entry expired, got %+v", res)
	}
	got, _ := sys.waitlist.GetEntry(ctx, e.ID)
	if got.Status != waitlist.StatusExpired {
		t.Errorf("expected expired, got %s", got.Status)
	}

	res, _ = sys.sched.RunOnce(ctx)
	if res.Processed != 1 || res.Expired != 0 {
		t.Errorf("second tick should only send the expiration notice, got %+v", res)
	}
	calls := sys.email.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(calls))
	}
	if calls[1].Body != "Your waitlist request has expired. Please create a new request if you still need an appointment." {
		t.Errorf("unexpected expiration email: %q", calls[1].Body)
	}

	res, _ = sys.sched.RunOnce(ctx)
	if res.Processed != 0 || res.Expired != 0 {
		t.Errorf("third tick should be idle, got %+v", res)
	}
}

// interleavingSweeper runs hook once, right after the first batch claim.
type interleavingSweeper struct {
	NotificationSweeper
	hook func()
}

func (w *interleavingSweeper) ClaimDue(ctx context.Context, limit int, lease time.Duration) (uuid.UUID, []uuid.UUID, error) {
	token, claimed, err := w.NotificationSweeper.ClaimDue(ctx, limit, lease)
	if w.hook != nil {
		hook := w.hook
		w.hook = nil
		hook()
	}
	return token, claimed, err
}

func TestScheduler_LapsedBatchIsNotDeliveredTwice(t *testing.T) {
	sys := newSystem(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sys.createEntry(t)
	}

	other := New(sys.notify, nil, Config{BatchSize: 10}, WithClock(sys.clock.Now))
	slow := New(&interleavingSweeper{
		NotificationSweeper: sys.notify,
		hook: func() {
			// The batch claim lapses before the first dispatch and a
			// second instance sweeps the same notifications.
			sys.clock.Advance(DefaultClaimLease + time.Minute)
			if res, err := other.RunOnce(ctx); err != nil || res.Processed != 3 {
				t.Errorf("second instance: res=%+v err=%v", res, err)
			}
		},
	}, nil, Config{BatchSize: 10}, WithClock(sys.clock.Now))

	if _, err := slow.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if calls := len(sys.email.Calls()); calls != 3 {
		t.Errorf("expected one email per notification, got %d", calls)
	}
}

func TestScheduler_LeavesRecentEntries(t *testing.T) {
	sys := newSystem(t)
	e := sys.createEntry(t)
	sys.clock.Advance(29 * 24 * time.Hour)

	res, _ := sys.sched.RunOnce(context.Background())
	if res.Expired != 0 {
		t.Errorf("entry younger than the expiration age was expired")
	}
	got, _ := sys.waitlist.GetEntry(context.Background(), e.ID)
	if got.Status != waitlist.StatusWaiting {
		t.Errorf("expected waiting, got %s", got.Status)
	}
}

func TestScheduler_RetriesFailedDelivery(t *testing.T) {
	sys := newSystem(t)
	sys.email.FailTimes = 1
	e := sys.createEntry(t)
	ctx := context.Background()

	if res, _ := sys.sched.RunOnce(ctx); res.Processed != 1 {
		t.Fatalf("expected one dispatch, got %+v", res)
	}
	items, _, _ := sys.nrepo.ListByRecipient(ctx, e.ID.String(), 10, 0)
	if items[0].Status != notification.StatusPending || items[0].Attempts() != 1 {
		t.Fatalf("expected pending retry, got %s attempts=%d", items[0].Status, items[0].Attempts())
	}

	if res, _ := sys.sched.RunOnce(ctx); res.Processed != 0 {
		t.Errorf("retry must wait for its delay, got %+v", res)
	}

	sys.clock.Advance(5 * time.Minute)
	if res, _ := sys.sched.RunOnce(ctx); res.Processed != 1 {
		t.Fatalf("expected the retry to be claimed, got %+v", res)
	}
	items, _, _ = sys.nrepo.ListByRecipient(ctx, e.ID.String(), 10, 0)
	if items[0].Status != notification.StatusSent {
		t.Errorf("expected sent after retry, got %s", items[0].Status)
	}
}
