package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/waitlist/internal/platform/apperr"
	"github.com/ehr/waitlist/internal/platform/db"
	"github.com/ehr/waitlist/internal/platform/delivery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticDirectory map[string]*Recipient

func (d staticDirectory) LookupRecipient(_ context.Context, id string) (*Recipient, error) {
	r, ok := d[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return r, nil
}

type testEnv struct {
	svc      *Service
	repo     *MemoryRepo
	email    *delivery.MockEmailSender
	sms      *delivery.MockSMSSender
	internal *delivery.MockInternalSender
	clock    *fakeClock
}

const (
	bothContacts = "patient-both"
	phoneOnly    = "patient-phone"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     NewMemoryRepo(),
		email:    &delivery.MockEmailSender{},
		sms:      &delivery.MockSMSSender{},
		internal: &delivery.MockInternalSender{},
		clock:    newFakeClock(),
	}
	dir := staticDirectory{
		bothContacts: {ID: bothContacts, Name: "Jane Doe", Email: "jane@example.com", Phone: "+15550100"},
		phoneOnly:    {ID: phoneOnly, Name: "John Roe", Phone: "+15550199"},
	}
	transport := delivery.NewTransport(env.email, env.sms, env.internal, time.Second)
	env.svc = NewService(env.repo, transport, dir, DefaultConfig(), WithClock(env.clock.Now))
	return env
}

func (env *testEnv) get(t *testing.T, id uuid.UUID) *Notification {
	t.Helper()
	n, err := env.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return n
}

func TestService_Enqueue(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.svc.Enqueue(context.Background(), CreateParams{
		Type:        TypeWaitlistUpdate,
		RecipientID: bothContacts,
		Message:     "registered",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n.Status != StatusPending || n.Priority != PriorityNormal {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.SentAt != nil {
		t.Error("pending notification must not have sentAt")
	}
	if n.Attempts() != 0 {
		t.Errorf("expected 0 attempts, got %d", n.Attempts())
	}
	if len(env.email.Calls()) != 0 {
		t.Error("Enqueue must not deliver")
	}
}

func TestService_Enqueue_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Enqueue(context.Background(), CreateParams{Type: "carrier_pigeon", Priority: "urgent"})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Problems) != 4 {
		t.Errorf("expected 4 problems, got %v", ve.Problems)
	}
}

func TestService_Create_HighPriorityDispatchesImmediately(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.svc.Create(context.Background(), CreateParams{
		Type:        TypeStatusChange,
		RecipientID: bothContacts,
		Message:     "cancelled",
		Priority:    PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Status != StatusSent {
		t.Fatalf("expected sent, got %s", n.Status)
	}
	if n.SentAt == nil || !n.SentAt.Equal(env.clock.Now()) {
		t.Errorf("expected sentAt=%v, got %v", env.clock.Now(), n.SentAt)
	}
	calls := env.email.Calls()
	if len(calls) != 1 || calls[0].To != "jane@example.com" || calls[0].Body != "cancelled" {
		t.Errorf("unexpected email calls: %+v", calls)
	}
}

func TestService_Create_NormalPriorityWaits(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.svc.Create(context.Background(), CreateParams{
		Type:        TypeWaitlistUpdate,
		RecipientID: bothContacts,
		Message:     "registered",
		Priority:    PriorityNormal,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Status != StatusPending {
		t.Errorf("expected pending, got %s", n.Status)
	}
	if len(env.email.Calls()) != 0 {
		t.Error("normal priority must be left to the scheduler")
	}
}

func TestService_Create_HighPriorityScheduledLater(t *testing.T) {
	env := newTestEnv(t)
	later := env.clock.Now().Add(time.Hour)
	n, err := env.svc.Create(context.Background(), CreateParams{
		Type:         TypeAppointmentAvailable,
		RecipientID:  bothContacts,
		Message:      "slot",
		Priority:     PriorityHigh,
		ScheduledFor: &later,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Status != StatusPending {
		t.Errorf("expected pending, got %s", n.Status)
	}
	if len(env.email.Calls())+len(env.sms.Calls()) != 0 {
		t.Error("future notification must not be sent yet")
	}
}

func TestService_Dispatch_SentIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if got := len(env.email.Calls()); got != 1 {
		t.Errorf("expected exactly one send, got %d", got)
	}
	if env.get(t, n.ID).Status != StatusSent {
		t.Error("expected sent")
	}
}

func TestService_Dispatch_RetryIsBounded(t *testing.T) {
	env := newTestEnv(t)
	env.email.ShouldFail = true
	env.email.FailError = "smtp unavailable"
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	retries := DefaultConfig().RetryAttempts
	for i := 1; i <= retries; i++ {
		if err := env.svc.Dispatch(ctx, n.ID); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
		got := env.get(t, n.ID)
		if got.Status != StatusPending {
			t.Fatalf("attempt %d: expected pending, got %s", i, got.Status)
		}
		if got.Attempts() != i {
			t.Errorf("attempt %d: expected attempts=%d, got %d", i, i, got.Attempts())
		}
		want := env.clock.Now().Add(5 * time.Minute)
		if got.ScheduledFor == nil || !got.ScheduledFor.Equal(want) {
			t.Errorf("attempt %d: expected scheduledFor=%v, got %v", i, want, got.ScheduledFor)
		}
		if !strings.Contains(got.Metadata.String(MetaLastError), "smtp unavailable") {
			t.Errorf("attempt %d: lastError not recorded: %v", i, got.Metadata)
		}
		env.clock.Advance(5 * time.Minute)
	}

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("final Dispatch: %v", err)
	}
	final := env.get(t, n.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Attempts() != retries {
		t.Errorf("attempts must not change on permanent failure, got %d", final.Attempts())
	}
	if final.SentAt != nil {
		t.Error("failed notification must not have sentAt")
	}

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch after failure: %v", err)
	}
	if got := len(env.email.Calls()); got != retries+1 {
		t.Errorf("expected %d sends in total, got %d", retries+1, got)
	}
}

func TestService_Dispatch_AppointmentAvailableUsesBothChannels(t *testing.T) {
	env := newTestEnv(t)
	env.sms.ShouldFail = true
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeAppointmentAvailable, RecipientID: bothContacts, Message: "slot"})

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(env.email.Calls()) != 1 || len(env.sms.Calls()) != 1 {
		t.Fatalf("both channels must be attempted: email=%d sms=%d", len(env.email.Calls()), len(env.sms.Calls()))
	}
	got := env.get(t, n.ID)
	if got.Status != StatusPending || got.Attempts() != 1 {
		t.Errorf("partial failure must count as failure: status=%s attempts=%d", got.Status, got.Attempts())
	}
	channels, ok := got.Metadata[MetaChannels].(map[string]string)
	if !ok {
		t.Fatalf("expected channel outcomes, got %T", got.Metadata[MetaChannels])
	}
	if channels["email"] != "sent" || channels["sms"] == "sent" {
		t.Errorf("unexpected channel outcomes: %v", channels)
	}
}

func TestService_Dispatch_ChannelsRunConcurrently(t *testing.T) {
	env := newTestEnv(t)
	env.email.Delay = 150 * time.Millisecond
	env.sms.Delay = 150 * time.Millisecond
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeAppointmentAvailable, RecipientID: bothContacts, Message: "slot"})

	start := time.Now()
	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 290*time.Millisecond {
		t.Errorf("channels appear to run sequentially: %s", elapsed)
	}
	if env.get(t, n.ID).Status != StatusSent {
		t.Error("expected sent")
	}
}

func TestService_Dispatch_ContactReminderIsInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeContactReminder, RecipientID: bothContacts, Message: "call back"})

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(env.internal.Calls()) != 1 {
		t.Errorf("expected one internal message, got %d", len(env.internal.Calls()))
	}
	if len(env.email.Calls())+len(env.sms.Calls()) != 0 {
		t.Error("contact reminders must not reach the patient")
	}
}

func TestService_Dispatch_FallsBackToSMS(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: phoneOnly, Message: "m"})

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	calls := env.sms.Calls()
	if len(calls) != 1 || calls[0].To != "+15550199" {
		t.Errorf("expected SMS fallback, got %+v", calls)
	}
	if env.get(t, n.ID).Status != StatusSent {
		t.Error("expected sent")
	}
}

func TestService_Dispatch_UnknownRecipientFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: "nobody", Message: "m"})

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got := env.get(t, n.ID)
	if got.Status != StatusPending || got.Attempts() != 1 {
		t.Errorf("expected retry scheduled, got status=%s attempts=%d", got.Status, got.Attempts())
	}
}

func TestService_Dispatch_TimeoutCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.email.Delay = time.Second
	transport := delivery.NewTransport(env.email, env.sms, env.internal, 20*time.Millisecond)
	svc := NewService(env.repo, transport, staticDirectory{
		bothContacts: {ID: bothContacts, Email: "jane@example.com"},
	}, DefaultConfig(), WithClock(env.clock.Now))
	ctx := context.Background()
	n, _ := svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	if err := svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got := env.get(t, n.ID)
	if got.Status != StatusPending || got.Attempts() != 1 {
		t.Errorf("expected retry after timeout, got status=%s attempts=%d", got.Status, got.Attempts())
	}
	if !strings.Contains(got.Metadata.String(MetaLastError), "deadline exceeded") {
		t.Errorf("expected timeout in lastError, got %q", got.Metadata.String(MetaLastError))
	}
}

func TestService_Dispatch_NotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.Dispatch(context.Background(), uuid.New())
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type failingUpdateRepo struct {
	*MemoryRepo
	err error
}

func (r *failingUpdateRepo) UpdateDelivery(context.Context, *Notification, uuid.UUID) error {
	return r.err
}

func TestService_PersistenceErrors(t *testing.T) {
	env := newTestEnv(t)
	repo := &failingUpdateRepo{MemoryRepo: env.repo, err: db.Wrap("update notification", errors.New("connection reset"))}
	transport := delivery.NewTransport(env.email, env.sms, env.internal, time.Second)
	svc := NewService(repo, transport, staticDirectory{
		bothContacts: {ID: bothContacts, Email: "jane@example.com"},
	}, DefaultConfig(), WithClock(env.clock.Now))
	ctx := context.Background()

	n, _ := svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})
	if err := svc.Dispatch(ctx, n.ID); !db.IsPersistence(err) {
		t.Errorf("Dispatch should surface persistence errors, got %v", err)
	}

	created, err := svc.Create(ctx, CreateParams{Type: TypeStatusChange, RecipientID: bothContacts, Message: "m", Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("Create must succeed once the notification is stored: %v", err)
	}
	if created.Status != StatusPending {
		t.Errorf("expected pending, got %s", created.Status)
	}
}

func TestService_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	cancelled, err := env.svc.Cancel(ctx, n.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(env.email.Calls()) != 0 {
		t.Error("cancelled notification must never be sent")
	}

	_, err = env.svc.Cancel(ctx, n.ID)
	if !errors.Is(err, ErrNotCancellable) || !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on second cancel, got %v", err)
	}
}

func TestService_ClaimDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due1, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "a", ScheduledFor: &past})
	due2, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "b"})
	_, _ = env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "c", ScheduledFor: &future})
	sent, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "d"})
	if err := env.svc.Dispatch(ctx, sent.ID); err != nil {
		t.Fatal(err)
	}

	_, ids, err := env.svc.ClaimDue(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 due notifications, got %d", len(ids))
	}
	got := map[uuid.UUID]bool{ids[0]: true, ids[1]: true}
	if !got[due1.ID] || !got[due2.ID] {
		t.Errorf("unexpected claim: %v", ids)
	}

	_, again, _ := env.svc.ClaimDue(ctx, 10, time.Minute)
	if len(again) != 0 {
		t.Errorf("claimed notifications must not be handed out twice within the lease, got %d", len(again))
	}

	env.clock.Advance(2 * time.Minute)
	_, expired, _ := env.svc.ClaimDue(ctx, 10, time.Minute)
	if len(expired) != 2 {
		t.Errorf("expected lease expiry to release 2 notifications, got %d", len(expired))
	}
}

func TestService_DispatchHonoursBatchClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	token, ids, err := env.svc.ClaimDue(ctx, 10, time.Minute)
	if err != nil || len(ids) != 1 {
		t.Fatalf("ClaimDue: ids=%v err=%v", ids, err)
	}

	if err := env.svc.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(env.email.Calls()) != 0 {
		t.Fatal("a claimed notification must not be delivered by another dispatcher")
	}

	if err := env.svc.DispatchClaimed(ctx, n.ID, token); err != nil {
		t.Fatalf("DispatchClaimed: %v", err)
	}
	got, _ := env.repo.GetByID(ctx, n.ID)
	if got.Status != StatusSent || len(env.email.Calls()) != 1 {
		t.Errorf("expected one delivery by the claim holder, got status=%s emails=%d", got.Status, len(env.email.Calls()))
	}
}

func TestService_ConcurrentDispatchSendsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.email.Delay = 50 * time.Millisecond
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})
	token, _, _ := env.svc.ClaimDue(ctx, 10, time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = env.svc.DispatchClaimed(ctx, n.ID, token)
	}()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = env.svc.Dispatch(ctx, n.ID)
		}()
	}
	wg.Wait()

	if calls := len(env.email.Calls()); calls != 1 {
		t.Errorf("expected exactly one email, got %d", calls)
	}
}

func TestService_DispatchSkipsLapsedBatchClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	stale, _, _ := env.svc.ClaimDue(ctx, 10, time.Minute)
	env.clock.Advance(2 * time.Minute)
	fresh, ids, _ := env.svc.ClaimDue(ctx, 10, time.Minute)
	if len(ids) != 1 {
		t.Fatalf("expected the lapsed claim to be taken over, got %d", len(ids))
	}

	if err := env.svc.DispatchClaimed(ctx, n.ID, stale); err != nil {
		t.Fatalf("DispatchClaimed(stale): %v", err)
	}
	if len(env.email.Calls()) != 0 {
		t.Fatal("a dispatcher whose claim was taken over must not deliver")
	}
	if err := env.svc.DispatchClaimed(ctx, n.ID, fresh); err != nil {
		t.Fatalf("DispatchClaimed(fresh): %v", err)
	}
	if len(env.email.Calls()) != 1 {
		t.Errorf("expected one email, got %d", len(env.email.Calls()))
	}
}

// waitForEmail blocks until the mock has recorded n calls.
func waitForEmail(t *testing.T, m *delivery.MockEmailSender, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(m.Calls()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d email(s)", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestService_CancelDuringDispatchIsRefused(t *testing.T) {
	env := newTestEnv(t)
	env.email.Delay = 200 * time.Millisecond
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	done := make(chan error, 1)
	go func() { done <- env.svc.Dispatch(ctx, n.ID) }()
	waitForEmail(t, env.email, 1)

	_, err := env.svc.Cancel(ctx, n.ID)
	if !errors.Is(err, ErrClaimed) || !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict while dispatching, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got, _ := env.repo.GetByID(ctx, n.ID)
	if got.Status != StatusSent {
		t.Errorf("expected sent, got %s", got.Status)
	}
}

func TestService_CancelAfterLapsedClaimSticks(t *testing.T) {
	env := newTestEnv(t)
	env.email.Delay = 200 * time.Millisecond
	ctx := context.Background()
	n, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "m"})

	done := make(chan error, 1)
	go func() { done <- env.svc.Dispatch(ctx, n.ID) }()
	waitForEmail(t, env.email, 1)

	env.clock.Advance(DefaultClaimLease + time.Second)
	if _, err := env.svc.Cancel(ctx, n.ID); err != nil {
		t.Fatalf("Cancel after the lease lapsed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got, _ := env.repo.GetByID(ctx, n.ID)
	if got.Status != StatusCancelled {
		t.Errorf("a successful cancel must not be overwritten, got %s", got.Status)
	}
}

func TestService_Stats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "a"})
	b, _ := env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "b"})
	_, _ = env.svc.Enqueue(ctx, CreateParams{Type: TypeWaitlistUpdate, RecipientID: bothContacts, Message: "c"})
	_ = env.svc.Dispatch(ctx, a.ID)
	_, _ = env.svc.Cancel(ctx, b.ID)

	st, err := env.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Sent != 1 || st.Cancelled != 1 || st.Pending != 1 || st.Total != 3 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestMetadata_Int(t *testing.T) {
	m := Metadata{"a": 2, "b": float64(3), "c": int64(4), "d": "x"}
	if m.Int("a") != 2 || m.Int("b") != 3 || m.Int("c") != 4 || m.Int("d") != 0 || m.Int("missing") != 0 {
		t.Errorf("unexpected Int values for %v", m)
	}
}
