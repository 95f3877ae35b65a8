package delivery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// mockBehavior is shared by the mock senders: an optional delay, a
// permanent failure switch and a number of leading calls that fail.
type mockBehavior struct {
	ShouldFail bool
	FailError  string
	// FailTimes makes the first N calls fail even when ShouldFail is false.
	FailTimes int
	Delay     time.Duration
}

func (b *mockBehavior) outcome(ctx context.Context, call int) error {
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.ShouldFail || call <= b.FailTimes {
		msg := b.FailError
		if msg == "" {
			msg = "mock send failure"
		}
		return errors.New(msg)
	}
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mockBehavior
	mu    sync.Mutex
	calls []EmailCall
}

func (m *MockEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	n := len(m.calls)
	m.mu.Unlock()
	return m.outcome(ctx, n)
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mockBehavior
	mu    sync.Mutex
	calls []SMSCall
}

func (m *MockSMSSender) SendSMS(ctx context.Context, to, body string) error {
	m.mu.Lock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	n := len(m.calls)
	m.mu.Unlock()
	return m.outcome(ctx, n)
}

func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// InternalCall records a single call to SendInternal.
type InternalCall struct {
	RecipientID string
	Body        string
}

// MockInternalSender is a test double for InternalSender.
type MockInternalSender struct {
	mockBehavior
	mu    sync.Mutex
	calls []InternalCall
}

func (m *MockInternalSender) SendInternal(ctx context.Context, recipientID, body string) error {
	m.mu.Lock()
	m.calls = append(m.calls, InternalCall{RecipientID: recipientID, Body: body})
	n := len(m.calls)
	m.mu.Unlock()
	return m.outcome(ctx, n)
}

func (m *MockInternalSender) Calls() []InternalCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InternalCall, len(m.calls))
	copy(out, m.calls)
	return out
}
