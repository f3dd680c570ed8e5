package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

func newTestID() uuid.UUID { return uuid.New() }

type fakeSender struct {
	mu     sync.Mutex
	method Method
	result SendResult
	calls  int
}

func (f *fakeSender) Send(_ context.Context, _ *Notification, _ Payload) SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

func (f *fakeSender) Method() Method { return f.method }

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClaim records which completion method ran.
type fakeClaim struct {
	msg *OutboxMessage
	n   *Notification

	attemptRecorded   bool
	superseded        bool
	exhausted         bool
	exhaustedReason   string
	exhaustedFallback *OutboxMessage
	released          bool
}

func (c *fakeClaim) Message() *OutboxMessage     { return c.msg }
func (c *fakeClaim) Notification() *Notification { return c.n }

func (c *fakeClaim) RecordAttempt(_ context.Context, now time.Time) error {
	c.attemptRecorded = true
	c.msg.AttemptCount++
	c.msg.LastAttempt = &now
	return nil
}

func (c *fakeClaim) MarkSuperseded(context.Context) error {
	c.superseded = true
	return nil
}

func (c *fakeClaim) CloseExhausted(_ context.Context, reason string, fallback *OutboxMessage) error {
	c.exhausted = true
	c.exhaustedReason = reason
	c.exhaustedFallback = fallback
	return nil
}

func (c *fakeClaim) Release() { c.released = true }

type retryCall struct {
	id     uuid.UUID
	reason string
	next   time.Time
}

type failureCall struct {
	msg      *OutboxMessage
	reason   string
	fallback *OutboxMessage
}

// fakeStore is an in-memory Store recording settlement calls.
type fakeStore struct {
	mu sync.Mutex

	notifications map[uuid.UUID]*Notification
	outbox        map[uuid.UUID][]*OutboxMessage

	// pending is drained by the first ClaimPendingBatch call.
	pending []uuid.UUID
	// claims are handed out by ClaimForProcessing.
	claims map[uuid.UUID]*fakeClaim

	created   []*OutboxMessage
	successes []uuid.UUID
	retries   []retryCall
	failures  []failureCall
	resets    []uuid.UUID

	statsResult *Stats
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notifications: make(map[uuid.UUID]*Notification),
		outbox:        make(map[uuid.UUID][]*OutboxMessage),
		claims:        make(map[uuid.UUID]*fakeClaim),
	}
}

func (s *fakeStore) CreateNotification(_ context.Context, n *Notification, msgs []*OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
	s.outbox[n.ID] = msgs
	s.created = append(s.created, msgs...)
	return nil
}

func (s *fakeStore) GetNotification(_ context.Context, id uuid.UUID) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *fakeStore) ListOutbox(_ context.Context, notificationID uuid.UUID) ([]*OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox[notificationID], nil
}

func (s *fakeStore) ResetFailed(_ context.Context, notificationID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, notificationID)
	var reopened int64
	for _, m := range s.outbox[notificationID] {
		if m.Status == StatusFailed {
			m.Status = StatusPending
			m.AttemptCount = 0
			reopened++
		}
	}
	return reopened, nil
}

func (s *fakeStore) ClaimPendingBatch(_ context.Context, limit int, _ time.Duration) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(s.pending) {
		n = len(s.pending)
	}
	batch := s.pending[:n]
	s.pending = s.pending[n:]
	return batch, nil
}

func (s *fakeStore) ClaimForProcessing(_ context.Context, id uuid.UUID) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[id]
	if !ok {
		return nil, nil
	}
	delete(s.claims, id)
	return claim, nil
}

func (s *fakeStore) SettleSuccess(_ context.Context, msg *OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes = append(s.successes, msg.ID)
	return nil
}

func (s *fakeStore) SettleRetry(_ context.Context, id uuid.UUID, reason string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, retryCall{id: id, reason: reason, next: nextAttempt})
	return nil
}

func (s *fakeStore) SettleFailure(_ context.Context, msg *OutboxMessage, reason string, fallback *OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failureCall{msg: msg, reason: reason, fallback: fallback})
	return nil
}

func (s *fakeStore) Stats(context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsResult != nil {
		return s.statsResult, nil
	}
	return &Stats{
		OutboxByStatus: map[string]int64{},
		OutboxByMethod: map[string]int64{},
	}, nil
}

func (s *fakeStore) successCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.successes)
}

func testNotification(userID int64) *Notification {
	now := time.Now()
	return &Notification{
		ID:        newTestID(),
		UserID:    userID,
		Title:     "Test",
		Message:   "Test message",
		Type:      TypeInfo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
