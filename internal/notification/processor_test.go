package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(store Store, senders *DeliverySet) *Processor {
	directory := NewStaticDirectory(SeedContacts())
	return NewProcessor(store, senders, directory, DefaultConfig(), nil)
}

func armClaim(store *fakeStore, n *Notification, method Method, attempts int) *fakeClaim {
	msg := NewOutboxMessage(n.ID, method, BuildPayload(method, n.Title, n.Message, SeedContacts()[n.UserID]), 3)
	msg.Status = StatusEnqueued
	msg.AttemptCount = attempts
	claim := &fakeClaim{msg: msg, n: n}
	store.claims[msg.ID] = claim
	return claim
}

func TestProcessDelivered(t *testing.T) {
	store := newFakeStore()
	n := testNotification(1)
	claim := armClaim(store, n, MethodSMS, 0)

	senders := NewDeliverySet()
	sender := &fakeSender{method: MethodSMS, result: SendResult{Success: true}}
	senders.Register(sender)

	outcome, err := newTestProcessor(store, senders).Process(context.Background(), claim.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.True(t, claim.attemptRecorded)
	assert.Equal(t, 1, sender.callCount())
	require.Len(t, store.successes, 1)
	assert.Equal(t, claim.msg.ID, store.successes[0])
	assert.True(t, claim.released)
}

func TestProcessMissingClaimSkips(t *testing.T) {
	store := newFakeStore()
	senders := NewDeliverySet()

	outcome, err := newTestProcessor(store, senders).Process(context.Background(), newTestID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestProcessAlreadySentSupersedes(t *testing.T) {
	store := newFakeStore()
	n := testNotification(1)
	n.IsSent = true
	claim := armClaim(store, n, MethodTelegram, 0)

	senders := NewDeliverySet()
	sender := &fakeSender{method: MethodTelegram, result: SendResult{Success: true}}
	senders.Register(sender)

	outcome, err := newTestProcessor(store, senders).Process(context.Background(), claim.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, outcome)
	assert.True(t, claim.superseded)
	// No attempt is made once a sibling has delivered.
	assert.False(t, claim.attemptRecorded)
	assert.Equal(t, 0, sender.callCount())
}

func TestProcessFailureSchedulesRetry(t *testing.T) {
	store := newFakeStore()
	n := testNotification(1)
	claim := armClaim(store, n, MethodSMS, 0)

	senders := NewDeliverySet()
	senders.Register(&fakeSender{method: MethodSMS, result: SendResult{Err: errors.New("gateway timeout")}})

	before := time.Now()
	outcome, err := newTestProcessor(store, senders).Process(context.Background(), claim.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, outcome)

	require.Len(t, store.retries, 1)
	retry := store.retries[0]
	assert.Equal(t, claim.msg.ID, retry.id)
	assert.Equal(t, "gateway timeout", retry.reason)
	// First failure backs off by the base delay.
	assert.WithinDuration(t, before.Add(10*time.Second), retry.next, 2*time.Second)
}

func TestProcessExhaustionFallsBack(t *testing.T) {
	store := newFakeStore()
	n := testNotification(1)
	// Two attempts already burned; this one is the last.
	claim := armClaim(store, n, MethodSMS, 2)

	senders := NewDeliverySet()
	senders.Register(&fakeSender{method: MethodSMS, result: SendResult{Err: errors.New("rejected")}})

	outcome, err := newTestProcessor(store, senders).Process(context.Background(), claim.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFellBack, outcome)

	require.Len(t, store.failures, 1)
	failure := store.failures[0]
	assert.Equal(t, "rejected", failure.reason)
	require.NotNil(t, failure.fallback)
	assert.Equal(t, MethodTelegram, failure.fallback.Method)
	assert.Equal(t, n.ID, failure.fallback.NotificationID)
	assert.Equal(t, StatusPending, failure.fallback.Status)
	assert.Equal(t, 0, failure.fallback.AttemptCount)
	require.NotNil(t, failure.fallback.Payload.Telegram)
	assert.Equal(t, "*Test*\nTest message", failure.fallback.Payload.Telegram.Message)
}

func TestProcessExhaustionAtChainEnd(t *testing.T) {
	store := newFakeStore()
	n := testNotification(1)
	claim := armClaim(store, n, MethodEmail, 2)

	senders := NewDeliverySet()
	senders.Register(&fakeSender{method: MethodEmail, result: SendResult{Err: errors.New("mailbox full")}})

	outcome, err := newTestProcessor(store, senders).Process(context.Background(), claim.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	require.Len(t, store.failures, 1)
	assert.Nil(t, store.failures[0].fallback)
}

func TestProcessExhaustedBeforeAttempt(t *testing.T) {
	store := newFakeStore()
	n := testNotification(1)
	// Stale reclaim of a row whose attempts are already spent.
	claim := armClaim(store, n, MethodSMS, 3)

	senders := NewDeliverySet()
	sender := &fakeSender{method: MethodSMS, result: SendResult{Success: true}}
	senders.Register(sender)

	outcome, err := newTestProcessor(store, senders).Process(context.Background(), claim.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFellBack, outcome)
	assert.True(t, claim.exhausted)
	require.NotNil(t, claim.exhaustedFallback)
	assert.Equal(t, MethodTelegram, claim.exhaustedFallback.Method)
	assert.Equal(t, 0, sender.callCount())
}

func TestProcessMissingSenderBurnsAttempt(t *testing.T) {
	store := newFakeStore()
	n := testNotification(1)
	claim := armClaim(store, n, MethodSMS, 0)

	outcome, err := newTestProcessor(store, NewDeliverySet()).Process(context.Background(), claim.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, outcome)
	require.Len(t, store.retries, 1)
	assert.Contains(t, store.retries[0].reason, "no sender registered")
}

func TestBackoffDelay(t *testing.T) {
	p := newTestProcessor(newFakeStore(), NewDeliverySet())

	assert.Equal(t, 10*time.Second, p.backoffDelay(1))
	assert.Equal(t, 20*time.Second, p.backoffDelay(2))
	assert.Equal(t, 40*time.Second, p.backoffDelay(3))
	assert.Equal(t, 160*time.Second, p.backoffDelay(5))
	// Capped at five minutes.
	assert.Equal(t, 5*time.Minute, p.backoffDelay(6))
	assert.Equal(t, 5*time.Minute, p.backoffDelay(50))
}
