package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("sms")
	require.NoError(t, err)
	assert.Equal(t, MethodSMS, m)

	m, err = ParseMethod("  Telegram ")
	require.NoError(t, err)
	assert.Equal(t, MethodTelegram, m)

	_, err = ParseMethod("PIGEON")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusEnqueued.IsTerminal())
	assert.True(t, StatusSent.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestChainSuccessor(t *testing.T) {
	chain := DefaultChain()

	next, ok := chain.Successor(MethodSMS)
	require.True(t, ok)
	assert.Equal(t, MethodTelegram, next)

	next, ok = chain.Successor(MethodTelegram)
	require.True(t, ok)
	assert.Equal(t, MethodEmail, next)

	// EMAIL is the end of the chain.
	_, ok = chain.Successor(MethodEmail)
	assert.False(t, ok)

	// Unknown method has no successor.
	_, ok = Chain{MethodSMS}.Successor(MethodTelegram)
	assert.False(t, ok)
}

func TestChainHead(t *testing.T) {
	assert.Equal(t, MethodSMS, DefaultChain().Head())
	assert.Equal(t, MethodEmail, Chain{MethodEmail}.Head())
	assert.Equal(t, MethodSMS, Chain{}.Head())
}

func TestParseChain(t *testing.T) {
	chain, err := ParseChain("EMAIL, sms")
	require.NoError(t, err)
	assert.Equal(t, Chain{MethodEmail, MethodSMS}, chain)

	_, err = ParseChain("SMS,FAX")
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = ParseChain("")
	assert.Error(t, err)
}

func TestBuildPayload(t *testing.T) {
	contact := Contact{
		Email:          "user@example.com",
		Phone:          "+79001234567",
		TelegramChatID: "42",
	}

	p := BuildPayload(MethodEmail, "Welcome", "Hello there", contact)
	require.NotNil(t, p.Email)
	require.NotNil(t, p.Email.ToEmail)
	assert.Equal(t, "user@example.com", *p.Email.ToEmail)
	assert.Equal(t, "Welcome", p.Email.Subject)
	assert.Equal(t, "Hello there", p.Email.Message)

	p = BuildPayload(MethodSMS, "Welcome", "Hello there", contact)
	require.NotNil(t, p.SMS)
	assert.Equal(t, "Welcome: Hello there", p.SMS.Message)

	p = BuildPayload(MethodTelegram, "Welcome", "Hello there", contact)
	require.NotNil(t, p.Telegram)
	assert.Equal(t, "*Welcome*\nHello there", p.Telegram.Message)
}

func TestBuildPayloadMissingContact(t *testing.T) {
	p := BuildPayload(MethodSMS, "Title", "Body", Contact{})
	require.NotNil(t, p.SMS)
	assert.Nil(t, p.SMS.Phone)
	assert.Equal(t, "Title: Body", p.SMS.Message)
}

func TestPayloadRoundTrip(t *testing.T) {
	original := BuildPayload(MethodTelegram, "Hi", "There", Contact{TelegramChatID: "99"})

	value, err := original.Value()
	require.NoError(t, err)

	var decoded Payload
	require.NoError(t, decoded.Scan(value))
	require.NotNil(t, decoded.Telegram)
	assert.Equal(t, "99", *decoded.Telegram.ChatID)
	assert.Nil(t, decoded.Email)
	assert.Nil(t, decoded.SMS)
}

func TestOutboxMessageCanRetry(t *testing.T) {
	m := NewOutboxMessage(newTestID(), MethodSMS, Payload{}, 3)
	assert.True(t, m.CanRetry())

	m.AttemptCount = 2
	assert.True(t, m.CanRetry())

	m.AttemptCount = 3
	assert.False(t, m.CanRetry())
}

func TestNewOutboxMessage(t *testing.T) {
	nID := newTestID()
	m := NewOutboxMessage(nID, MethodTelegram, Payload{}, 5)

	assert.Equal(t, nID, m.NotificationID)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, MethodTelegram, m.Method)
	assert.Equal(t, 0, m.AttemptCount)
	assert.Equal(t, 5, m.MaxRetries)
	assert.False(t, m.NextAttemptAt.After(m.CreatedAt))
}
