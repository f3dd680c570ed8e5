// Package notification implements durable multi-channel notification
// delivery over a transactional outbox.
//
// Architecture:
//
//	HTTP ingress → PostgreSQL (notification + outbox rows, one tx)
//	                    ↓
//	         Dispatcher tick (claim batch, SKIP LOCKED)
//	                    ↓
//	         Worker pool → Channel Sender (EMAIL / SMS / TELEGRAM)
//	                    ↓
//	         settle: SENT, retry with backoff, or fallback chain
//
// The outbox table is the only coordination medium between processes;
// correctness rests on row-level locks and per-phase transactions.
package notification

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Method is a delivery channel.
type Method string

const (
	MethodEmail    Method = "EMAIL"
	MethodSMS      Method = "SMS"
	MethodTelegram Method = "TELEGRAM"
)

// ParseMethod validates and normalizes a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodEmail, MethodSMS, MethodTelegram:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Status is the lifecycle state of an outbox message.
type Status string

const (
	StatusPending  Status = "PENDING"  // Awaiting claim
	StatusEnqueued Status = "ENQUEUED" // Claimed, handed to a worker
	StatusSent     Status = "SENT"     // Delivered, or superseded by a sibling success
	StatusFailed   Status = "FAILED"   // Retries exhausted
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Type categorizes a notification. Informational only.
type Type string

const (
	TypeInfo    Type = "INFO"
	TypeWarning Type = "WARNING"
	TypeError   Type = "ERROR"
	TypeSuccess Type = "SUCCESS"
)

// Chain is an ordered sequence of delivery methods tried in succession
// when earlier methods exhaust their retries.
type Chain []Method

// DefaultChain is the canonical fallback order.
func DefaultChain() Chain {
	return Chain{MethodSMS, MethodTelegram, MethodEmail}
}

// Successor returns the method following m in the chain, if any.
func (c Chain) Successor(m Method) (Method, bool) {
	for i, cur := range c {
		if cur == m && i+1 < len(c) {
			return c[i+1], true
		}
	}
	return "", false
}

// Head returns the first method of the chain.
func (c Chain) Head() Method {
	if len(c) == 0 {
		return MethodSMS
	}
	return c[0]
}

// ParseChain parses a comma-separated method list, e.g. "SMS,TELEGRAM,EMAIL".
func ParseChain(s string) (Chain, error) {
	parts := strings.Split(s, ",")
	chain := make(Chain, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m, err := ParseMethod(p)
		if err != nil {
			return nil, err
		}
		chain = append(chain, m)
	}
	if len(chain) == 0 {
		return nil, errors.New("fallback chain is empty")
	}
	return chain, nil
}

// EmailPayload is the channel-specific payload for email delivery.
// Address slots stay null when the contact record lacks them; the sender
// fails such attempts and the retry/fallback machinery takes over.
type EmailPayload struct {
	ToEmail *string `json:"to_email"`
	Subject string  `json:"subject"`
	Message string  `json:"message"`
}

// SMSPayload is the channel-specific payload for SMS delivery.
type SMSPayload struct {
	Phone   *string `json:"phone"`
	Message string  `json:"message"`
}

// TelegramPayload is the channel-specific payload for Telegram delivery.
type TelegramPayload struct {
	ChatID  *string `json:"chat_id"`
	Message string  `json:"message"`
}

// Payload wraps the channel-specific payload of an outbox message.
// Exactly one slot is set, matching the message's method. It is built
// once at insert time and never mutated; retries reuse it verbatim.
type Payload struct {
	Email    *EmailPayload    `json:"email,omitempty"`
	SMS      *SMSPayload      `json:"sms,omitempty"`
	Telegram *TelegramPayload `json:"telegram,omitempty"`
}

// Value implements driver.Valuer for database storage.
func (p Payload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for database retrieval.
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported payload type %T", value)
	}
}

// BuildPayload composes the per-method payload from the notification
// content and the user's contact record:
//
//	EMAIL    → {to_email, subject = title, message}
//	SMS      → {phone, "title: message"}
//	TELEGRAM → {chat_id, "*title*\nmessage"}
func BuildPayload(method Method, title, message string, contact Contact) Payload {
	switch method {
	case MethodEmail:
		return Payload{Email: &EmailPayload{
			ToEmail: nilIfEmpty(contact.Email),
			Subject: title,
			Message: message,
		}}
	case MethodSMS:
		return Payload{SMS: &SMSPayload{
			Phone:   nilIfEmpty(contact.Phone),
			Message: fmt.Sprintf("%s: %s", title, message),
		}}
	case MethodTelegram:
		return Payload{Telegram: &TelegramPayload{
			ChatID:  nilIfEmpty(contact.TelegramChatID),
			Message: fmt.Sprintf("*%s*\n%s", title, message),
		}}
	default:
		return Payload{}
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Notification is the user-visible root aggregate. It exclusively owns
// its outbox messages (cascade delete).
type Notification struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Type      Type      `json:"notification_type" db:"notification_type"`
	IsSent    bool      `json:"is_sent" db:"is_sent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OutboxMessage is a single delivery-attempt record.
type OutboxMessage struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	NotificationID  uuid.UUID  `json:"notification_id" db:"notification_id"`
	Method          Method     `json:"method" db:"method"`
	Status          Status     `json:"status" db:"status"`
	Payload         Payload    `json:"payload" db:"payload"`
	AttemptCount    int        `json:"attempt_count" db:"attempt_count"`
	MaxRetries      int        `json:"max_retries" db:"max_retries"`
	LastAttempt     *time.Time `json:"last_attempt,omitempty" db:"last_attempt"`
	NextAttemptAt   time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	StatusChangedAt time.Time  `json:"status_changed_at" db:"status_changed_at"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// CanRetry reports whether another attempt is allowed.
func (m *OutboxMessage) CanRetry() bool {
	return m.AttemptCount < m.MaxRetries
}

// NewOutboxMessage builds a fresh PENDING row for a notification.
func NewOutboxMessage(notificationID uuid.UUID, method Method, payload Payload, maxRetries int) *OutboxMessage {
	now := time.Now()
	return &OutboxMessage{
		ID:              uuid.New(),
		NotificationID:  notificationID,
		Method:          method,
		Status:          StatusPending,
		Payload:         payload,
		AttemptCount:    0,
		MaxRetries:      maxRetries,
		NextAttemptAt:   now,
		StatusChangedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CreateRequest is the ingress input for creating a notification.
type CreateRequest struct {
	UserID  int64    `json:"user_id"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Type    Type     `json:"notification_type,omitempty"`
	Methods []Method `json:"methods,omitempty"`
}

// Stats aggregates system-wide counters for the observational endpoints.
type Stats struct {
	TotalNotifications   int64            `json:"total_notifications"`
	SentNotifications    int64            `json:"sent_notifications"`
	PendingNotifications int64            `json:"pending_notifications"`
	OutboxTotal          int64            `json:"outbox_messages"`
	OutboxByStatus       map[string]int64 `json:"outbox_by_status"`
	OutboxByMethod       map[string]int64 `json:"outbox_by_method"`
}

// Sentinel errors surfaced to callers.
var (
	ErrNotFound      = errors.New("notification not found")
	ErrUnknownMethod = errors.New("unknown delivery method")
	ErrInvalidInput  = errors.New("invalid notification input")
)

// MaxTitleLength bounds notification titles.
const MaxTitleLength = 200
