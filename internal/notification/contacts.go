package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Contact is a user's delivery addresses. Any field may be empty; the
// payload builder leaves the corresponding slot null and the sender
// fails the attempt.
type Contact struct {
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	TelegramChatID string `json:"telegram_chat_id"`
}

// Directory resolves a user id to a contact record. Lookup failures are
// not errors: an unknown user yields an empty contact, whose deliveries
// fail through the normal retry/fallback path.
type Directory interface {
	Lookup(ctx context.Context, userID int64) (Contact, bool)
}

// StaticDirectory is a fixed in-memory directory.
type StaticDirectory struct {
	contacts map[int64]Contact
}

// NewStaticDirectory builds a directory from a fixed contact table.
func NewStaticDirectory(contacts map[int64]Contact) *StaticDirectory {
	if contacts == nil {
		contacts = map[int64]Contact{}
	}
	return &StaticDirectory{contacts: contacts}
}

// SeedContacts returns the built-in development contact table.
func SeedContacts() map[int64]Contact {
	return map[int64]Contact{
		1: {Email: "test1@mail.ru", Phone: "+79001234567", TelegramChatID: "123456789"},
		2: {Email: "test2@mail.ru", Phone: "+79007654321", TelegramChatID: "987654321"},
	}
}

// Lookup implements Directory.
func (d *StaticDirectory) Lookup(_ context.Context, userID int64) (Contact, bool) {
	c, ok := d.contacts[userID]
	return c, ok
}

// ParseContactsJSON decodes a {"<user_id>": {contact}} JSON object, the
// format accepted by the NOTIFYD_CONTACTS environment variable.
func ParseContactsJSON(data []byte) (map[int64]Contact, error) {
	raw := map[string]Contact{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse contacts: %w", err)
	}
	contacts := make(map[int64]Contact, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q in contacts: %w", k, err)
		}
		contacts[id] = v
	}
	return contacts, nil
}
