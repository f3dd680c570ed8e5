package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDirectoryLookup(t *testing.T) {
	dir := NewStaticDirectory(SeedContacts())

	c, ok := dir.Lookup(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, "test1@mail.ru", c.Email)
	assert.Equal(t, "+79001234567", c.Phone)
	assert.Equal(t, "123456789", c.TelegramChatID)

	_, ok = dir.Lookup(context.Background(), 999)
	assert.False(t, ok)
}

func TestParseContactsJSON(t *testing.T) {
	contacts, err := ParseContactsJSON([]byte(`{
		"7": {"email": "a@b.c", "phone": "+70000000000", "telegram_chat_id": "77"}
	}`))
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "a@b.c", contacts[7].Email)

	_, err = ParseContactsJSON([]byte(`{"not-a-number": {}}`))
	assert.ErrorContains(t, err, "invalid user id")

	_, err = ParseContactsJSON([]byte(`nonsense`))
	assert.Error(t, err)
}
