package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+79001234567", "+79001234567"},
		{"89001234567", "+79001234567"},
		{"79001234567", "+79001234567"},
		{"9001234567", "+79001234567"},
		{"8 (900) 123-45-67", "+79001234567"},
		{"+7 900 123 45 67", "+79001234567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPhone(tt.in), "input %q", tt.in)
	}
}

func smsPayload(phone string) Payload {
	return BuildPayload(MethodSMS, "Alert", "Something happened", Contact{Phone: phone})
}

func TestSMSSenderSuccess(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"api_id": r.PostFormValue("api_id"),
			"to":     r.PostFormValue("to"),
			"msg":    r.PostFormValue("msg"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","status_code":100,"sms":{"+79001234567":{"status":"OK","status_code":100}}}`))
	}))
	defer server.Close()

	sender := NewSMSSender("secret", "").WithBaseURL(server.URL)
	result := sender.Send(context.Background(), nil, smsPayload("89001234567"))

	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.Equal(t, "secret", gotForm["api_id"])
	assert.Equal(t, "+79001234567", gotForm["to"])
	assert.Equal(t, "Alert: Something happened", gotForm["msg"])
}

func TestSMSSenderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ERROR","status_code":200}`))
	}))
	defer server.Close()

	sender := NewSMSSender("secret", "").WithBaseURL(server.URL)
	result := sender.Send(context.Background(), nil, smsPayload("+79001234567"))

	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Err, "sms.ru error")
}

func TestSMSSenderRejectedRecipient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","status_code":100,"sms":{"+79001234567":{"status":"ERROR","status_code":202,"status_text":"wrong recipient"}}}`))
	}))
	defer server.Close()

	sender := NewSMSSender("secret", "").WithBaseURL(server.URL)
	result := sender.Send(context.Background(), nil, smsPayload("+79001234567"))

	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Err, "wrong recipient")
}

func TestSMSSenderMissingPhone(t *testing.T) {
	sender := NewSMSSender("secret", "")
	result := sender.Send(context.Background(), nil, smsPayload(""))

	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Err, "no phone number")
}

func TestSMSSenderMissingCredentials(t *testing.T) {
	sender := NewSMSSender("", "")
	result := sender.Send(context.Background(), nil, smsPayload("+79001234567"))

	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Err, "api_id not configured")
}
