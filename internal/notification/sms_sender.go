package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultSMSRuAPIBase = "https://sms.ru"

// SMSSender delivers via the SMS.ru HTTP API.
type SMSSender struct {
	apiID   string
	from    string
	baseURL string
	client  *http.Client
}

// NewSMSSender creates an SMS.ru sender. from is the optional approved
// sender name.
func NewSMSSender(apiID, from string) *SMSSender {
	return &SMSSender{
		apiID:   apiID,
		from:    from,
		baseURL: defaultSMSRuAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (s *SMSSender) WithBaseURL(baseURL string) *SMSSender {
	s.baseURL = baseURL
	return s
}

// Method implements Sender.
func (s *SMSSender) Method() Method { return MethodSMS }

type smsRuResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	SMS        map[string]struct {
		Status     string `json:"status"`
		StatusCode int    `json:"status_code"`
		StatusText string `json:"status_text"`
	} `json:"sms"`
}

// Send implements Sender.
func (s *SMSSender) Send(ctx context.Context, _ *Notification, p Payload) SendResult {
	if p.SMS == nil {
		return SendResult{Err: errors.New("sms payload missing")}
	}
	if p.SMS.Phone == nil || *p.SMS.Phone == "" {
		return SendResult{Err: errors.New("user has no phone number")}
	}
	if s.apiID == "" {
		return SendResult{Err: errors.New("sms.ru api_id not configured")}
	}

	phone := FormatPhone(*p.SMS.Phone)

	form := url.Values{}
	form.Set("api_id", s.apiID)
	form.Set("to", phone)
	form.Set("msg", p.SMS.Message)
	form.Set("json", "1")
	if s.from != "" {
		form.Set("from", s.from)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/sms/send", strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{Err: fmt.Errorf("failed to build sms request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{Err: fmt.Errorf("sms request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp smsRuResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiResp); err != nil {
		return SendResult{Err: fmt.Errorf("failed to decode sms response (HTTP %d): %w", resp.StatusCode, err)}
	}
	if apiResp.Status != "OK" {
		return SendResult{Err: fmt.Errorf("sms.ru error: status %s (code %d)", apiResp.Status, apiResp.StatusCode)}
	}
	for _, entry := range apiResp.SMS {
		if entry.Status != "OK" {
			return SendResult{Err: fmt.Errorf("sms.ru rejected message: %s (code %d)", entry.StatusText, entry.StatusCode)}
		}
	}
	return SendResult{Success: true}
}

// FormatPhone normalizes a Russian phone number to +7XXXXXXXXXX form.
// Separators are stripped; a leading 8 or bare 7 becomes +7. Numbers
// already in international form pass through unchanged.
func FormatPhone(raw string) string {
	var digits strings.Builder
	hasPlus := strings.HasPrefix(strings.TrimSpace(raw), "+")
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	num := digits.String()

	switch {
	case hasPlus:
		return "+" + num
	case len(num) == 11 && num[0] == '8':
		return "+7" + num[1:]
	case len(num) == 11 && num[0] == '7':
		return "+" + num
	case len(num) == 10:
		return "+7" + num
	default:
		return "+" + num
	}
}
