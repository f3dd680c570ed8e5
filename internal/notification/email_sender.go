package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers over SMTP.
type EmailSender struct {
	cfg EmailConfig
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

// Method implements Sender.
func (e *EmailSender) Method() Method { return MethodEmail }

// Send implements Sender. The dial honors the context deadline; the SMTP
// conversation itself inherits the connection's deadline.
func (e *EmailSender) Send(ctx context.Context, _ *Notification, p Payload) SendResult {
	if p.Email == nil {
		return SendResult{Err: errors.New("email payload missing")}
	}
	if p.Email.ToEmail == nil || *p.Email.ToEmail == "" {
		return SendResult{Err: errors.New("user has no email address")}
	}
	if e.cfg.Host == "" {
		return SendResult{Err: errors.New("smtp host not configured")}
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return SendResult{Err: fmt.Errorf("smtp dial failed: %w", err)}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return SendResult{Err: fmt.Errorf("smtp handshake failed: %w", err)}
	}
	defer func() { _ = client.Close() }()

	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return SendResult{Err: fmt.Errorf("smtp auth failed: %w", err)}
			}
		}
	}

	to := *p.Email.ToEmail
	if err := client.Mail(e.cfg.From); err != nil {
		return SendResult{Err: fmt.Errorf("smtp MAIL failed: %w", err)}
	}
	if err := client.Rcpt(to); err != nil {
		return SendResult{Err: fmt.Errorf("smtp RCPT failed: %w", err)}
	}

	w, err := client.Data()
	if err != nil {
		return SendResult{Err: fmt.Errorf("smtp DATA failed: %w", err)}
	}
	if _, err := w.Write(composeMessage(e.cfg.From, to, p.Email.Subject, p.Email.Message)); err != nil {
		_ = w.Close()
		return SendResult{Err: fmt.Errorf("smtp write failed: %w", err)}
	}
	if err := w.Close(); err != nil {
		return SendResult{Err: fmt.Errorf("smtp message rejected: %w", err)}
	}

	_ = client.Quit()
	return SendResult{Success: true}
}

func composeMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
