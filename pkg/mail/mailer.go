package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Mailer delivers a plain-text email. Implementations must honor the
// context deadline so a slow transport cannot pin a request.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer sends mail through a single SMTP endpoint.
type SMTPMailer struct {
	addr     string // host:port
	username string
	password string
	from     string
}

// NewSMTPMailer builds an SMTP-backed mailer. Auth is used only when a
// username is configured.
func NewSMTPMailer(addr, username, password, from string) (*SMTPMailer, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("smtp addr is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("smtp from address is required")
	}
	return &SMTPMailer{addr: addr, username: username, password: password, from: from}, nil
}

// Send delivers the message to all recipients in one SMTP transaction.
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	recipients := normalizeRecipients(to)
	if len(recipients) == 0 {
		return errors.New("at least one recipient is required")
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host := m.addr
	if h, _, splitErr := net.SplitHostPort(m.addr); splitErr == nil {
		host = h
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.username != "" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(nil); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
		auth := smtp.PlainAuth("", m.username, m.password, host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(BuildMessage(m.from, recipients, subject, body)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return client.Quit()
}

// BuildMessage renders RFC 5322 headers plus the plain-text body.
func BuildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func normalizeRecipients(to []string) []string {
	out := make([]string, 0, len(to))
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// LogMailer writes mail to the log instead of a transport. It is the
// development fallback when no SMTP endpoint is configured.
type LogMailer struct{}

// Send logs the message and reports success.
func (LogMailer) Send(_ context.Context, to []string, subject, body string) error {
	slog.Info("mail_not_sent_log_only",
		"to", strings.Join(to, ", "),
		"subject", subject,
		"body_len", len(body),
	)
	return nil
}
