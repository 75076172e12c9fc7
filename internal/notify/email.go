package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/1broseidon/beacon/internal/config"
)

// ErrNoRecipients is returned when an alert has nobody to go to.
var ErrNoRecipients = errors.New("no email recipients")

// EmailChannel sends plain text alerts over SMTP
type EmailChannel struct {
	addr     string
	host     string
	from     string
	to       []string
	auth     smtp.Auth
	startTLS bool
	timeout  time.Duration
}

// NewEmailChannel creates an SMTP channel. PLAIN auth is used when a
// username is configured.
func NewEmailChannel(cfg config.EmailConfig, timeout time.Duration) *EmailChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ch := &EmailChannel{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		from:     cfg.From,
		to:       cfg.To,
		startTLS: cfg.StartTLS,
		timeout:  timeout,
	}
	if cfg.Username != "" {
		ch.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return ch
}

func (e *EmailChannel) Name() string { return "email" }

// recipients merges the configured list with the alert's own, dropping
// duplicates.
func (e *EmailChannel) recipients(alert Alert) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{e.to, alert.Recipients} {
		for _, addr := range list {
			key := strings.ToLower(strings.TrimSpace(addr))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(addr))
		}
	}
	return out
}

// headerValue flattens line breaks so a value cannot start a new header.
func headerValue(v string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, v)
}

func buildMessage(from string, to []string, alert Alert) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerValue(from) + "\r\n")
	b.WriteString("To: " + headerValue(strings.Join(to, ", ")) + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", headerValue(alert.Subject)) + "\r\n")
	b.WriteString("Date: " + alert.Timestamp.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(alert.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// Send delivers the alert to every recipient in one SMTP transaction.
func (e *EmailChannel) Send(ctx context.Context, alert Alert) error {
	to := e.recipients(alert)
	if len(to) == 0 {
		return ErrNoRecipients
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", e.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if e.startTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if e.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(e.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(e.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(buildMessage(e.from, to, alert)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}
