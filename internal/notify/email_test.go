package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"mime"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/beacon/internal/config"
)

// fakeSMTP is a minimal SMTP server that records one transaction.
type fakeSMTP struct {
	ln net.Listener

	mu   sync.Mutex
	from string
	rcpt []string
	data string
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &fakeSMTP{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 localhost ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			reply("250-localhost")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.mu.Lock()
			s.from = line
			s.mu.Unlock()
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, line)
			s.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var body strings.Builder
			for {
				dl, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if dl == ".\r\n" {
					break
				}
				body.WriteString(dl)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 OK queued")
		case cmd == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestEmailChannelSend(t *testing.T) {
	srv := startFakeSMTP(t)

	ch := NewEmailChannel(config.EmailConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Username: "beacon",
		Password: "secret",
		From:     "beacon@example.com",
		To:       []string{"ops@example.com", "OWNER@example.com"},
		StartTLS: true,
	}, 2*time.Second)

	m, r := downResult(9)
	if err := ch.Send(context.Background(), NewAlert(m, r)); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if !strings.Contains(srv.from, "<beacon@example.com>") {
		t.Fatalf("unexpected MAIL FROM %q", srv.from)
	}
	if len(srv.rcpt) != 2 {
		t.Fatalf("expected 2 deduplicated recipients, got %v", srv.rcpt)
	}
	for _, want := range []string{
		"Subject: [Alert] api is down",
		"To: ops@example.com, OWNER@example.com",
		"Target: https://api.example.com",
	} {
		if !strings.Contains(srv.data, want) {
			t.Fatalf("expected message to contain %q, got %q", want, srv.data)
		}
	}
}

func TestEmailChannelNoRecipients(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{Host: "127.0.0.1", Port: 25, From: "beacon@example.com"}, time.Second)
	m, r := downResult(1)
	m.ContactEmail = ""

	if err := ch.Send(context.Background(), NewAlert(m, r)); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestEmailChannelDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ch := NewEmailChannel(config.EmailConfig{Host: "127.0.0.1", Port: port, From: "beacon@example.com", To: []string{"ops@example.com"}}, time.Second)
	m, r := downResult(1)

	err = ch.Send(context.Background(), NewAlert(m, r))
	if err == nil || !strings.Contains(err.Error(), "smtp dial 127.0.0.1:"+strconv.Itoa(port)) {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func TestBuildMessageKeepsHeadersOnOneLine(t *testing.T) {
	m, r := downResult(3)
	m.Name = "web\r\nBcc: attacker@evil.test"

	raw := buildMessage("beacon@example.com", []string{"ops@example.com"}, NewAlert(m, r))
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}

	if bcc := msg.Header.Get("Bcc"); bcc != "" {
		t.Fatalf("expected no Bcc header, got %q", bcc)
	}
	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("failed to decode subject: %v", err)
	}
	if subject != "[Alert] web  Bcc: attacker@evil.test is down" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if to := msg.Header.Get("To"); to != "ops@example.com" {
		t.Fatalf("unexpected To header %q", to)
	}
}

func TestBuildMessageEncodesNonASCIISubject(t *testing.T) {
	m, r := downResult(3)
	m.Name = "Zürich gateway"

	raw := buildMessage("beacon@example.com", []string{"ops@example.com"}, NewAlert(m, r))
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}

	header := msg.Header.Get("Subject")
	if !strings.HasPrefix(header, "=?utf-8?q?") {
		t.Fatalf("expected Q-encoded subject, got %q", header)
	}
	subject, err := new(mime.WordDecoder).DecodeHeader(header)
	if err != nil {
		t.Fatalf("failed to decode subject: %v", err)
	}
	if subject != "[Alert] Zürich gateway is down" {
		t.Fatalf("unexpected subject %q", subject)
	}
}
