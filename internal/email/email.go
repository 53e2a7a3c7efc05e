// Package email delivers critical moderation notices over SMTP.
package email

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Config holds SMTP configuration for sending email.
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string

	// Timeout bounds the dial. The whole conversation gets twice this.
	Timeout time.Duration
}

// Sender sends email via SMTP. It satisfies moderation.Mailer.
type Sender struct {
	cfg Config
	now func() time.Time
}

// NewSender creates a new email Sender.
func NewSender(cfg Config) *Sender {
	if cfg.FromName == "" {
		cfg.FromName = "Studyhall"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{cfg: cfg, now: time.Now}
}

// Enabled returns true if SMTP is configured.
func (s *Sender) Enabled() bool {
	return s.cfg.Host != "" && s.cfg.From != ""
}

// Send sends a plain text email to the given recipient. It is a no-op when
// SMTP is not configured.
func (s *Sender) Send(to, subject, body string) error {
	if !s.Enabled() {
		return nil
	}
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	msg := s.buildMessage(to, subject, body)

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}

	if s.cfg.Port == 465 {
		return s.sendImplicitTLS(addr, auth, msg, to)
	}
	return s.sendSTARTTLS(addr, auth, msg, to)
}

// buildMessage renders the RFC 5322 message. Header values are stripped of
// line breaks.
func (s *Sender) buildMessage(to, subject, body string) string {
	// Extract domain from From address for Message-ID
	domain := s.cfg.Host
	if _, d, ok := strings.Cut(s.cfg.From, "@"); ok {
		domain = d
	}

	randBytes := make([]byte, 16)
	rand.Read(randBytes)
	now := s.now()
	messageID := fmt.Sprintf("<%x.%d@%s>", randBytes, now.UnixNano(), domain)

	headers := []string{
		fmt.Sprintf("From: %s <%s>", headerValue(s.cfg.FromName), s.cfg.From),
		"To: " + headerValue(to),
		"Subject: " + headerValue(subject),
		"Date: " + now.UTC().Format(time.RFC1123Z),
		"Message-ID: " + messageID,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + body
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// sendImplicitTLS connects over TLS directly (port 465).
func (s *Sender) sendImplicitTLS(addr string, auth smtp.Auth, msg, to string) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.cfg.Timeout},
		Config:    &tls.Config{ServerName: s.cfg.Host},
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	return s.deliver(conn, auth, msg, to, false)
}

// sendSTARTTLS connects in plaintext then upgrades via STARTTLS. Credentials
// are only sent over an upgraded connection.
func (s *Sender) sendSTARTTLS(addr string, auth smtp.Auth, msg, to string) error {
	conn, err := net.DialTimeout("tcp", addr, s.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	return s.deliver(conn, auth, msg, to, true)
}

func (s *Sender) deliver(conn net.Conn, auth smtp.Auth, msg, to string, upgrade bool) error {
	if err := conn.SetDeadline(time.Now().Add(2 * s.cfg.Timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("smtp deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if upgrade {
		ok, _ := client.Extension("STARTTLS")
		switch {
		case ok:
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		case auth != nil:
			return fmt.Errorf("smtp server %s does not offer STARTTLS", s.cfg.Host)
		}
	}

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}
