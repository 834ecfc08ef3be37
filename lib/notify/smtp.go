// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/overwatch-ops/overwatch/lib/clock"
	"github.com/overwatch-ops/overwatch/lib/escalation"
)

// ErrNoAddress is returned for an approver identity with no email
// address configured.
var ErrNoAddress = errors.New("notify: no email address for recipient")

// Credential variable names read from the credentials file.
const (
	UsernameVar = "SMTP_USERNAME"
	PasswordVar = "SMTP_PASSWORD"
)

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig holds the parameters for NewSMTP.
type SMTPConfig struct {
	Host string
	Port int
	From string

	// Username and Password authenticate with PLAIN auth. Both empty
	// sends unauthenticated.
	Username string
	Password string

	// Addresses maps approver identities to email addresses.
	Addresses map[string]string

	Clock clock.Clock

	// Send defaults to smtp.SendMail.
	Send SendFunc
}

// SMTP emails approvers.
type SMTP struct {
	cfg  SMTPConfig
	auth smtp.Auth
}

var _ escalation.Notifier = (*SMTP)(nil)

// LoadCredentials reads SMTP_USERNAME and SMTP_PASSWORD from a dotenv
// file.
func LoadCredentials(path string) (username, password string, err error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return "", "", fmt.Errorf("notify: reading SMTP credentials: %w", err)
	}
	username, password = values[UsernameVar], values[PasswordVar]
	if username == "" || password == "" {
		return "", "", fmt.Errorf("notify: %s must set %s and %s", path, UsernameVar, PasswordVar)
	}
	return username, password, nil
}

// NewSMTP validates cfg and returns an SMTP notifier.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("notify: SMTP from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Send == nil {
		cfg.Send = smtp.SendMail
	}
	notifier := &SMTP{cfg: cfg}
	if cfg.Username != "" || cfg.Password != "" {
		notifier.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return notifier, nil
}

func (s *SMTP) Notify(ctx context.Context, recipient string, request escalation.Request) (escalation.Ack, error) {
	address, ok := s.cfg.Addresses[recipient]
	if !ok {
		return escalation.Ack{}, fmt.Errorf("%w: %s", ErrNoAddress, recipient)
	}
	if err := ctx.Err(); err != nil {
		return escalation.Ack{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Host)
	message := s.compose(address, messageID, request)
	server := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.cfg.Send(server, s.auth, s.cfg.From, []string{address}, message); err != nil {
		return escalation.Ack{}, fmt.Errorf("notify: emailing %s about %s: %w", address, request.ID, err)
	}
	return escalation.Ack{Channel: "smtp", Recipient: address, MessageID: messageID}, nil
}

// compose renders an RFC 5322 plain-text message.
func (s *SMTP) compose(to, messageID string, request escalation.Request) []byte {
	var message strings.Builder
	header := func(name, value string) {
		message.WriteString(name + ": " + value + "\r\n")
	}
	header("From", s.cfg.From)
	header("To", to)
	header("Subject", Subject(request))
	header("Date", s.cfg.Clock.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	header("Message-ID", messageID)
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	message.WriteString("\r\n")
	message.WriteString(strings.ReplaceAll(Body(request), "\n", "\r\n"))
	return []byte(message.String())
}
