// Package mailer delivers the 2FA code and password reset mails.
package mailer

import (
	"context"
	"errors"
)

// ErrNoServers is returned when no SMTP server could be connected.
var ErrNoServers = errors.New("no smtp servers available")

// Sender delivers one message. A nil error means the message was handed to
// the mail server.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
	Close() error
}
