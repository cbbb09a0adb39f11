package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-auth/internal/config"
)

type fakeTransport struct {
	sent   []*email.Email
	err    error
	closed bool
}

func (f *fakeTransport) send(e *email.Email, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeTransport) close() { f.closed = true }

func newFakeSender(transports ...*fakeTransport) *SMTPSender {
	s := &SMTPSender{cfg: config.SMTPConfig{From: "Admin <no-reply@example.com>", ReplyTo: []string{"ops@example.com"}}}
	for i, t := range transports {
		s.pools = append(s.pools, t)
		s.servers = append(s.servers, config.SMTPServer{Host: "smtp" + string(rune('a'+i)), Port: "25"})
	}
	return s
}

func TestSMTPSenderRoundRobin(t *testing.T) {
	a, b := &fakeTransport{}, &fakeTransport{}
	s := newFakeSender(a, b)
	s.dial = func(config.SMTPServer) (transport, error) { return &fakeTransport{}, nil }

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Send(context.Background(), "admin@example.com", "subject", "<p>hi</p>"))
	}

	assert.Len(t, a.sent, 2)
	assert.Len(t, b.sent, 2)
	msg := a.sent[0]
	assert.Equal(t, []string{"admin@example.com"}, msg.To)
	assert.Equal(t, "Admin <no-reply@example.com>", msg.From)
	assert.Equal(t, []string{"ops@example.com"}, msg.ReplyTo)
	assert.Equal(t, "<p>hi</p>", string(msg.HTML))
}

func TestSMTPSenderReconnectsAfterFailure(t *testing.T) {
	broken := &fakeTransport{err: errors.New("connection reset")}
	s := newFakeSender(broken)
	fresh := &fakeTransport{}
	s.dial = func(config.SMTPServer) (transport, error) { return fresh, nil }

	err := s.Send(context.Background(), "admin@example.com", "subject", "body")
	require.Error(t, err)
	assert.True(t, broken.closed)

	require.NoError(t, s.Send(context.Background(), "admin@example.com", "subject", "body"))
	assert.Len(t, fresh.sent, 1)
}

func TestSMTPSenderHonoursCancelledContext(t *testing.T) {
	tr := &fakeTransport{}
	s := newFakeSender(tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Send(ctx, "admin@example.com", "s", "b"), context.Canceled)
	assert.Empty(t, tr.sent)
}

func TestSMTPSenderClosed(t *testing.T) {
	tr := &fakeTransport{}
	s := newFakeSender(tr)
	require.NoError(t, s.Close())
	assert.True(t, tr.closed)
	assert.ErrorIs(t, s.Send(context.Background(), "admin@example.com", "s", "b"), ErrNoServers)
}

func TestNewSMTPSenderWithoutServers(t *testing.T) {
	_, err := NewSMTPSender(config.SMTPConfig{})
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestConnectToPoolRejectsBadPort(t *testing.T) {
	_, err := connectToPool(config.SMTPServer{Host: "localhost", Port: "smtp"})
	assert.Error(t, err)
}

func TestSendTimeout(t *testing.T) {
	assert.Equal(t, defaultSendTimeout, sendTimeout(config.SMTPServer{}))
	assert.Equal(t, 3*time.Second, sendTimeout(config.SMTPServer{SendTimeout: 3}))
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(false)
	assert.NoError(t, s.Send(context.Background(), "admin@example.com", "s", "secret body"))
	assert.NoError(t, s.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Send(ctx, "admin@example.com", "s", "b"))
}

func TestRenderTwoFactorCode(t *testing.T) {
	body, err := RenderTwoFactorCode("123456", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, body, "123456")
	assert.Contains(t, body, "10 minutes")
}

func TestRenderPasswordResetEscapesLink(t *testing.T) {
	body, err := RenderPasswordReset("https://admin.example.com/reset?token=abc&x=\"y\"", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, body, "token=abc")
	assert.Contains(t, body, "60 minutes")
	assert.NotContains(t, body, `"y"`)
}
