package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jordan-wright/email"
	"github.com/knadh/smtppool"
	"go.uber.org/zap"

	"admin-auth/internal/config"
	"admin-auth/internal/util"
)

const (
	TransportSMTPPool  = "smtppool"
	TransportEmailPool = "emailpool"

	defaultSendTimeout = 10 * time.Second
)

// transport is one pooled connection set to a single SMTP server.
type transport interface {
	send(e *email.Email, timeout time.Duration) error
	close()
}

type smtppoolTransport struct {
	pool *smtppool.Pool
}

func (t *smtppoolTransport) send(e *email.Email, _ time.Duration) error {
	return t.pool.Send(smtppool.Email{
		From:    e.From,
		To:      e.To,
		Sender:  e.Sender,
		ReplyTo: e.ReplyTo,
		Subject: e.Subject,
		HTML:    e.HTML,
		Text:    e.Text,
		Headers: e.Headers,
	})
}

func (t *smtppoolTransport) close() { t.pool.Close() }

type emailPoolTransport struct {
	pool *email.Pool
}

func (t *emailPoolTransport) send(e *email.Email, timeout time.Duration) error {
	return t.pool.Send(e, timeout)
}

func (t *emailPoolTransport) close() { t.pool.Close() }

// SMTPSender round-robins over the configured servers and reconnects a
// server's pool after a failed send.
type SMTPSender struct {
	cfg     config.SMTPConfig
	mu      sync.RWMutex
	pools   []transport
	servers []config.SMTPServer
	counter atomic.Uint64
	dial    func(config.SMTPServer) (transport, error)
}

func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	s := &SMTPSender{cfg: cfg, dial: connectToPool}
	for _, server := range cfg.Servers {
		pool, err := s.dial(server)
		if err != nil {
			util.Error("Failed to set up SMTP connection pool",
				zap.String("server", server.Address()), zap.Error(err))
			continue
		}
		s.pools = append(s.pools, pool)
		s.servers = append(s.servers, server)
	}
	if len(s.pools) == 0 {
		return nil, ErrNoServers
	}

	util.Info("SMTP sender initialized", zap.Int("servers", len(s.pools)))
	return s, nil
}

func connectToPool(server config.SMTPServer) (transport, error) {
	var auth smtp.Auth
	if server.AuthData.Username != "" || server.AuthData.Password != "" {
		auth = smtp.PlainAuth("", server.AuthData.Username, server.AuthData.Password, server.Host)
	}

	tlsOpts := &tls.Config{
		InsecureSkipVerify: server.InsecureSkipVerify,
		ServerName:         server.Host,
		MinVersion:         tls.VersionTLS12,
	}

	connections := server.Connections
	if connections < 1 {
		connections = 1
	}

	if server.Transport == TransportEmailPool {
		pool, err := email.NewPool(server.Address(), connections, auth, tlsOpts)
		if err != nil {
			return nil, err
		}
		return &emailPoolTransport{pool: pool}, nil
	}

	port, err := strconv.Atoi(server.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp port %q: %w", server.Port, err)
	}
	timeout := sendTimeout(server)
	pool, err := smtppool.New(smtppool.Opt{
		Host:            server.Host,
		Port:            port,
		MaxConns:        connections,
		IdleTimeout:     timeout,
		PoolWaitTimeout: timeout,
		TLSConfig:       tlsOpts,
		Auth:            auth,
	})
	if err != nil {
		return nil, err
	}
	return &smtppoolTransport{pool: pool}, nil
}

func sendTimeout(server config.SMTPServer) time.Duration {
	if server.SendTimeout <= 0 {
		return defaultSendTimeout
	}
	return time.Duration(server.SendTimeout) * time.Second
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	if len(s.pools) == 0 {
		s.mu.RUnlock()
		return ErrNoServers
	}
	index := int(s.counter.Add(1) % uint64(len(s.pools)))
	pool := s.pools[index]
	server := s.servers[index]
	s.mu.RUnlock()

	timeout := sendTimeout(server)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	e := &email.Email{
		To:      []string{to},
		From:    s.cfg.From,
		Sender:  s.cfg.Sender,
		ReplyTo: s.cfg.ReplyTo,
		Subject: subject,
		HTML:    []byte(htmlBody),
		Headers: textproto.MIMEHeader{},
	}

	err := pool.send(e, timeout)
	if err != nil {
		util.Error("Failed to send email",
			zap.String("server", server.Address()),
			zap.String("to", util.MaskEmail(to)),
			zap.Error(err))
		s.reconnect(index, pool, server)
		return fmt.Errorf("failed to send email: %w", err)
	}

	util.Debug("Email sent", zap.String("to", util.MaskEmail(to)), zap.String("subject", subject))
	return nil
}

func (s *SMTPSender) reconnect(index int, failed transport, server config.SMTPServer) {
	fresh, err := s.dial(server)
	if err != nil {
		util.Warn("Cannot reconnect SMTP pool", zap.String("server", server.Address()), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.pools[index] == failed {
		s.pools[index] = fresh
		s.mu.Unlock()
		failed.close()
		util.Info("Reconnected SMTP pool", zap.String("server", server.Address()))
		return
	}
	s.mu.Unlock()
	fresh.close()
}

func (s *SMTPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pools {
		p.close()
	}
	s.pools = nil
	return nil
}
