package mailer

import (
	"context"

	"go.uber.org/zap"

	"admin-auth/internal/util"
)

// LogSender stands in for SMTP in development. It never writes the body,
// which carries the code or reset link, unless revealBody is set.
type LogSender struct {
	revealBody bool
}

func NewLogSender(revealBody bool) *LogSender {
	return &LogSender{revealBody: revealBody}
}

func (s *LogSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("to", util.MaskEmail(to)),
		zap.String("subject", subject),
	}
	if s.revealBody {
		fields = append(fields, zap.String("body", htmlBody))
	}
	util.Info("Email delivery skipped (log sender)", fields...)
	return nil
}

func (s *LogSender) Close() error { return nil }
