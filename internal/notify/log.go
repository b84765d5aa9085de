package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes rendered reminders to the log instead of delivering
// them. It is used in development when no transport is configured.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.With(zap.String("component", "notify"))}
}

// Send renders n and logs it.
func (s *LogSender) Send(_ context.Context, n Notification) error {
	msg, err := Render(n)
	if err != nil {
		return err
	}
	s.log.Info("reminder (not delivered)",
		zap.String("to", n.Email),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text))
	return nil
}
