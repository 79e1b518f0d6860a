// Package notify composes and sends applicant and administrator messages.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers one message to one recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier writes messages to the log instead of sending them. Used when no
// mail transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.logger.InfoContext(ctx, "notification (not sent, no mail transport)",
		"recipient", recipient,
		"subject", subject,
		"body_bytes", len(body),
	)
	return nil
}
