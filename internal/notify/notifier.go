package notify

import (
	"context"
	"log/slog"
)

// Notifier shows a user-facing message.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// LogNotifier writes notifications to the default slog logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, title, body string) {
	slog.WarnContext(ctx, title, "notification", body)
}
