package service

import (
	"context"
	"fmt"
	"html"
	"time"
)

// Notifier delivers one message to a chat. Best effort: callers log a
// failure and move on, nothing retries a notification.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Clock abstracts time retrieval so scheduling logic is deterministic in
// tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Mention renders a user mention in the notifier's markup.
func Mention(userID int64, name string) string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, html.EscapeString(name))
}
