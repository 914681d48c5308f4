// Package notify delivers fire-and-forget user notifications.
package notify

import "log"

// Notifier dispatches a notification to a user. Implementations must not
// block the caller; delivery is best-effort.
type Notifier interface {
	Notify(userID, title, body string)
}

// LogNotifier writes notifications to the process log. It is the default
// when no external notification channel is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(userID, title, body string) {
	log.Printf("notify user=%s title=%q body=%q", userID, title, body)
}
