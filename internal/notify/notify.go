// Package notify defines the notification sink contract used for offline
// alerts. Sinks are best-effort: delivery failures are logged, never
// surfaced to the poll loop.
package notify

import "log"

type Notifier interface {
	Notify(subject, body string)
}

// LogNotifier writes notifications to the process log in a framed block.
type LogNotifier struct{}

func (LogNotifier) Notify(subject, body string) {
	log.Print("=== NOTIFICATION ===")
	log.Printf("Subject: %s", subject)
	log.Print(body)
	log.Print("==================")
}
