// Package notifier pushes operational messages to a human channel.
package notifier

import (
	"fmt"
	"log"
	"time"
)

// Notifier delivers alerts. Delivery failures must never stop trading,
// so callers treat errors as log-worthy only.
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
	RetryWithNotification(action func() error, description string) error
}

// Nop drops every message and runs actions through the same retry path
// as real notifiers. The zero value tries each action once.
type Nop struct {
	Retries int
	Delay   time.Duration
}

func (n Nop) Send(string) error          { return nil }
func (n Nop) SendWithRetry(string) error { return nil }

func (n Nop) RetryWithNotification(action func() error, description string) error {
	return retryAction(n.Retries, n.Delay, description, action)
}

func retryAction(retries int, delay time.Duration, description string, action func() error) error {
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if lastErr = action(); lastErr == nil {
			return nil
		}
		log.Printf("Notifier | %s attempt %d/%d failed: %v", description, attempt, retries, lastErr)
		if attempt < retries {
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("%s: after %d attempts: %w", description, retries, lastErr)
}
