package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultAPIBase = "https://api.telegram.org"

	// Telegram rejects messages over 4096 characters.
	maxMessageLen = 4000
)

type TelegramNotifier struct {
	token   string
	chatID  string
	retries int
	delay   time.Duration

	api    string
	client *http.Client
}

func NewTelegramNotifier(token, chatID string, retries int, delay time.Duration) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		retries: retries,
		delay:   delay,
		api:     defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(message string) error {
	if len(message) > maxMessageLen {
		message = message[:maxMessageLen] + "..."
	}
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.api, t.token)
	resp, err := t.client.PostForm(apiURL, url.Values{
		"chat_id": {t.chatID},
		"text":    {message},
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

func (t *TelegramNotifier) SendWithRetry(message string) error {
	return retryAction(t.retries, t.delay, "send notification", func() error {
		return t.Send(message)
	})
}

// RetryWithNotification runs action with the notifier's retry policy and
// alerts the channel when every attempt failed.
func (t *TelegramNotifier) RetryWithNotification(action func() error, description string) error {
	err := retryAction(t.retries, t.delay, description, action)
	if err != nil {
		if sendErr := t.SendWithRetry(fmt.Sprintf("🚨 %s failed: %v", description, err)); sendErr != nil {
			return fmt.Errorf("%w (alert delivery also failed: %v)", err, sendErr)
		}
	}
	return err
}
