// Package notify delivers module lifecycle outcome notifications to the
// host admin over log and webhook channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/config"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// Payload is the webhook notification body
type Payload struct {
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
}

// Notifier sends lifecycle notifications
type Notifier struct {
	config     *config.NotificationConfig
	logger     *logrus.Logger
	httpClient *http.Client
}

// NewNotifier creates a notifier
func NewNotifier(cfg *config.NotificationConfig) *Notifier {
	return &Notifier{
		config: cfg,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Notify logs the event and, when a webhook URL is configured, delivers it
// asynchronously with retries. Delivery never blocks the caller.
func (n *Notifier) Notify(ctx context.Context, title, message string, data map[string]interface{}) {
	if n.config == nil || !n.config.Enabled {
		return
	}

	n.logger.Info("Lifecycle notification", "title", title, "message", message, "data", data)

	if n.config.WebhookURL == "" {
		return
	}

	payload := &Payload{
		Title:     title,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    "module-runtime",
	}

	go n.deliver(payload)
}

func (n *Notifier) deliver(payload *Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to marshal webhook payload", "error", err)
		return
	}

	attempts := n.config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := n.send(body); err != nil {
			n.logger.Warn("Webhook delivery failed",
				"url", n.config.WebhookURL, "attempt", attempt, "error", err)

			if attempt < attempts {
				time.Sleep(n.config.RetryDelay)
			}
			continue
		}

		n.logger.Debug("Webhook delivered", "url", n.config.WebhookURL, "attempt", attempt)
		return
	}
}

func (n *Notifier) send(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeInternal, "Webhook returned non-success status", resp.Status)
	}

	return nil
}
