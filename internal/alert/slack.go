// Package alert delivers operational alerts to configured sinks. The
// only built-in sink is a Slack incoming webhook; delivery is
// fire-and-forget so an unreachable sink never slows ingestion.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const sendTimeout = 5 * time.Second

// Notifier posts alert messages to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	http       *http.Client
}

// NewNotifier creates a notifier. An empty webhook URL yields a no-op
// notifier, so callers can wire it unconditionally.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: sendTimeout},
	}
}

// Enabled reports whether a sink is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// Notify sends the message in a background goroutine and returns
// immediately. Failures are logged, never propagated.
func (n *Notifier) Notify(message string) {
	if !n.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.send(ctx, message); err != nil {
			log.Warn().Str("component", "alert").Err(err).Msg("alert delivery failed")
		}
	}()
}

func (n *Notifier) send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError reports a non-2xx webhook response.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return http.StatusText(e.Status) + " from alert webhook"
}
