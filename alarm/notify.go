package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultWebhookTimeout bounds one webhook delivery.
const DefaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs events as JSON to a fixed URL.
type WebhookNotifier struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewWebhookNotifier returns a notifier for url with the default timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Timeout: DefaultWebhookTimeout, Client: http.DefaultClient}
}

// Notify delivers ev. Any non-2xx response is a failure.
func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode alarm")
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post alarm to %s", w.URL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook %s returned %s", w.URL, resp.Status)
	}
	return nil
}
