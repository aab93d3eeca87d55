package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookDispatcher forwards function calls to an external HTTP endpoint
// (e.g. a CRM automation). The endpoint receives the Call as JSON and
// must answer with the JSON result body.
type WebhookDispatcher struct {
	URL        string
	AuthHeader string
	Timeout    time.Duration
	HTTPClient *http.Client
}

const maxWebhookResponse = 1 << 20

func (w *WebhookDispatcher) Dispatch(ctx context.Context, call Call) (json.RawMessage, error) {
	if w.URL == "" {
		return nil, fmt.Errorf("functions: webhook url not configured")
	}

	body, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("functions: encode call: %w", err)
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("functions: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.AuthHeader != "" {
		req.Header.Set("Authorization", w.AuthHeader)
	}

	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("functions: webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return nil, fmt.Errorf("functions: read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("functions: webhook returned %d", resp.StatusCode)
	}
	if len(data) == 0 || !json.Valid(data) {
		return nil, fmt.Errorf("functions: webhook returned invalid JSON")
	}
	return json.RawMessage(data), nil
}
