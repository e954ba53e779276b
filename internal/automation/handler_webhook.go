package automation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// webhookTimeout bounds a single webhook request.
const webhookTimeout = 10 * time.Second

// HTTPDoer issues HTTP requests. Satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// webhookHandler implements the Webhook action.
//
// A non-2xx response fails the step just like a transport error, so
// the action is retried next tick until the receiver accepts it.
type webhookHandler struct {
	baseHandler
	client HTTPDoer
}

func newWebhookHandler(client HTTPDoer) *webhookHandler {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	return &webhookHandler{client: client}
}

func (h *webhookHandler) Apply(ctx context.Context, impl Impl, _ *HandlerContext) error {
	cfg := impl.(WebhookImpl)

	if cfg.URL == "" {
		return fmt.Errorf("automation: webhook item needs a url")
	}

	method := cfg.Method
	if method == "" {
		if cfg.Body != "" {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned HTTP %d", cfg.URL, resp.StatusCode)
	}
	return nil
}
