package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// HeaderProvider injects per-request headers (auth tokens and the like).
type HeaderProvider func() map[string]string

// WebhookNotifier POSTs notification envelopes to an external delivery
// service. The engine does not retry failures beyond the transport attempts
// here; delivery is at-least-once at best.
type WebhookNotifier struct {
	endpoint string
	http     *fasthttp.Client
	headers  HeaderProvider
	timeout  time.Duration
}

type WebhookOption func(*WebhookNotifier)

func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookNotifier) { w.timeout = d }
}

func WithWebhookHeaders(h HeaderProvider) WebhookOption {
	return func(w *WebhookNotifier) { w.headers = h }
}

func NewWebhookNotifier(endpoint string, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		endpoint: strings.TrimSpace(endpoint),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookNotifier) Notify(ctx context.Context, username string, event Event, payload any) {
	if w == nil || w.endpoint == "" {
		return
	}
	env := Envelope{Username: username, Event: event, Payload: payload, SentAt: time.Now()}
	if err := w.post(ctx, &env); err != nil {
		obslog.L().Warn("notify_webhook_error",
			zap.String("username", username),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

func (w *WebhookNotifier) post(ctx context.Context, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.endpoint)
	req.Header.SetContentType("application/json")
	if w.headers != nil {
		for k, v := range w.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(body)

	timeout := w.timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout {
			timeout = until
		}
	}
	if err := w.http.DoTimeout(req, resp, timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("webhook status %d", code)
	}
	return nil
}
