package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"predixaai-alert-engine/internal/outbound"
	"predixaai-alert-engine/internal/security"
)

var ErrPayloadTooLarge = errors.New("webhook payload too large")

// URLChecker is the safety gate consulted before every webhook call.
type URLChecker interface {
	Check(ctx context.Context, raw string) (*url.URL, error)
}

// WebhookSender posts a rendered payload to a user-configured URL.
type WebhookSender interface {
	Send(ctx context.Context, target string, payload any, headers map[string]string) error
}

type GuardedWebhook struct {
	checker    URLChecker
	client     *outbound.Client
	maxPayload int
}

// NewGuardedWebhook builds a sender that checks every URL with guard and
// connects through the guard's re-validating dialer. Webhooks are not retried.
func NewGuardedWebhook(guard *security.URLGuard) *GuardedWebhook {
	return NewWebhookSender(guard, guard.NewHTTPClient(), guard.Limits)
}

func NewWebhookSender(checker URLChecker, hc *http.Client, limits security.Limits) *GuardedWebhook {
	return &GuardedWebhook{
		checker: checker,
		client: outbound.New("", "",
			outbound.WithHTTPClient(hc),
			outbound.WithMaxRetries(0),
			outbound.WithMaxErrorBody(limits.MaxErrorBodyBytes),
		),
		maxPayload: limits.MaxPayloadBytes,
	}
}

// Send returns an error wrapping security.ErrUnsafeURL when the gate refuses
// target, or ErrPayloadTooLarge when the encoded payload exceeds the limit.
// No request is made in either case.
func (w *GuardedWebhook) Send(ctx context.Context, target string, payload any, headers map[string]string) error {
	u, err := w.checker.Check(ctx, target)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	if w.maxPayload > 0 && len(data) > w.maxPayload {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(data), w.maxPayload)
	}
	return w.client.Do(ctx, http.MethodPost, u.String(), nil, json.RawMessage(data), headers, nil)
}
