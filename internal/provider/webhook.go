package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type webhookRequest struct {
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Variables Variables `json:"variables"`
}

// WebhookProvider posts each message as JSON to a single webhook endpoint.
type WebhookProvider struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookProvider(endpoint string, timeout time.Duration) (*WebhookProvider, error) {
	return NewWebhookProviderWithClient(endpoint, newRestyClient(timeout))
}

func NewWebhookProviderWithClient(endpoint string, client *resty.Client) (*WebhookProvider, error) {
	trimmedEndpoint, err := parseEndpoint(endpoint, "webhook endpoint")
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	prepareClient(client)

	return &WebhookProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

// TestConnection treats any response below 500 as reachable; webhook
// endpoints commonly reject GET with 404 or 405.
func (p *WebhookProvider) TestConnection(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("provider is not initialized")
	}

	response, err := p.client.R().SetContext(ctx).Get(p.endpoint)
	if err != nil {
		return &ProviderError{Message: "webhook unreachable", Transient: true, Cause: err}
	}
	if response.StatusCode() >= http.StatusInternalServerError {
		return &ProviderError{
			StatusCode: response.StatusCode(),
			Message:    "webhook health check failed",
			Transient:  true,
		}
	}

	return nil
}

func (p *WebhookProvider) SendMessage(ctx context.Context, phone string, vars Variables) Result {
	if p == nil || p.client == nil {
		return Result{Err: fmt.Errorf("provider is not initialized")}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookRequest{To: phone, Message: vars.Message, Variables: vars}).
		Post(p.endpoint)

	return resultFromResponse(response, err)
}

func parseEndpoint(raw, what string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return "", fmt.Errorf("invalid %s: %w", what, err)
	}
	return trimmed, nil
}
