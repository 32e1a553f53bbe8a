package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

// Client is the outbound messaging port used by the dispatch engine.
type Client interface {
	// TestConnection reports whether the provider is reachable.
	TestConnection(ctx context.Context) error
	// SendMessage delivers one rendered message. Delivery failures are
	// reported through Result, never as a separate error.
	SendMessage(ctx context.Context, phone string, vars Variables) Result
}

// Variables is the payload bundle forwarded to the provider with each message.
type Variables struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	BatchName string `json:"batchName"`
}

// Result describes the outcome of a single SendMessage call.
type Result struct {
	Success    bool
	StatusCode int
	Response   string
	Err        error
}

// ErrorMessage returns the failure cause, or an empty string on success.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func newRestyClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	return client
}

func prepareClient(client *resty.Client) {
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)
}

// resultFromResponse maps a resty round trip onto a Result; 2xx is success.
func resultFromResponse(response *resty.Response, err error) Result {
	if err != nil {
		return Result{Err: &ProviderError{
			Message:   "provider request failed",
			Transient: !isCanceled(err),
			Cause:     err,
		}}
	}
	if response == nil {
		return Result{Err: &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if isSuccessStatus(statusCode) {
		return Result{Success: true, StatusCode: statusCode, Response: body}
	}

	return Result{
		StatusCode: statusCode,
		Response:   body,
		Err: &ProviderError{
			StatusCode: statusCode,
			Message:    providerErrorMessage(statusCode, body),
			Transient:  isTransientHTTPStatus(statusCode),
		},
	}
}

const (
	KindWebhook = "webhook"
	KindBot     = "bot"
)

// Options selects and configures a provider implementation.
type Options struct {
	Kind    string
	URL     string
	Token   string
	FlowID  string
	Timeout time.Duration
}

func New(opts Options) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindWebhook:
		return NewWebhookProvider(opts.URL, opts.Timeout)
	case KindBot:
		return NewBotProvider(opts.URL, opts.Token, opts.FlowID, opts.Timeout)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", opts.Kind)
	}
}
