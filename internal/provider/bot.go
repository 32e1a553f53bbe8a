package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type botStartRequest struct {
	Phone     string    `json:"phone"`
	Variables Variables `json:"variables"`
}

// BotProvider starts a conversational flow on a bot engine for each message.
type BotProvider struct {
	client  *resty.Client
	baseURL string
	flowID  string
}

func NewBotProvider(baseURL, token, flowID string, timeout time.Duration) (*BotProvider, error) {
	return NewBotProviderWithClient(baseURL, token, flowID, newRestyClient(timeout))
}

func NewBotProviderWithClient(baseURL, token, flowID string, client *resty.Client) (*BotProvider, error) {
	trimmedBase, err := parseEndpoint(baseURL, "bot base url")
	if err != nil {
		return nil, err
	}
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return nil, fmt.Errorf("bot flow id is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	prepareClient(client)
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}

	return &BotProvider{
		client:  client,
		baseURL: strings.TrimRight(trimmedBase, "/"),
		flowID:  flowID,
	}, nil
}

func (p *BotProvider) flowURL() string {
	return fmt.Sprintf("%s/api/v1/flows/%s", p.baseURL, url.PathEscape(p.flowID))
}

func (p *BotProvider) TestConnection(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("provider is not initialized")
	}

	response, err := p.client.R().SetContext(ctx).Get(p.flowURL())
	if err != nil {
		return &ProviderError{Message: "bot engine unreachable", Transient: true, Cause: err}
	}
	if !isSuccessStatus(response.StatusCode()) {
		return &ProviderError{
			StatusCode: response.StatusCode(),
			Message:    providerErrorMessage(response.StatusCode(), strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(response.StatusCode()),
		}
	}

	return nil
}

func (p *BotProvider) SendMessage(ctx context.Context, phone string, vars Variables) Result {
	if p == nil || p.client == nil {
		return Result{Err: fmt.Errorf("provider is not initialized")}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(botStartRequest{Phone: phone, Variables: vars}).
		Post(p.flowURL() + "/start")

	return resultFromResponse(response, err)
}
