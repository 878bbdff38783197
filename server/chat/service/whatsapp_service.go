package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"crm_server/server/chat/domain"
)

// WhatsAppService wraps the external messaging gateway's HTTP API. The
// gateway is a black box; everything here is plain request/response with a
// short fixed timeout so request-path callers never hang on it.
type WhatsAppService struct {
	client   *resty.Client
	instance string
}

func NewWhatsAppService(baseURL, apiKey, instance string, timeout time.Duration) *WhatsAppService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("apikey", apiKey).
		SetTimeout(timeout)
	return &WhatsAppService{client: client, instance: instance}
}

type gatewayErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s *WhatsAppService) SendText(ctx context.Context, to, message string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"number": to, "text": message}).
		SetError(&gatewayErrorBody{}).
		Post(fmt.Sprintf("/message/sendText/%s", s.instance))
	if err != nil {
		return fmt.Errorf("gateway send text: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway send text: status %d: %s", resp.StatusCode(), gatewayErrorMessage(resp))
	}
	return nil
}

func (s *WhatsAppService) SendMedia(ctx context.Context, to, mediaURL, caption, mediaType string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"number":    to,
			"media":     mediaURL,
			"caption":   caption,
			"mediatype": mediaType,
		}).
		SetError(&gatewayErrorBody{}).
		Post(fmt.Sprintf("/message/sendMedia/%s", s.instance))
	if err != nil {
		return fmt.Errorf("gateway send media: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway send media: status %d: %s", resp.StatusCode(), gatewayErrorMessage(resp))
	}
	return nil
}

type connectionStateBody struct {
	Instance struct {
		State string `json:"state"`
	} `json:"instance"`
	State string `json:"state"`
}

// ConnectionState reports the gateway's current link state for our instance.
func (s *WhatsAppService) ConnectionState(ctx context.Context) (domain.GatewayState, error) {
	var body connectionStateBody
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("/instance/connectionState/%s", s.instance))
	if err != nil {
		return domain.GatewayStateError, fmt.Errorf("gateway connection state: %w", err)
	}
	if resp.IsError() {
		return domain.GatewayStateError, fmt.Errorf("gateway connection state: status %d", resp.StatusCode())
	}
	state := body.Instance.State
	if state == "" {
		state = body.State
	}
	if state == "" {
		return domain.GatewayStateError, fmt.Errorf("gateway connection state: empty state")
	}
	return domain.GatewayState(strings.ToLower(state)), nil
}

// Connect asks the gateway to (re)initialize the link for our instance.
func (s *WhatsAppService) Connect(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/instance/connect/%s", s.instance))
	if err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway connect: status %d", resp.StatusCode())
	}
	return nil
}

func gatewayErrorMessage(resp *resty.Response) string {
	if body, ok := resp.Error().(*gatewayErrorBody); ok && body != nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return resp.Status()
}
