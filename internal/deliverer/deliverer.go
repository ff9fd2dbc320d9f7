// Package deliverer performs single authenticated webhook attempts against
// tenant endpoints.
package deliverer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout bounds one attempt so a hung receiver cannot stall the
	// retry loop.
	DefaultTimeout = 5 * time.Second

	HeaderSignature = "X-Webhook-Signature"
	HeaderEventID   = "X-Event-Id"
)

// Outcome is the classified result of one delivery attempt. StatusCode and
// Body are nil when the receiver never produced a response; Detail then
// carries the transport-level diagnostic.
type Outcome struct {
	Success    bool
	StatusCode *int
	Body       *string
	Detail     string
}

// Deliverer is the outbound webhook delivery port.
type Deliverer interface {
	Attempt(ctx context.Context, endpointURL string, payload []byte, signatureHex string, externalEventID string) (*Outcome, error)
}

// HTTPDeliverer posts signed payloads over HTTP.
type HTTPDeliverer struct {
	client *resty.Client
}

func NewHTTPDeliverer(timeout time.Duration) *HTTPDeliverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	// Retrying is the scheduler's job; the client must never retry on its own.
	client.SetRetryCount(0)

	return &HTTPDeliverer{client: client}
}

func NewHTTPDelivererWithClient(client *resty.Client) (*HTTPDeliverer, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(DefaultTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPDeliverer{client: client}, nil
}

// Attempt issues one signed POST. The payload bytes are sent exactly as
// given; they are the same bytes the signature was computed over. A non-nil
// error only reports caller mistakes; delivery failures of any kind come
// back as an unsuccessful Outcome.
func (d *HTTPDeliverer) Attempt(ctx context.Context, endpointURL string, payload []byte, signatureHex string, externalEventID string) (*Outcome, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("deliverer is not initialized")
	}

	trimmedURL := strings.TrimSpace(endpointURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("endpoint url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("payload is required")
	}
	if strings.TrimSpace(signatureHex) == "" {
		return nil, fmt.Errorf("signature is required")
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderSignature, signatureHex).
		SetHeader(HeaderEventID, externalEventID).
		SetBody(payload).
		Post(trimmedURL)
	if err != nil {
		return &Outcome{
			Success: false,
			Detail:  fmt.Sprintf("request failed: %v", err),
		}, nil
	}
	if response == nil {
		return &Outcome{
			Success: false,
			Detail:  "empty response from receiver",
		}, nil
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	outcome := &Outcome{
		StatusCode: &statusCode,
		Body:       &body,
	}

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		outcome.Success = true
		return outcome, nil
	}

	outcome.Detail = fmt.Sprintf("receiver returned status %d", statusCode)
	if body != "" {
		outcome.Detail = fmt.Sprintf("%s: %s", outcome.Detail, body)
	}
	return outcome, nil
}
