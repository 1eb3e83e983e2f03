// Package webhook calls external HTTP endpoints on behalf of the gateway: a
// live relay of recorded messages and a synchronous test dispatcher.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mbenaiss/whatsapp-gateway/logging"
	"github.com/mbenaiss/whatsapp-gateway/mapping"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrInvalidRequest is returned for a request missing its url or method
	ErrInvalidRequest = errors.New("invalid webhook request")
	// ErrStatus is returned when the target answers with a non-2xx status
	ErrStatus = errors.New("webhook returned non-success status")
)

// Request describes one test dispatch
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	// Body is sent for POST, PUT and DELETE only
	Body any `json:"body"`
	// Mapping projects the response: output key -> dot path
	Mapping map[string]string `json:"mapping"`
}

// Validate checks the url and method
func (r Request) Validate() error {
	if r.URL == "" || r.Method == "" {
		return fmt.Errorf("%w: url and method are required", ErrInvalidRequest)
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidRequest)
	}
	return nil
}

func sendsBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "DELETE":
		return true
	}
	return false
}

// newClient builds the resty client shared by the relay and the dispatcher
func newClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "whatsapp-gateway").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
}

// Dispatcher performs awaited webhook calls
type Dispatcher struct {
	client *resty.Client
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher whose calls time out after timeout
func NewDispatcher(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client: newClient(timeout),
		logger: logging.OrNop(logger).Named("webhook"),
	}
}

// Do sends req and returns the decoded response body, projected through
// req.Mapping when one is given. Bodies that are not JSON come back as a
// string.
func (d *Dispatcher) Do(ctx context.Context, req Request) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	r := d.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers)
	if sendsBody(method) && req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(method, req.URL)
	if err != nil {
		d.logger.Warn("webhook: request failed", zap.String("url", req.URL), zap.Error(err))
		return nil, fmt.Errorf("failed to call webhook: %w", err)
	}
	if !resp.IsSuccess() {
		d.logger.Warn("webhook: non-success status",
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode()))
		return nil, fmt.Errorf("%w: request failed with status code %d", ErrStatus, resp.StatusCode())
	}

	data := decodeBody(resp.Body())
	if len(req.Mapping) > 0 {
		return mapping.Apply(data, req.Mapping), nil
	}
	return data, nil
}

func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return ""
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return string(raw)
	}
	return data
}
