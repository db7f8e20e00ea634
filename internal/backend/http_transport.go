package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"btk/orchestrator/pkg/jsonutil"
	"btk/orchestrator/pkg/types"
)

// Shared fasthttp client; connection pooling across every HTTP backend.
var httpClient = &fasthttp.Client{
	MaxConnsPerHost:     256,
	MaxIdleConnDuration: 90 * time.Second,
	ReadTimeout:         60 * time.Second,
	WriteTimeout:        60 * time.Second,
}

// HTTPTransport reaches an execution backend over plain HTTP.
type HTTPTransport struct {
	baseURL string
}

// NewHTTPTransport creates a transport for the backend at baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/")}
}

// Request maps the envelope message type onto the backend's HTTP surface.
func (t *HTTPTransport) Request(ctx context.Context, msgType types.MessageType, payload any) (json.RawMessage, error) {
	var (
		method string
		path   string
	)
	switch msgType {
	case types.MsgHealthCheck:
		method, path = fasthttp.MethodGet, "/health"
	case types.MsgToolsList:
		method, path = fasthttp.MethodGet, "/tools"
	case types.MsgTaskExecute:
		method, path = fasthttp.MethodPost, "/execute"
	default:
		return nil, fmt.Errorf("unsupported message type over HTTP: %s", msgType)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.baseURL + path)
	req.Header.SetMethod(method)
	if payload != nil {
		body, err := jsonutil.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultCallTimeout)
	}

	if err := httpClient.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, ErrCallTimeout
		}
		return nil, err
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode())
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

// Close is a no-op; the fasthttp client pool is shared.
func (t *HTTPTransport) Close() error {
	return nil
}
