package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Guizzs26/go-track/internal/models"

	"golang.org/x/time/rate"
)

const maxResponseBody = 1 << 20

// HTTPTransport talks to {endpoint}/api/track/{route}. The event route is a
// GET with the record as query parameters; every other route is a JSON POST.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

type HTTPOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithRateLimit caps outbound requests per second. Zero or less disables it.
func WithRateLimit(rps float64) HTTPOption {
	return func(t *HTTPTransport) {
		if rps <= 0 {
			t.limiter = nil
			return
		}
		burst := max(int(rps), 1)
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewHTTPTransport(endpoint string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) URL(route Route) string {
	return t.endpoint + "/api/track/" + string(route)
}

func (t *HTTPTransport) Send(ctx context.Context, route Route, r models.Record) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrRequestFailed, err)
		}
	}

	req, err := t.newRequest(ctx, route, r)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	return parseResponse(resp.Header.Get("Content-Type"), body), nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, route Route, r models.Record) (*http.Request, error) {
	if route == RouteEvent {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(route)+"?"+r.Query().Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		return req, nil
	}

	payload, err := json.Marshal(r.Wire())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL(route), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// parseResponse reads an already-successful (2xx) body. JSON bodies may set
// success=false; anything unparsable is kept verbatim.
func parseResponse(contentType string, body []byte) *Response {
	text := string(body)
	if !strings.Contains(contentType, "application/json") {
		if text == "" {
			text = "OK"
		}
		return &Response{Success: true, RawResponse: text}
	}

	if strings.TrimSpace(text) == "" {
		return &Response{Success: true}
	}

	var parsed struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
		Code    any    `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &Response{Success: true, RawResponse: text}
	}

	out := &Response{Success: true, Message: parsed.Message, Code: parsed.Code}
	if parsed.Success != nil {
		out.Success = *parsed.Success
	}
	return out
}
