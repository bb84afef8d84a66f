package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guizzs26/go-track/internal/models"
)

// Route names the collection endpoint a record is sent to.
type Route string

const (
	RouteEvent     Route = "event"
	RouteRegister  Route = "register"
	RouteSubscribe Route = "subscribe"
	RouteLogin     Route = "login"
	RouteBatch     Route = "batch"
)

// RouteFor picks the immediate-send endpoint for an event type. Only
// register, subscribe and login have dedicated endpoints.
func RouteFor(eventType string) Route {
	switch eventType {
	case models.EventRegister:
		return RouteRegister
	case models.EventSubscribe:
		return RouteSubscribe
	case models.EventLogin:
		return RouteLogin
	default:
		return RouteBatch
	}
}

var (
	// ErrRequestFailed wraps network failures and timeouts.
	ErrRequestFailed = errors.New("request failed")
	// ErrRejected is returned when the collector answers 2xx with success=false.
	ErrRejected = errors.New("collector rejected event")
)

// HTTPError is a non-2xx answer from the collector.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Response is the collector's answer. RawResponse carries non-JSON bodies
// ("OK" when the body was empty).
type Response struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Code        any    `json:"code,omitempty"`
	RawResponse string `json:"rawResponse,omitempty"`
}

// Transport sends a single record to a route.
type Transport interface {
	Send(ctx context.Context, route Route, r models.Record) (*Response, error)
}
