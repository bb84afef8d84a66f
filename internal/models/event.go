package models

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Known event types. Any other string is accepted as a custom type.
const (
	EventRegister  = "register"
	EventSubscribe = "subscribe"
	EventLogin     = "login"
	EventLogout    = "logout"
	EventVisit     = "visit"
	EventClick     = "click"
	EventCustom    = "custom"
)

// Context is what the host environment reported when the record was built.
type Context struct {
	URI              string `json:"uri,omitempty"`
	Referrer         string `json:"referer,omitempty"`
	UserAgent        string `json:"userAgent,omitempty"`
	URL              string `json:"url,omitempty"`
	Language         string `json:"language,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Platform         string `json:"platform,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	Viewport         string `json:"viewport,omitempty"`
}

// Record is one user-behavior occurrence waiting for delivery.
// Records are never mutated after construction.
type Record struct {
	EventType  string     `json:"eventType"`
	Timestamp  int64      `json:"timestamp"`
	SessionID  string     `json:"sessionId"`
	UserID     string     `json:"userId,omitempty"`
	LinkID     string     `json:"linkId,omitempty"`
	SiteDomain string     `json:"siteDomain,omitempty"`
	Context    Context    `json:"context"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Attributes holds event-specific primitives: string, bool or float64.
type Attributes map[string]any

// NewAttributes copies raw into a normalized attribute map. Integers become
// float64, nil values are dropped and composite values are JSON-encoded.
func NewAttributes(raw map[string]any) Attributes {
	if len(raw) == 0 {
		return nil
	}
	attrs := make(Attributes, len(raw))
	for k, v := range raw {
		if nv, ok := normalize(v); ok {
			attrs[k] = nv
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// String renders an attribute the way it travels on the wire.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	return formatScalar(v), true
}

func normalize(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string, bool:
		return val, true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return strconv.FormatFloat(val, 'f', -1, 64), true
		}
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		return normalize(rv.Elem().Interface())
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), true
	}
	return string(b), true
}

func formatScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
