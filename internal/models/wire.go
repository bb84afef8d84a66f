package models

import (
	"net/url"
	"strconv"
)

// identityKeys are never taken from attributes, even when the envelope
// leaves them empty.
var identityKeys = []string{"eventType", "x_uid", "sessionId", "timestamp"}

// Wire returns the flattened envelope sent to the collection endpoint.
// A non-empty envelope field always wins over an attribute of the same name;
// an empty one leaves the caller's attribute in place.
func (r Record) Wire() map[string]any {
	out := make(map[string]any, 16+len(r.Attributes))

	for k, v := range r.Attributes {
		out[k] = v
	}
	for _, k := range identityKeys {
		delete(out, k)
	}

	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}

	set("eventType", r.EventType)
	set("siteDomain", r.SiteDomain)
	set("x_uid", r.UserID)
	set("x_link_id", r.LinkID)
	out["timestamp"] = r.Timestamp
	set("uri", r.Context.URI)
	set("referer", r.Context.Referrer)
	set("userAgent", r.Context.UserAgent)
	set("sessionId", r.SessionID)
	set("url", r.Context.URL)
	set("screenResolution", r.Context.ScreenResolution)
	set("viewport", r.Context.Viewport)
	set("language", r.Context.Language)
	set("timezone", r.Context.Timezone)
	set("platform", r.Context.Platform)

	return out
}

// Query encodes the flattened envelope as query parameters, every value as a string.
func (r Record) Query() url.Values {
	params := url.Values{}
	for k, v := range r.Wire() {
		switch val := v.(type) {
		case int64:
			params.Set(k, strconv.FormatInt(val, 10))
		default:
			params.Set(k, formatScalar(val))
		}
	}
	return params
}
