package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type plan struct{ Name string }

type stringerID int

func (s stringerID) String() string { return "id-" + time.Duration(s).String() }

func TestNewAttributes_Normalizes(t *testing.T) {
	name := "pro"
	attrs := NewAttributes(map[string]any{
		"count":   3,
		"ratio":   float32(0.5),
		"ok":      true,
		"missing": nil,
		"ptr":     &name,
		"nilPtr":  (*string)(nil),
		"plan":    plan{Name: "pro"},
		"tags":    []string{"a", "b"},
		"inf":     math.Inf(1),
		"id":      stringerID(1),
	})

	assert.Equal(t, float64(3), attrs["count"])
	assert.Equal(t, 0.5, attrs["ratio"])
	assert.Equal(t, true, attrs["ok"])
	assert.NotContains(t, attrs, "missing")
	assert.Equal(t, "pro", attrs["ptr"])
	assert.NotContains(t, attrs, "nilPtr")
	assert.Equal(t, `{"Name":"pro"}`, attrs["plan"])
	assert.Equal(t, `["a","b"]`, attrs["tags"])
	assert.Equal(t, "+Inf", attrs["inf"])
	assert.Equal(t, "id-1ns", attrs["id"])

	assert.Nil(t, NewAttributes(nil))
	assert.Nil(t, NewAttributes(map[string]any{"x": nil}))
}

func TestRecord_Wire(t *testing.T) {
	r := Record{
		EventType:  EventClick,
		Timestamp:  1700000000000,
		SessionID:  "s-1",
		LinkID:     "click_event",
		SiteDomain: "example.com",
		Context:    Context{URI: "/a?b=1", Language: "en-US"},
		Attributes: NewAttributes(map[string]any{
			"sessionId": "spoofed",
			"x_uid":     "spoofed",
			"elementId": "buy",
		}),
	}

	w := r.Wire()
	assert.Equal(t, "click", w["eventType"])
	assert.Equal(t, int64(1700000000000), w["timestamp"])
	assert.Equal(t, "s-1", w["sessionId"], "attributes never shadow envelope keys")
	assert.NotContains(t, w, "x_uid", "an absent user id is left off rather than taken from attributes")
	assert.NotContains(t, w, "referer")
	assert.Equal(t, "/a?b=1", w["uri"])
	assert.Equal(t, "buy", w["elementId"])
}

func TestRecord_WireKeepsAttributesForEmptyContext(t *testing.T) {
	r := Record{
		EventType: "checkout",
		SessionID: "s",
		Attributes: NewAttributes(map[string]any{
			"url":       "/cart",
			"platform":  "ios",
			"plan":      "pro",
			"timestamp": 42,
			"eventType": "spoofed",
		}),
	}

	q := r.Query()
	assert.Equal(t, "/cart", q.Get("url"))
	assert.Equal(t, "ios", q.Get("platform"))
	assert.Equal(t, "pro", q.Get("plan"))
	assert.Equal(t, "checkout", q.Get("eventType"))
	assert.Equal(t, "0", q.Get("timestamp"))

	r.Context = Context{URL: "https://shop.example/cart", Platform: "Linux"}
	w := r.Wire()
	assert.Equal(t, "https://shop.example/cart", w["url"], "a populated context field wins")
	assert.Equal(t, "Linux", w["platform"])
}

func TestRecord_Query(t *testing.T) {
	r := Record{
		EventType:  EventVisit,
		Timestamp:  1700000000001,
		SessionID:  "s-1",
		UserID:     "u1",
		Attributes: NewAttributes(map[string]any{"amount": 9.5, "first": true, "qty": 2}),
	}

	q := r.Query()
	assert.Equal(t, "visit", q.Get("eventType"))
	assert.Equal(t, "u1", q.Get("x_uid"))
	assert.Equal(t, "1700000000001", q.Get("timestamp"))
	assert.Equal(t, "9.5", q.Get("amount"))
	assert.Equal(t, "true", q.Get("first"))
	assert.Equal(t, "2", q.Get("qty"))
}

func TestAttributes_String(t *testing.T) {
	a := NewAttributes(map[string]any{"n": 1234567.0})
	s, ok := a.String("n")
	assert.True(t, ok)
	assert.Equal(t, "1234567", s)

	_, ok = a.String("missing")
	assert.False(t, ok)
}
