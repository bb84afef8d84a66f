package tracker

import (
	"github.com/Guizzs26/go-track/internal/models"
)

// Default link ids used when the caller does not supply one.
const (
	LinkRegister  = "register"
	LinkSubscribe = "subscribe"
	LinkLogin     = "login"
	LinkLogout    = "logout"
	LinkPageView  = "page_view"
	LinkClick     = "click_event"
	LinkCustom    = "custom"
)

type RegisterParams struct {
	UID    string
	LinkID string
	Source string
	Extra  map[string]any
}

type SubscribeParams struct {
	UID      string
	LinkID   string
	Plan     string
	Duration string
	Amount   float64
	Extra    map[string]any
}

type LoginParams struct {
	UID         string
	LinkID      string
	LoginMethod string
	Extra       map[string]any
}

type ClickParams struct {
	UID         string
	LinkID      string
	ElementID   string
	ElementText string
	Extra       map[string]any
}

func (e *Engine) TrackRegister(p RegisterParams) {
	e.Track(Event{
		Type:       models.EventRegister,
		UserID:     p.UID,
		LinkID:     orDefault(p.LinkID, LinkRegister),
		Attributes: merge(map[string]any{"source": nonEmpty(p.Source)}, p.Extra),
	})
}

func (e *Engine) TrackSubscribe(p SubscribeParams) {
	attrs := map[string]any{
		"plan":     nonEmpty(p.Plan),
		"duration": nonEmpty(p.Duration),
	}
	if p.Amount != 0 {
		attrs["amount"] = p.Amount
	}
	e.Track(Event{
		Type:       models.EventSubscribe,
		UserID:     p.UID,
		LinkID:     orDefault(p.LinkID, LinkSubscribe),
		Attributes: merge(attrs, p.Extra),
	})
}

func (e *Engine) TrackLogin(p LoginParams) {
	e.Track(Event{
		Type:       models.EventLogin,
		UserID:     p.UID,
		LinkID:     orDefault(p.LinkID, LinkLogin),
		Attributes: merge(map[string]any{"loginMethod": nonEmpty(p.LoginMethod)}, p.Extra),
	})
}

// TrackLogout records the logout for the current user, then forgets the user.
func (e *Engine) TrackLogout() {
	e.Track(Event{Type: models.EventLogout, LinkID: LinkLogout})
	e.ClearUserID()
}

// TrackVisit records a page view. Empty path or title fall back to the
// environment's current values.
func (e *Engine) TrackVisit(path, title string) {
	e.Track(Event{
		Type:   models.EventVisit,
		LinkID: LinkPageView,
		Attributes: map[string]any{
			"path":  orDefault(path, e.env.Path()),
			"title": orDefault(title, e.env.Title()),
		},
	})
}

// TrackPageView is an alias for TrackVisit.
func (e *Engine) TrackPageView(path, title string) {
	e.TrackVisit(path, title)
}

func (e *Engine) TrackClick(p ClickParams) {
	e.Track(Event{
		Type:   models.EventClick,
		UserID: p.UID,
		LinkID: orDefault(p.LinkID, LinkClick),
		Attributes: merge(map[string]any{
			"elementId":   nonEmpty(p.ElementID),
			"elementText": nonEmpty(p.ElementText),
		}, p.Extra),
	})
}

// TrackClickID records a click on the element with the given id.
func (e *Engine) TrackClickID(elementID string) {
	e.TrackClick(ClickParams{ElementID: elementID})
}

// TrackCustom records a caller-named event. A string "linkId" in data
// overrides the default link id.
func (e *Engine) TrackCustom(name string, data map[string]any) {
	linkID, _ := data["linkId"].(string)
	e.Track(Event{
		Type:       name,
		LinkID:     orDefault(linkID, LinkCustom),
		Attributes: data,
	})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
