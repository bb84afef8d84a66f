package tracker

import (
	"golang.org/x/text/language"
)

// Environment reports what the host knows about the current page or process.
// Hosts without a notion of pages return "" and the matching fields are left
// off the wire.
type Environment interface {
	Hostname() string
	URL() string
	Path() string
	// RequestURI is the path plus query string.
	RequestURI() string
	Referrer() string
	Title() string
	UserAgent() string
	Language() string
	Timezone() string
	Platform() string
	ScreenResolution() string
	Viewport() string
}

// NavigationSource is implemented by environments that can announce route
// changes. The returned func unsubscribes.
type NavigationSource interface {
	OnNavigate(fn func()) (unsubscribe func())
}

// ClickSource is implemented by environments that can report clicks.
type ClickSource interface {
	OnClick(fn func(ClickTarget)) (unsubscribe func())
}

// LifecycleSource is implemented by environments that know when the host is
// about to be hidden or unloaded.
type LifecycleSource interface {
	OnHide(fn func()) (unsubscribe func())
}

// NoopEnvironment is used when the host has nothing to report.
type NoopEnvironment struct{}

func (NoopEnvironment) Hostname() string         { return "" }
func (NoopEnvironment) URL() string              { return "" }
func (NoopEnvironment) Path() string             { return "" }
func (NoopEnvironment) RequestURI() string       { return "" }
func (NoopEnvironment) Referrer() string         { return "" }
func (NoopEnvironment) Title() string            { return "" }
func (NoopEnvironment) UserAgent() string        { return "" }
func (NoopEnvironment) Language() string         { return "" }
func (NoopEnvironment) Timezone() string         { return "" }
func (NoopEnvironment) Platform() string         { return "" }
func (NoopEnvironment) ScreenResolution() string { return "" }
func (NoopEnvironment) Viewport() string         { return "" }

// StaticEnvironment reports fixed values, e.g. for CLIs and server-side callers.
type StaticEnvironment struct {
	Host       string
	PageURL    string
	PagePath   string
	Query      string
	Referer    string
	PageTitle  string
	Agent      string
	Lang       string
	TZ         string
	OS         string
	Screen     string
	WindowSize string
}

func (s StaticEnvironment) Hostname() string { return s.Host }
func (s StaticEnvironment) URL() string      { return s.PageURL }
func (s StaticEnvironment) Path() string     { return s.PagePath }

func (s StaticEnvironment) RequestURI() string {
	if s.Query == "" {
		return s.PagePath
	}
	return s.PagePath + "?" + s.Query
}

func (s StaticEnvironment) Referrer() string  { return s.Referer }
func (s StaticEnvironment) Title() string     { return s.PageTitle }
func (s StaticEnvironment) UserAgent() string { return s.Agent }

// Language returns Lang as a canonical BCP 47 tag ("en_us" becomes "en-US").
// Values that do not parse are passed through unchanged.
func (s StaticEnvironment) Language() string {
	return NormalizeLanguage(s.Lang)
}

func (s StaticEnvironment) Timezone() string         { return s.TZ }
func (s StaticEnvironment) Platform() string         { return s.OS }
func (s StaticEnvironment) ScreenResolution() string { return s.Screen }
func (s StaticEnvironment) Viewport() string         { return s.WindowSize }

func NormalizeLanguage(raw string) string {
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return raw
	}
	return tag.String()
}
