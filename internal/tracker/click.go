package tracker

import (
	"strings"
	"unicode/utf8"
)

const maxClickTextLen = 50

// ClickTarget describes the element a click landed on.
type ClickTarget struct {
	ID    string
	Tag   string
	Text  string
	Class string
	Href  string
	// Attrs holds the element's remaining attributes, e.g. data-track.
	Attrs map[string]string
}

// Trackable reports whether automatic click collection should record this
// target: anything marked data-track, every button and link, and elements
// with the trackable class.
func (c ClickTarget) Trackable() bool {
	if _, ok := c.Attrs["data-track"]; ok {
		return true
	}
	switch strings.ToLower(c.Tag) {
	case "button", "a":
		return true
	}
	for _, class := range strings.Fields(c.Class) {
		if class == "trackable" {
			return true
		}
	}
	return false
}

func (c ClickTarget) elementID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Attrs["data-track-id"]
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
