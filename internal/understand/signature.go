package understand

import (
	"net/url"
	"strings"

	"github.com/ziadkadry99/flowtrace/internal/event"
)

// ownSignature returns the active application/page context an event
// carries by itself, or "" when it carries none.
func ownSignature(e event.Event) string {
	switch p := e.Payload.(type) {
	case event.Navigation:
		return NormalizeURL(p.URL)
	case event.Spreadsheet:
		return "spreadsheet:" + strings.ToLower(p.Workbook)
	case event.Document:
		return "document:" + strings.ToLower(p.FileName)
	case event.Keystroke:
		return appSignature(p.App)
	case event.Mouse:
		return appSignature(p.App)
	case event.ScreenFrame:
		return appSignature(p.App)
	default:
		return ""
	}
}

func appSignature(app string) string {
	app = strings.ToLower(strings.TrimSpace(app))
	if app == "" {
		return ""
	}
	return "app:" + app
}

// Signatures returns the active signature of every event. Events without
// their own context inherit the previous event's signature.
func Signatures(events []event.Event) []string {
	sigs := make([]string, len(events))
	prev := ""
	for i, e := range events {
		if s := ownSignature(e); s != "" {
			prev = s
		}
		sigs[i] = prev
	}
	return sigs
}

// NormalizeURL strips the query and fragment and lower-cases scheme and
// host, so that one page visited with different parameters keeps one
// signature. Unparsable input is returned trimmed and lower-cased.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		s := strings.ToLower(raw)
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return strings.TrimSuffix(u.String(), "/")
}

func urlHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
