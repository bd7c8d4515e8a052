package ingest

import (
	"encoding/json"
	"time"
)

// sessionStateMessage is the payload of session_state_changed.
type sessionStateMessage struct {
	Action    string          `json:"action"`
	SessionID string          `json:"sessionId"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// eventMessage is the payload of event_logged and tab_event.
type eventMessage struct {
	Event     string          `json:"event"`
	Timestamp json.RawMessage `json:"timestamp"`
	Details   json.RawMessage `json:"details"`
}

// tabDetails is the only part of an event's details the engine inspects.
type tabDetails struct {
	URL string `json:"url"`
}

// windowMessage is the payload of window_data. The extension also sends a
// zoom factor, which is not stored.
type windowMessage struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

// maxWindowDimension bounds accepted viewport sizes in CSS pixels.
const maxWindowDimension = 1 << 16

// Client times must fall within years 1 to 9999 to round-trip through storage.
var (
	minClientTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxClientTime = time.Date(9999, time.December, 31, 23, 59, 59, 999_000_000, time.UTC)
)

// hasDetails reports whether the event carries a non-null details payload.
func (m eventMessage) hasDetails() bool {
	k := kind(m.Details)
	return k != 0 && k != 'n'
}

// visitURL extracts the navigated URL from tab event details.
func visitURL(details json.RawMessage) (string, bool) {
	if kind(details) != '{' {
		return "", false
	}
	var d tabDetails
	if err := json.Unmarshal(details, &d); err != nil || d.URL == "" {
		return "", false
	}
	return d.URL, true
}

// parseClientTime reads a client timestamp: an RFC 3339 string as produced
// by Date.toISOString, or a number of milliseconds since the epoch. It
// returns nil when the value is absent or unreadable.
func parseClientTime(raw json.RawMessage) *time.Time {
	switch k := kind(raw); {
	case k == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		return inClientRange(t.UTC())
	case k == '-' || (k >= '0' && k <= '9'):
		var ms float64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return nil
		}
		if ms < float64(minClientTime.UnixMilli()) || ms > float64(maxClientTime.UnixMilli()) {
			return nil
		}
		return inClientRange(time.UnixMilli(int64(ms)).UTC())
	default:
		return nil
	}
}

func inClientRange(t time.Time) *time.Time {
	if t.Before(minClientTime) || t.After(maxClientTime) {
		return nil
	}
	return &t
}

// windowDimension returns v as whole pixels, or fallback when v is absent,
// not positive or larger than maxWindowDimension.
func windowDimension(v *float64, fallback int) int {
	if v == nil || !(*v >= 1 && *v <= maxWindowDimension) {
		return fallback
	}
	return int(*v)
}
