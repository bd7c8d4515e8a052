package storage

import (
	"encoding/json"
	"time"
)

// Session is one contiguous browsing period reported by a browser instance.
// A nil EndTime means the session is still open.
type Session struct {
	ID           string     `json:"id"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	WindowWidth  *int       `json:"window_width,omitempty"`
	WindowHeight *int       `json:"window_height,omitempty"`
}

// Interaction is a single recorded browser or user event. Details is kept
// verbatim as sent by the client; a nil Time is stored as NULL.
type Interaction struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Details   json.RawMessage `json:"details,omitempty"`
	Time      *time.Time      `json:"time,omitempty"`
	SessionID string          `json:"session_id"`
}

// VisitedSite is the deduplicated aggregate for one URL across sessions.
type VisitedSite struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	VisitCount int64     `json:"visit_count"`
	FirstVisit time.Time `json:"first_visit"`
	LastVisit  time.Time `json:"last_visit"`
}

// SessionQuery defines filters for listing sessions.
type SessionQuery struct {
	SiteID int64 // only sessions linked to this visited site when non-zero
	Limit  int
	Offset int
}

// Stats holds aggregate statistics about the database.
type Stats struct {
	TotalSessions     int64       `json:"total_sessions"`
	OpenSessions      int64       `json:"open_sessions"`
	TotalInteractions int64       `json:"total_interactions"`
	TotalSites        int64       `json:"total_sites"`
	OldestSession     time.Time   `json:"oldest_session"`
	NewestSession     time.Time   `json:"newest_session"`
	TopSites          []SiteCount `json:"top_sites"`
}

// SiteCount pairs a URL with its visit count.
type SiteCount struct {
	URL   string `json:"url"`
	Count int64  `json:"count"`
}
