package model

import "time"

// DefaultCategory is assigned to a usage record the first time its domain is seen.
const DefaultCategory = "general"

// DateLayout is the calendar-day key used for usage buckets (UTC).
const DateLayout = "2006-01-02"

// Connectivity is the online/offline state of a subject's agent.
type Connectivity string

const (
	Online  Connectivity = "online"
	Offline Connectivity = "offline"
)

// Subject is a monitored profile.
type Subject struct {
	SubjectID     string       `json:"subjectId"`
	Connectivity  Connectivity `json:"connectivity"`
	LastHeartbeat *time.Time   `json:"lastHeartbeat,omitempty"`
	LastSeen      *time.Time   `json:"lastSeen,omitempty"`
	CreationTime  time.Time    `json:"creationTime"`
}

// SubjectView is the read model returned to external collaborators. Stale is
// derived at read time from LastHeartbeat; it never changes Connectivity.
type SubjectView struct {
	Subject
	Stale bool `json:"stale"`
}

// UsageRecord holds accumulated time and distinct searches for one domain.
type UsageRecord struct {
	SubjectID   string           `json:"subjectId"`
	Domain      string           `json:"domain"`
	Category    string           `json:"category"`
	Daily       map[string]int64 `json:"daily"`
	Searches    []string         `json:"searches"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Total returns the seconds accumulated for the given day key.
func (r *UsageRecord) Total(day string) int64 {
	if r == nil || r.Daily == nil {
		return 0
	}
	return r.Daily[day]
}

// IncognitoAlert is an immutable record of a detected private window.
type IncognitoAlert struct {
	AlertID   string    `json:"alertId"`
	SubjectID string    `json:"subjectId"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityKind tags an entry in the activity feed.
type ActivityKind string

const (
	ActivityUsage  ActivityKind = "usage"
	ActivitySearch ActivityKind = "search"
)

// ActivityItem is one row of the activity feed. Seq records insertion order and
// breaks timestamp ties.
type ActivityItem struct {
	Kind      ActivityKind `json:"kind"`
	Domain    string       `json:"domain"`
	Query     string       `json:"query,omitempty"`
	Seconds   int64        `json:"seconds,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Seq       int64        `json:"-"`
}

// Timeframe bounds an activity listing. Zero values are open ends.
type Timeframe struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside the timeframe (inclusive).
func (tf Timeframe) Contains(t time.Time) bool {
	if !tf.Since.IsZero() && t.Before(tf.Since) {
		return false
	}
	if !tf.Until.IsZero() && t.After(tf.Until) {
		return false
	}
	return true
}

// UsageIncrement is an accepted usage report after service-side date bucketing.
type UsageIncrement struct {
	SubjectID string
	Domain    string
	Day       string
	Seconds   int64
	At        time.Time
}

// SearchInsert is an accepted search report.
type SearchInsert struct {
	SubjectID string
	Domain    string
	Query     string
	At        time.Time
}
