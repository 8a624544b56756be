// Package notify carries best-effort notifications from the ledger service to
// an external collaborator (a parent dashboard, a webhook). Publishing never
// blocks the mutation that triggered it.
package notify

import "time"

// EventKind identifies what happened to a subject.
type EventKind string

const (
	EventSearchDetected    EventKind = "search_detected"
	EventIncognitoAlert    EventKind = "incognito_alert"
	EventAgentActivated    EventKind = "agent_activated"
	EventAgentDisconnected EventKind = "agent_disconnected"
	EventBlockAdded        EventKind = "block_added"
	EventBlockRemoved      EventKind = "block_removed"
)

// Event is the payload delivered to sinks. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind      EventKind `json:"kind"`
	SubjectID string    `json:"subjectId"`
	Domain    string    `json:"domain,omitempty"`
	Query     string    `json:"query,omitempty"`
	URL       string    `json:"url,omitempty"`
	AlertID   string    `json:"alertId,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier accepts events without blocking.
type Notifier interface {
	Notify(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}
