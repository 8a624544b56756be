package agent

import (
	"context"
	"time"

	"github.com/tabwarden/tabwarden/internal/model"
)

// Tab is the browser state the agent sees on a tab event.
type Tab struct {
	ID       int    `json:"tabId"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
}

// Host is the browsing environment the agent enforces against.
type Host interface {
	CloseWindow(ctx context.Context, windowID int) error
	CloseTab(ctx context.Context, tabID int) error
	Warn(ctx context.Context, tabID int, message string) error
}

// Telemetry is the ledger service as seen by one agent. *client.Client
// implements it.
type Telemetry interface {
	ReportUsage(ctx context.Context, r model.UsageReport) error
	ReportSearch(ctx context.Context, r model.SearchReport) error
	ReportIncognito(ctx context.Context, r model.IncognitoReport) (*model.IncognitoAlert, error)
	Heartbeat(ctx context.Context) error
	Activate(ctx context.Context) error
	Disconnect(ctx context.Context) error
	CheckBlocked(ctx context.Context, rawURL string) (*model.BlockCheck, error)
}

// Decision is the outcome of the pre-navigation hook.
type Decision int

const (
	Allow Decision = iota
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// Clock returns the current time.
type Clock func() time.Time
