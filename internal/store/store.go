package store

import (
	"context"
	"time"

	"github.com/tabwarden/tabwarden/internal/model"
)

// Store exposes the ledger persistence required by services.
// Implementations live under internal/store/<driver>/ (memory, sqlite, postgres).
// Every method is atomic: it either applies fully or not at all.
type Store interface {
	Subjects() Subjects
	Usage() Usage
	Alerts() Alerts
	Blocks() Blocks
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

type Subjects interface {
	// Create returns model.ErrConflict when the id already exists.
	Create(ctx context.Context, s *model.Subject) (*model.Subject, error)
	// Get returns model.ErrNotFound for an unknown id.
	Get(ctx context.Context, subjectID string) (*model.Subject, error)
	// SetConnectivity records a connectivity transition at time at. LastSeen
	// is always set; LastHeartbeat only when heartbeat is true.
	SetConnectivity(ctx context.Context, subjectID string, c model.Connectivity, at time.Time, heartbeat bool) error
}

type Usage interface {
	// AddSeconds creates the record on first sight with model.DefaultCategory
	// and adds inc.Seconds to the (domain, day) bucket.
	AddSeconds(ctx context.Context, inc model.UsageIncrement) error
	// AddSearch inserts the query into the domain's search set and reports
	// whether it was new.
	AddSearch(ctx context.Context, ins model.SearchInsert) (bool, error)
	// List returns every record of the subject ordered by domain.
	List(ctx context.Context, subjectID string) ([]*model.UsageRecord, error)
	// SetCategory returns model.ErrNotFound when no record exists for domain.
	SetCategory(ctx context.Context, subjectID, domain, category string) error
	// Activity returns usage increments and new searches inside tf, newest
	// first; equal timestamps keep insertion order.
	Activity(ctx context.Context, subjectID string, tf model.Timeframe) ([]model.ActivityItem, error)
}

type Alerts interface {
	Append(ctx context.Context, a *model.IncognitoAlert) error
	// List returns alerts in insertion order.
	List(ctx context.Context, subjectID string) ([]*model.IncognitoAlert, error)
	// Clear removes all alerts and returns how many were removed.
	Clear(ctx context.Context, subjectID string) (int, error)
}

type Blocks interface {
	// Add and Remove are idempotent.
	Add(ctx context.Context, subjectID, domain string) error
	Remove(ctx context.Context, subjectID, domain string) error
	Contains(ctx context.Context, subjectID, domain string) (bool, error)
	// List returns blocked domains in lexical order.
	List(ctx context.Context, subjectID string) ([]string, error)
}
