// Package memory is an in-process store.Store. Each subject's ledger has its
// own mutex, so operations on different subjects never contend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tabwarden/tabwarden/internal/model"
	"github.com/tabwarden/tabwarden/internal/store"
)

type usageRec struct {
	category    string
	daily       map[string]int64
	searches    []string
	searchSet   map[string]bool
	lastUpdated time.Time
}

type ledger struct {
	mu       sync.Mutex
	subject  model.Subject
	usage    map[string]*usageRec
	alerts   []*model.IncognitoAlert
	blocked  map[string]bool
	activity []model.ActivityItem
}

// Store keeps every subject ledger in memory.
type Store struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger
	seq     atomic.Int64
}

// New returns an empty memory store.
func New() *Store {
	return &Store{ledgers: make(map[string]*ledger)}
}

func (s *Store) Subjects() store.Subjects { return subjects{s} }
func (s *Store) Usage() store.Usage       { return usage{s} }
func (s *Store) Alerts() store.Alerts     { return alerts{s} }
func (s *Store) Blocks() store.Blocks     { return blocks{s} }

// Ping succeeds unless ctx is done.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// with runs fn holding the subject's lock.
func (s *Store) with(ctx context.Context, subjectID string, fn func(l *ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	l, ok := s.ledgers[subjectID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("subject %q: %w", subjectID, model.ErrNotFound)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l)
}

// --- Subjects ---

type subjects struct{ s *Store }

func (x subjects) Create(ctx context.Context, m *model.Subject) (*model.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if _, ok := x.s.ledgers[m.SubjectID]; ok {
		return nil, fmt.Errorf("subject %q: %w", m.SubjectID, model.ErrConflict)
	}
	sub := *m
	if sub.Connectivity == "" {
		sub.Connectivity = model.Offline
	}
	if sub.CreationTime.IsZero() {
		sub.CreationTime = time.Now().UTC()
	}
	x.s.ledgers[m.SubjectID] = &ledger{
		subject: sub,
		usage:   make(map[string]*usageRec),
		blocked: make(map[string]bool),
	}
	out := sub
	return &out, nil
}

func (x subjects) Get(ctx context.Context, subjectID string) (*model.Subject, error) {
	var out model.Subject
	err := x.s.with(ctx, subjectID, func(l *ledger) error {
		out = l.subject
		out.LastHeartbeat = copyTime(l.subject.LastHeartbeat)
		out.LastSeen = copyTime(l.subject.LastSeen)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (x subjects) SetConnectivity(ctx context.Context, subjectID string, c model.Connectivity, at time.Time, heartbeat bool) error {
	return x.s.with(ctx, subjectID, func(l *ledger) error {
		l.subject.Connectivity = c
		l.subject.LastSeen = copyTime(&at)
		if heartbeat {
			l.subject.LastHeartbeat = copyTime(&at)
		}
		return nil
	})
}

// --- Usage ---

type usage struct{ s *Store }

func (x usage) record(l *ledger, domain string, at time.Time) *usageRec {
	r, ok := l.usage[domain]
	if !ok {
		r = &usageRec{
			category:  model.DefaultCategory,
			daily:     make(map[string]int64),
			searchSet: make(map[string]bool),
		}
		l.usage[domain] = r
	}
	if at.After(r.lastUpdated) {
		r.lastUpdated = at
	}
	return r
}

func (x usage) AddSeconds(ctx context.Context, inc model.UsageIncrement) error {
	return x.s.with(ctx, inc.SubjectID, func(l *ledger) error {
		r := x.record(l, inc.Domain, inc.At)
		r.daily[inc.Day] += inc.Seconds
		l.activity = append(l.activity, model.ActivityItem{
			Kind: model.ActivityUsage, Domain: inc.Domain, Seconds: inc.Seconds,
			Timestamp: inc.At, Seq: x.s.seq.Add(1),
		})
		return nil
	})
}

func (x usage) AddSearch(ctx context.Context, ins model.SearchInsert) (bool, error) {
	var inserted bool
	err := x.s.with(ctx, ins.SubjectID, func(l *ledger) error {
		r := x.record(l, ins.Domain, ins.At)
		if r.searchSet[ins.Query] {
			return nil
		}
		r.searchSet[ins.Query] = true
		r.searches = append(r.searches, ins.Query)
		l.activity = append(l.activity, model.ActivityItem{
			Kind: model.ActivitySearch, Domain: ins.Domain, Query: ins.Query,
			Timestamp: ins.At, Seq: x.s.seq.Add(1),
		})
		inserted = true
		return nil
	})
	return inserted, err
}

func (x usage) List(ctx context.Context, subjectID string) ([]*model.UsageRecord, error) {
	var out []*model.UsageRecord
	err := x.s.with(ctx, subjectID, func(l *ledger) error {
		for domain, r := range l.usage {
			daily := make(map[string]int64, len(r.daily))
			for k, v := range r.daily {
				daily[k] = v
			}
			out = append(out, &model.UsageRecord{
				SubjectID:   subjectID,
				Domain:      domain,
				Category:    r.category,
				Daily:       daily,
				Searches:    append([]string{}, r.searches...),
				LastUpdated: r.lastUpdated,
			})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, err
}

func (x usage) SetCategory(ctx context.Context, subjectID, domain, category string) error {
	return x.s.with(ctx, subjectID, func(l *ledger) error {
		r, ok := l.usage[domain]
		if !ok {
			return fmt.Errorf("usage record %q: %w", domain, model.ErrNotFound)
		}
		r.category = category
		return nil
	})
}

func (x usage) Activity(ctx context.Context, subjectID string, tf model.Timeframe) ([]model.ActivityItem, error) {
	var out []model.ActivityItem
	err := x.s.with(ctx, subjectID, func(l *ledger) error {
		for _, it := range l.activity {
			if tf.Contains(it.Timestamp) {
				out = append(out, it)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// --- Alerts ---

type alerts struct{ s *Store }

func (x alerts) Append(ctx context.Context, a *model.IncognitoAlert) error {
	return x.s.with(ctx, a.SubjectID, func(l *ledger) error {
		cp := *a
		l.alerts = append(l.alerts, &cp)
		return nil
	})
}

func (x alerts) List(ctx context.Context, subjectID string) ([]*model.IncognitoAlert, error) {
	var out []*model.IncognitoAlert
	err := x.s.with(ctx, subjectID, func(l *ledger) error {
		for _, a := range l.alerts {
			cp := *a
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func (x alerts) Clear(ctx context.Context, subjectID string) (int, error) {
	var n int
	err := x.s.with(ctx, subjectID, func(l *ledger) error {
		n = len(l.alerts)
		l.alerts = nil
		return nil
	})
	return n, err
}

// --- Blocks ---

type blocks struct{ s *Store }

func (x blocks) Add(ctx context.Context, subjectID, domain string) error {
	return x.s.with(ctx, subjectID, func(l *ledger) error {
		l.blocked[domain] = true
		return nil
	})
}

func (x blocks) Remove(ctx context.Context, subjectID, domain string) error {
	return x.s.with(ctx, subjectID, func(l *ledger) error {
		delete(l.blocked, domain)
		return nil
	})
}

func (x blocks) Contains(ctx context.Context, subjectID, domain string) (bool, error) {
	var ok bool
	err := x.s.with(ctx, subjectID, func(l *ledger) error {
		ok = l.blocked[domain]
		return nil
	})
	return ok, err
}

func (x blocks) List(ctx context.Context, subjectID string) ([]string, error) {
	var out []string
	err := x.s.with(ctx, subjectID, func(l *ledger) error {
		for d := range l.blocked {
			out = append(out, d)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
