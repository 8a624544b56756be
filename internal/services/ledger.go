// Package services holds the ledger's business rules on top of store.Store.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tabwarden/tabwarden/internal/hostname"
	"github.com/tabwarden/tabwarden/internal/model"
	"github.com/tabwarden/tabwarden/internal/notify"
	"github.com/tabwarden/tabwarden/internal/store"
)

// MaxReportSeconds bounds a single usage report to one day.
const MaxReportSeconds = 24 * 60 * 60

// LedgerService owns per-subject usage, alerts, block lists and connectivity.
// Mutations on one subject are serialized by a per-subject lock; subjects
// never contend with each other.
type LedgerService struct {
	store      store.Store
	notifier   notify.Notifier
	now        func() time.Time
	staleAfter time.Duration
	locks      *keyedMutex
	log        zerolog.Logger
}

// Option configures a LedgerService.
type Option func(*LedgerService)

// WithNotifier sets the hook fired after successful mutations.
func WithNotifier(n notify.Notifier) Option {
	return func(s *LedgerService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock replaces time.Now. Date bucketing uses this clock.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStaleAfter sets how old a heartbeat may be before GetSubject marks an
// online subject stale. Zero disables the flag.
func WithStaleAfter(d time.Duration) Option {
	return func(s *LedgerService) { s.staleAfter = d }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *LedgerService) { s.log = l }
}

func NewLedgerService(st store.Store, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:    st,
		notifier: notify.Nop{},
		now:      time.Now,
		locks:    newKeyedMutex(),
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *LedgerService) clock() time.Time { return s.now().UTC() }

func (s *LedgerService) lock(subjectID string) func() { return s.locks.Lock(subjectID) }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, fmt.Sprintf(format, args...))
}

func requireSubject(subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return invalid("subjectId is required")
	}
	return nil
}

func domainOf(raw string) (string, error) {
	d, err := hostname.FromURL(raw)
	if err != nil {
		return "", invalid("domain %q: %v", raw, err)
	}
	return d, nil
}

// CreateSubject provisions a subject in the Offline state.
func (s *LedgerService) CreateSubject(ctx context.Context, subjectID string) (_ *model.Subject, err error) {
	defer func() { observe("create_subject", err) }()
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return s.store.Subjects().Create(ctx, &model.Subject{
		SubjectID:    subjectID,
		Connectivity: model.Offline,
		CreationTime: s.clock(),
	})
}

// ReportUsage adds seconds on domain to the service's current UTC day.
// Reports are summed; identical reports are not deduplicated.
func (s *LedgerService) ReportUsage(ctx context.Context, subjectID string, r model.UsageReport) (err error) {
	defer func() { observe("report_usage", err) }()
	if err := requireSubject(subjectID); err != nil {
		return err
	}
	domain, err := domainOf(r.Domain)
	if err != nil {
		return err
	}
	if r.Seconds <= 0 || r.Seconds > MaxReportSeconds {
		return invalid("seconds must be in 1..%d, got %d", MaxReportSeconds, r.Seconds)
	}

	unlock := s.lock(subjectID)
	defer unlock()
	now := s.clock()
	return s.store.Usage().AddSeconds(ctx, model.UsageIncrement{
		SubjectID: subjectID,
		Domain:    domain,
		Day:       now.Format(model.DateLayout),
		Seconds:   r.Seconds,
		At:        now,
	})
}

// ReportSearch inserts query into the domain's search set. Matching is exact
// and case-sensitive; a repeated query is accepted without change.
func (s *LedgerService) ReportSearch(ctx context.Context, subjectID string, r model.SearchReport) (err error) {
	defer func() { observe("report_search", err) }()
	if err := requireSubject(subjectID); err != nil {
		return err
	}
	domain, err := domainOf(r.Domain)
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.Query) == "" {
		return invalid("query is required")
	}

	unlock := s.lock(subjectID)
	now := s.clock()
	inserted, err := s.store.Usage().AddSearch(ctx, model.SearchInsert{
		SubjectID: subjectID,
		Domain:    domain,
		Query:     r.Query,
		At:        now,
	})
	unlock()
	if err != nil {
		return err
	}
	if inserted {
		s.notifier.Notify(notify.Event{Kind: notify.EventSearchDetected, SubjectID: subjectID, Domain: domain, Query: r.Query, At: now})
	}
	return nil
}

// ReportIncognito appends an alert. Every call creates a new alert.
func (s *LedgerService) ReportIncognito(ctx context.Context, subjectID string, r model.IncognitoReport) (_ *model.IncognitoAlert, err error) {
	defer func() { observe("report_incognito", err) }()
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	alert := &model.IncognitoAlert{
		AlertID:   uuid.NewString(),
		SubjectID: subjectID,
		URL:       r.URL,
	}

	unlock := s.lock(subjectID)
	alert.Timestamp = s.clock()
	err = s.store.Alerts().Append(ctx, alert)
	unlock()
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("subject_id", subjectID).Str("alert_id", alert.AlertID).Msg("incognito alert recorded")
	s.notifier.Notify(notify.Event{Kind: notify.EventIncognitoAlert, SubjectID: subjectID, URL: r.URL, AlertID: alert.AlertID, At: alert.Timestamp})
	return alert, nil
}

// ListAlerts returns alerts in the order they were reported.
func (s *LedgerService) ListAlerts(ctx context.Context, subjectID string) ([]*model.IncognitoAlert, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return s.store.Alerts().List(ctx, subjectID)
}

// ClearAlerts empties the alert list. Clearing an empty list succeeds.
func (s *LedgerService) ClearAlerts(ctx context.Context, subjectID string) (n int, err error) {
	defer func() { observe("clear_alerts", err) }()
	if err := requireSubject(subjectID); err != nil {
		return 0, err
	}
	unlock := s.lock(subjectID)
	defer unlock()
	return s.store.Alerts().Clear(ctx, subjectID)
}

// CheckBlocked reports whether rawURL's domain is in the subject's block list.
// Matching is exact on the normalized domain; subdomains are not implied.
func (s *LedgerService) CheckBlocked(ctx context.Context, subjectID, rawURL string) (_ *model.BlockCheck, err error) {
	defer func() { observe("check_blocked", err) }()
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, err
	}
	blocked, err := s.store.Blocks().Contains(ctx, subjectID, domain)
	if err != nil {
		return nil, err
	}
	return &model.BlockCheck{Blocked: blocked, Domain: domain}, nil
}

// BlockURL adds rawURL's domain to the block list and returns that domain.
func (s *LedgerService) BlockURL(ctx context.Context, subjectID, rawURL string) (_ string, err error) {
	defer func() { observe("block_url", err) }()
	return s.editBlock(ctx, subjectID, rawURL, true)
}

// UnblockURL removes rawURL's domain from the block list.
func (s *LedgerService) UnblockURL(ctx context.Context, subjectID, rawURL string) (_ string, err error) {
	defer func() { observe("unblock_url", err) }()
	return s.editBlock(ctx, subjectID, rawURL, false)
}

func (s *LedgerService) editBlock(ctx context.Context, subjectID, rawURL string, add bool) (string, error) {
	if err := requireSubject(subjectID); err != nil {
		return "", err
	}
	domain, err := domainOf(rawURL)
	if err != nil {
		return "", err
	}

	kind := notify.EventBlockAdded
	unlock := s.lock(subjectID)
	if add {
		err = s.store.Blocks().Add(ctx, subjectID, domain)
	} else {
		kind = notify.EventBlockRemoved
		err = s.store.Blocks().Remove(ctx, subjectID, domain)
	}
	unlock()
	if err != nil {
		return "", err
	}
	s.notifier.Notify(notify.Event{Kind: kind, SubjectID: subjectID, Domain: domain, At: s.clock()})
	return domain, nil
}

// ListBlocked returns the block list in lexical order.
func (s *LedgerService) ListBlocked(ctx context.Context, subjectID string) ([]string, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return s.store.Blocks().List(ctx, subjectID)
}

// Heartbeat marks the subject Online and refreshes LastHeartbeat.
func (s *LedgerService) Heartbeat(ctx context.Context, subjectID string) (err error) {
	defer func() { observe("heartbeat", err) }()
	return s.setConnectivity(ctx, subjectID, model.Online, true)
}

// Activate records agent startup. It counts as a heartbeat.
func (s *LedgerService) Activate(ctx context.Context, subjectID string) (err error) {
	defer func() { observe("activate", err) }()
	if err := s.setConnectivity(ctx, subjectID, model.Online, true); err != nil {
		return err
	}
	s.notifier.Notify(notify.Event{Kind: notify.EventAgentActivated, SubjectID: subjectID, At: s.clock()})
	return nil
}

// Disconnect marks the subject Offline. LastHeartbeat is left untouched.
func (s *LedgerService) Disconnect(ctx context.Context, subjectID string) (err error) {
	defer func() { observe("disconnect", err) }()
	if err := s.setConnectivity(ctx, subjectID, model.Offline, false); err != nil {
		return err
	}
	s.notifier.Notify(notify.Event{Kind: notify.EventAgentDisconnected, SubjectID: subjectID, At: s.clock()})
	return nil
}

func (s *LedgerService) setConnectivity(ctx context.Context, subjectID string, c model.Connectivity, heartbeat bool) error {
	if err := requireSubject(subjectID); err != nil {
		return err
	}
	unlock := s.lock(subjectID)
	defer unlock()
	return s.store.Subjects().SetConnectivity(ctx, subjectID, c, s.clock(), heartbeat)
}

// GetSubject returns the subject with a derived staleness flag. An Online
// subject whose last heartbeat is older than the stale window is reported as
// stale; its stored state is not changed.
func (s *LedgerService) GetSubject(ctx context.Context, subjectID string) (*model.SubjectView, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	sub, err := s.store.Subjects().Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	view := &model.SubjectView{Subject: *sub}
	if s.staleAfter > 0 && sub.Connectivity == model.Online {
		view.Stale = sub.LastHeartbeat == nil || s.clock().Sub(*sub.LastHeartbeat) > s.staleAfter
	}
	return view, nil
}

// GetUsage returns every usage record of the subject.
func (s *LedgerService) GetUsage(ctx context.Context, subjectID string) ([]*model.UsageRecord, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return s.store.Usage().List(ctx, subjectID)
}

// ResetCategory relabels the usage record for domain.
func (s *LedgerService) ResetCategory(ctx context.Context, subjectID, rawDomain, category string) (err error) {
	defer func() { observe("reset_category", err) }()
	if err := requireSubject(subjectID); err != nil {
		return err
	}
	domain, err := domainOf(rawDomain)
	if err != nil {
		return err
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return invalid("category is required")
	}
	unlock := s.lock(subjectID)
	defer unlock()
	return s.store.Usage().SetCategory(ctx, subjectID, domain, category)
}

// ListActivity returns usage increments and new searches inside tf, newest
// first. Entries with equal timestamps keep the order they were recorded in.
func (s *LedgerService) ListActivity(ctx context.Context, subjectID string, tf model.Timeframe) ([]model.ActivityItem, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	if !tf.Since.IsZero() && !tf.Until.IsZero() && tf.Until.Before(tf.Since) {
		return nil, invalid("until is before since")
	}
	return s.store.Usage().Activity(ctx, subjectID, tf)
}
