// Package agent is the client-resident monitor. It tracks the active tab,
// reports usage and searches on a fixed cadence, closes private windows, and
// consults the ledger service before navigation.
//
// All browser events and timer ticks are handled by one goroutine (Run), so
// agent state needs no locking. Telemetry is fire-and-forget through a
// per-subject FIFO queue; only the pre-navigation block check is waited on.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tabwarden/tabwarden/internal/agent/shardqueue"
	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/hostname"
	"github.com/tabwarden/tabwarden/internal/model"
)

// ErrStopped is returned when an event arrives after Run has returned.
var ErrStopped = errors.New("agent stopped")

const (
	kindUsage      = "usage"
	kindSearch     = "search"
	kindIncognito  = "incognito"
	kindHeartbeat  = "heartbeat"
	kindActivate   = "activate"
	kindDisconnect = "disconnect"
)

// Deps are the collaborators an Agent needs.
type Deps struct {
	Telemetry Telemetry
	Host      Host
	Logger    zerolog.Logger
	// Queue tunes the delivery executor. MaxAttempts is always taken from
	// the configured delivery policy.
	Queue shardqueue.Config
	Clock Clock
}

type eventKind int

const (
	evTab eventKind = iota
	evIncognito
	evWindowClosed
	evSync
)

type event struct {
	kind     eventKind
	tab      Tab
	windowID int
	url      string
	done     chan struct{}
}

// Agent is the monitor for one subject.
type Agent struct {
	cfg     *config.AgentConfig
	tel     Telemetry
	host    Host
	log     zerolog.Logger
	now     Clock
	exec    *shardqueue.ShardExecutor
	ignored map[string]bool

	events  chan event
	ready   chan struct{}
	stopped chan struct{}
	running atomic.Bool

	// closing is set under mu once Run stops accepting events; stopping
	// releases posts blocked on a full buffer.
	mu       sync.RWMutex
	closing  bool
	stopping chan struct{}

	// Owned by the Run goroutine.
	activeTab   int
	domain      string
	windowStart time.Time
	searches    []model.SearchReport
	incognito   map[int]bool
}

// New builds an Agent. The returned agent does nothing until Run is called.
func New(cfg *config.AgentConfig, deps Deps) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", model.ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if deps.Telemetry == nil || deps.Host == nil {
		return nil, fmt.Errorf("%w: telemetry and host are required", model.ErrValidation)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	a := &Agent{
		cfg:       cfg,
		tel:       deps.Telemetry,
		host:      deps.Host,
		log:       deps.Logger.With().Str("subject_id", cfg.SubjectID).Logger(),
		now:       deps.Clock,
		ignored:   make(map[string]bool, len(cfg.IgnoredDomains)),
		events:    make(chan event, 64),
		ready:     make(chan struct{}),
		stopped:   make(chan struct{}),
		stopping:  make(chan struct{}),
		incognito: make(map[int]bool),
	}
	for _, d := range cfg.IgnoredDomains {
		a.ignored[d] = true
	}
	q := deps.Queue
	q.MaxAttempts = cfg.MaxAttempts()
	q.ErrorHandler = a.dropped
	q.Logger = a.log
	a.exec = shardqueue.NewShardExecutor(q)
	a.windowStart = a.now()
	return a, nil
}

// Run processes events and timers until ctx is done. It sends the activation
// notice on entry and the final usage window plus a disconnect notice on exit,
// then waits for queued telemetry to drain.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return fmt.Errorf("agent already running")
	}
	defer close(a.stopped)

	a.windowStart = a.now()
	a.send(kindActivate, a.tel.Activate)

	report := time.NewTicker(a.cfg.ReportInterval)
	defer report.Stop()
	heartbeat := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	a.log.Info().
		Dur("report_interval", a.cfg.ReportInterval).
		Dur("heartbeat_interval", a.cfg.HeartbeatInterval).
		Str("delivery", a.cfg.DeliveryPolicy).
		Msg("agent started")
	close(a.ready)

	for {
		select {
		case <-ctx.Done():
			a.closeEvents()
			a.shutdown()
			return nil
		case ev := <-a.events:
			a.handle(ev)
		case <-report.C:
			a.reportTick()
		case <-heartbeat.C:
			a.heartbeatTick()
		}
	}
}

// Ready is closed once Run has sent the activation notice and is handling events.
func (a *Agent) Ready() <-chan struct{} { return a.ready }

// TabChanged records that tab became active or navigated.
func (a *Agent) TabChanged(ctx context.Context, tab Tab) error {
	return a.post(ctx, event{kind: evTab, tab: tab})
}

// IncognitoWindowCreated closes the private window and reports it.
func (a *Agent) IncognitoWindowCreated(ctx context.Context, windowID int, rawURL string) error {
	return a.post(ctx, event{kind: evIncognito, windowID: windowID, url: rawURL})
}

// WindowClosed forgets a window so a reused id is treated as new.
func (a *Agent) WindowClosed(ctx context.Context, windowID int) error {
	return a.post(ctx, event{kind: evWindowClosed, windowID: windowID})
}

// Navigate is the pre-navigation hook. It asks the service whether the target
// domain is blocked, waiting at most BlockCheckTimeout. A blocked domain gets
// a warning and the tab is closed. Any failure to get an answer allows the
// navigation.
func (a *Agent) Navigate(ctx context.Context, tabID int, rawURL string) Decision {
	domain, err := hostname.FromURL(rawURL)
	if err != nil || a.ignored[domain] {
		return Allow
	}

	cctx, cancel := context.WithTimeout(ctx, a.cfg.BlockCheckTimeout)
	defer cancel()
	res, err := a.tel.CheckBlocked(cctx, rawURL)
	if err != nil {
		blockChecks.WithLabelValues("fail_open").Inc()
		a.log.Warn().Err(err).Str("domain", domain).Msg("block check failed, allowing navigation")
		return Allow
	}
	if !res.Blocked {
		blockChecks.WithLabelValues("allowed").Inc()
		return Allow
	}

	blockChecks.WithLabelValues("blocked").Inc()
	if err := a.host.Warn(ctx, tabID, fmt.Sprintf("%s is blocked", domain)); err != nil {
		a.log.Warn().Err(err).Int("tab_id", tabID).Msg("host warning failed")
	}
	if err := a.host.CloseTab(ctx, tabID); err != nil {
		a.log.Error().Err(err).Int("tab_id", tabID).Msg("failed to close blocked tab")
	}
	a.log.Info().Str("domain", domain).Int("tab_id", tabID).Msg("navigation blocked")
	return Block
}

// Flush waits until every event posted so far has been handled and every
// telemetry job it queued has been attempted.
func (a *Agent) Flush(ctx context.Context) error {
	if a.running.Load() {
		done := make(chan struct{})
		if err := a.post(ctx, event{kind: evSync, done: done}); err != nil {
			return err
		}
		select {
		case <-done:
		case <-a.stopped:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.exec.Barrier(ctx, a.cfg.SubjectID)
}

func (a *Agent) post(ctx context.Context, ev event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closing {
		return ErrStopped
	}
	select {
	case a.events <- ev:
		return nil
	case <-a.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeEvents stops accepting events and handles every event already
// accepted, so a private window reported before shutdown is still closed.
func (a *Agent) closeEvents() {
	close(a.stopping)
	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()
	for {
		select {
		case ev := <-a.events:
			a.handle(ev)
		default:
			return
		}
	}
}

func (a *Agent) handle(ev event) {
	switch ev.kind {
	case evTab:
		a.onTab(ev.tab)
	case evIncognito:
		a.onIncognito(ev.windowID, ev.url)
	case evWindowClosed:
		delete(a.incognito, ev.windowID)
	case evSync:
		close(ev.done)
	}
}

func (a *Agent) onTab(tab Tab) {
	u, domain, err := parseTabURL(tab.URL)
	if err != nil || a.ignored[domain] {
		a.activeTab, a.domain = tab.ID, ""
		return
	}
	a.activeTab, a.domain = tab.ID, domain

	param, ok := a.cfg.SearchEngines[domain]
	if !ok {
		return
	}
	q := strings.TrimSpace(u.Query().Get(param))
	if q == "" {
		return
	}
	for _, s := range a.searches {
		if s.Domain == domain && s.Query == q {
			return
		}
	}
	a.searches = append(a.searches, model.SearchReport{Domain: domain, Query: q})
}

// onIncognito closes the window before any network traffic, then queues the
// alert report.
func (a *Agent) onIncognito(windowID int, rawURL string) {
	if a.incognito[windowID] {
		return
	}
	a.incognito[windowID] = true
	if err := a.host.CloseWindow(context.Background(), windowID); err != nil {
		a.log.Error().Err(err).Int("window_id", windowID).Msg("failed to close incognito window")
	}
	report := model.IncognitoReport{URL: rawURL}
	a.send(kindIncognito, func(ctx context.Context) error {
		_, err := a.tel.ReportIncognito(ctx, report)
		return err
	})
}

// reportTick sends at most one usage report, covering the time since the last
// tick, plus every search staged since then. Pending state is cleared whether
// or not delivery succeeds.
func (a *Agent) reportTick() {
	now := a.now()
	if a.domain != "" {
		secs := int64(now.Sub(a.windowStart) / time.Second)
		if secs > 0 {
			a.log.Debug().Str("domain", a.domain).Int("tab_id", a.activeTab).Int64("seconds", secs).Msg("reporting usage")
			r := model.UsageReport{Domain: a.domain, Seconds: secs}
			a.send(kindUsage, func(ctx context.Context) error { return a.tel.ReportUsage(ctx, r) })
		}
	}
	for _, s := range a.searches {
		r := s
		a.send(kindSearch, func(ctx context.Context) error { return a.tel.ReportSearch(ctx, r) })
	}
	a.searches = nil
	a.windowStart = now
}

func (a *Agent) heartbeatTick() {
	a.send(kindHeartbeat, a.tel.Heartbeat)
}

func (a *Agent) shutdown() {
	a.reportTick()
	a.send(kindDisconnect, a.tel.Disconnect)
	a.exec.Stop()
	a.log.Info().Msg("agent stopped")
}

// send queues one telemetry call keyed by subject. Each attempt gets its own
// HTTPTimeout so a slow service never stalls the queue indefinitely.
func (a *Agent) send(kind string, call func(context.Context) error) {
	job := shardqueue.JobFunc(func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.HTTPTimeout)
		defer cancel()
		if err := call(cctx); err != nil {
			return &deliveryError{kind: kind, err: err}
		}
		return nil
	})
	if err := a.exec.Submit(context.Background(), a.cfg.SubjectID, job); err != nil {
		telemetryDropped.WithLabelValues(kind).Inc()
		a.log.Warn().Err(err).Str("kind", kind).Msg("telemetry not queued, dropping")
	}
}

// dropped is the executor's error handler: a report that exhausted its
// attempts is logged and discarded.
func (a *Agent) dropped(err error) {
	kind := "unknown"
	var de *deliveryError
	if errors.As(err, &de) {
		kind = de.kind
	}
	telemetryDropped.WithLabelValues(kind).Inc()
	a.log.Warn().Err(err).Str("kind", kind).Str("policy", a.cfg.DeliveryPolicy).Msg("telemetry dropped")
}

type deliveryError struct {
	kind string
	err  error
}

func (e *deliveryError) Error() string { return e.kind + ": " + e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

func parseTabURL(raw string) (*url.URL, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", err
	}
	if u.Host == "" {
		// about:blank, file paths and the like are not trackable.
		return u, "", hostname.ErrNoHost
	}
	domain, err := hostname.Normalize(u.Hostname())
	return u, domain, err
}
