package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/internal/agent/shardqueue"
	"github.com/tabwarden/tabwarden/internal/client"
	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/model"
)

type fakeTelemetry struct {
	mu        sync.Mutex
	calls     []string
	usage     []model.UsageReport
	searches  []model.SearchReport
	incognito []model.IncognitoReport

	failWith   error
	failCount  int32 // remaining calls to fail; <0 means always
	blocked    map[string]bool
	checkErr   error
	checkDelay time.Duration
}

func (f *fakeTelemetry) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.failWith != nil && f.failCount != 0 {
		if f.failCount > 0 {
			f.failCount--
		}
		return f.failWith
	}
	return nil
}

func (f *fakeTelemetry) ReportUsage(_ context.Context, r model.UsageReport) error {
	if err := f.record("usage"); err != nil {
		return err
	}
	f.mu.Lock()
	f.usage = append(f.usage, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeTelemetry) ReportSearch(_ context.Context, r model.SearchReport) error {
	if err := f.record("search"); err != nil {
		return err
	}
	f.mu.Lock()
	f.searches = append(f.searches, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeTelemetry) ReportIncognito(_ context.Context, r model.IncognitoReport) (*model.IncognitoAlert, error) {
	if err := f.record("incognito"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.incognito = append(f.incognito, r)
	f.mu.Unlock()
	return &model.IncognitoAlert{URL: r.URL}, nil
}

func (f *fakeTelemetry) Heartbeat(context.Context) error  { return f.record("heartbeat") }
func (f *fakeTelemetry) Activate(context.Context) error   { return f.record("activate") }
func (f *fakeTelemetry) Disconnect(context.Context) error { return f.record("disconnect") }

func (f *fakeTelemetry) CheckBlocked(ctx context.Context, rawURL string) (*model.BlockCheck, error) {
	if f.checkDelay > 0 {
		select {
		case <-time.After(f.checkDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	d := rawURL
	return &model.BlockCheck{Blocked: f.blocked[d], Domain: d}, nil
}

func (f *fakeTelemetry) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeHost struct {
	mu      sync.Mutex
	order   []string
	closedW []int
	closedT []int
	warned  []string
}

func (h *fakeHost) CloseWindow(_ context.Context, id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = append(h.order, "close-window")
	h.closedW = append(h.closedW, id)
	return nil
}

func (h *fakeHost) CloseTab(_ context.Context, id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = append(h.order, "close-tab")
	h.closedT = append(h.closedT, id)
	return nil
}

func (h *fakeHost) Warn(_ context.Context, _ int, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = append(h.order, "warn")
	h.warned = append(h.warned, msg)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAgent(t *testing.T, mutate func(*config.AgentConfig)) (*Agent, *fakeTelemetry, *fakeHost, *fakeClock) {
	t.Helper()
	cfg := config.NewAgentForTesting()
	if mutate != nil {
		mutate(cfg)
	}
	tel := &fakeTelemetry{blocked: map[string]bool{}}
	host := &fakeHost{}
	clk := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	a, err := New(cfg, Deps{
		Telemetry: tel,
		Host:      host,
		Logger:    zerolog.Nop(),
		Queue:     shardqueue.Config{Shards: 1, QueueSize: 64, BaseBackoff: time.Millisecond},
		Clock:     clk.Now,
	})
	require.NoError(t, err)
	t.Cleanup(a.exec.Stop)
	return a, tel, host, clk
}

func flush(t *testing.T, a *Agent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Flush(ctx))
}

func TestReportTick_SendsElapsedWindowOnce(t *testing.T) {
	a, tel, _, clk := newTestAgent(t, nil)

	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://Example.com/page"}})
	clk.Advance(60 * time.Second)
	a.reportTick()
	clk.Advance(30 * time.Second)
	a.reportTick()
	flush(t, a)

	require.Len(t, tel.usage, 2)
	assert.Equal(t, model.UsageReport{Domain: "example.com", Seconds: 60}, tel.usage[0])
	assert.Equal(t, model.UsageReport{Domain: "example.com", Seconds: 30}, tel.usage[1])
}

func TestReportTick_NoActiveDomainSendsNothing(t *testing.T) {
	a, tel, _, clk := newTestAgent(t, nil)

	clk.Advance(time.Minute)
	a.reportTick()
	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "chrome://newtab/"}})
	clk.Advance(time.Minute)
	a.reportTick()
	flush(t, a)

	assert.Empty(t, tel.callList())
}

func TestTabChanged_IgnoredDomainStopsAccrual(t *testing.T) {
	a, tel, _, clk := newTestAgent(t, nil)

	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://news.example"}})
	a.handle(event{kind: evTab, tab: Tab{ID: 2, URL: "http://localhost:3000/"}})
	clk.Advance(time.Minute)
	a.reportTick()
	flush(t, a)
	assert.Empty(t, tel.usage)
}

func TestSearchDetection(t *testing.T) {
	a, tel, _, clk := newTestAgent(t, nil)

	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://www.google.com/search?q=chess+openings&hl=en"}})
	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://www.google.com/search?q=chess+openings&start=10"}})
	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://bing.com/search?q=rooks"}})
	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://bing.com/search?form=QBLH"}})
	clk.Advance(10 * time.Second)
	a.reportTick()
	flush(t, a)

	assert.Equal(t, []model.SearchReport{
		{Domain: "www.google.com", Query: "chess openings"},
		{Domain: "bing.com", Query: "rooks"},
	}, tel.searches)
	require.Len(t, tel.usage, 1)
	assert.Equal(t, "bing.com", tel.usage[0].Domain)

	// Searches are cleared after the tick.
	clk.Advance(10 * time.Second)
	a.reportTick()
	flush(t, a)
	assert.Len(t, tel.searches, 2)
}

func TestReportTick_DropPolicyDoesNotRetry(t *testing.T) {
	a, tel, _, clk := newTestAgent(t, nil)
	tel.failWith = &client.ClassifiedError{Category: client.Recoverable, Underlying: model.ErrTransient}
	tel.failCount = -1

	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://example.com"}})
	a.handle(event{kind: evTab, tab: Tab{ID: 1, URL: "https://google.com/?q=x"}})
	clk.Advance(time.Minute)
	a.reportTick()
	flush(t, a)

	assert.Equal(t, []string{"usage", "search"}, tel.callList())
	assert.Empty(t, a.searches, "pending state cleared regardless of outcome")

	clk.Advance(time.Minute)
	a.reportTick()
	flush(t, a)
	assert.Equal(t, []string{"usage", "search", "usage"}, tel.callList(), "failed search not resent")
}

func TestRetryPolicyRetriesRecoverableErrors(t *testing.T) {
	a, tel, _, _ := newTestAgent(t, func(c *config.AgentConfig) {
		c.DeliveryPolicy = config.DeliveryRetry
		c.RetryAttempts = 3
	})
	tel.failWith = &client.ClassifiedError{Category: client.Recoverable, Underlying: model.ErrTransient}
	tel.failCount = 2

	a.heartbeatTick()
	flush(t, a)
	assert.Equal(t, []string{"heartbeat", "heartbeat", "heartbeat"}, tel.callList())
}

func TestRetryPolicySkipsIrrecoverableErrors(t *testing.T) {
	a, tel, _, _ := newTestAgent(t, func(c *config.AgentConfig) {
		c.DeliveryPolicy = config.DeliveryRetry
		c.RetryAttempts = 5
	})
	tel.failWith = &client.ClassifiedError{Category: client.Irrecoverable, StatusCode: 404, Underlying: model.ErrNotFound}
	tel.failCount = -1

	a.heartbeatTick()
	flush(t, a)
	assert.Equal(t, []string{"heartbeat"}, tel.callList())
}

func TestIncognito_ClosesBeforeReporting(t *testing.T) {
	a, tel, host, _ := newTestAgent(t, nil)

	a.handle(event{kind: evIncognito, windowID: 7, url: "http://x"})
	a.handle(event{kind: evIncognito, windowID: 7, url: "http://x"})
	flush(t, a)

	assert.Equal(t, []int{7}, host.closedW)
	assert.Equal(t, []model.IncognitoReport{{URL: "http://x"}}, tel.incognito)

	// A reused window id after close is a new detection.
	a.handle(event{kind: evWindowClosed, windowID: 7})
	a.handle(event{kind: evIncognito, windowID: 7, url: "http://y"})
	flush(t, a)
	assert.Equal(t, []int{7, 7}, host.closedW)
	assert.Len(t, tel.incognito, 2)
}

func TestIncognito_ClosesEvenWhenServiceDown(t *testing.T) {
	a, tel, host, _ := newTestAgent(t, nil)
	tel.failWith = errors.New("connection refused")
	tel.failCount = -1

	a.handle(event{kind: evIncognito, windowID: 3, url: "http://x"})
	flush(t, a)
	assert.Equal(t, []int{3}, host.closedW)
}

func TestNavigate(t *testing.T) {
	a, tel, host, _ := newTestAgent(t, nil)
	tel.blocked["https://bad.example/x"] = true
	ctx := context.Background()

	assert.Equal(t, Allow, a.Navigate(ctx, 1, "https://good.example/"))
	assert.Empty(t, host.order)

	assert.Equal(t, Block, a.Navigate(ctx, 2, "https://bad.example/x"))
	assert.Equal(t, []string{"warn", "close-tab"}, host.order)
	assert.Equal(t, []int{2}, host.closedT)
	assert.Contains(t, host.warned[0], "bad.example")

	assert.Equal(t, Allow, a.Navigate(ctx, 3, "chrome://newtab"))
	assert.Equal(t, Allow, a.Navigate(ctx, 3, ""))
}

func TestNavigate_FailsOpen(t *testing.T) {
	a, tel, host, _ := newTestAgent(t, nil)
	tel.checkErr = &client.ClassifiedError{Category: client.Recoverable, Underlying: model.ErrTransient}
	tel.blocked["https://bad.example"] = true

	assert.Equal(t, Allow, a.Navigate(context.Background(), 1, "https://bad.example"))
	assert.Empty(t, host.order)
}

func TestNavigate_TimeoutFailsOpen(t *testing.T) {
	a, tel, _, _ := newTestAgent(t, func(c *config.AgentConfig) { c.BlockCheckTimeout = 20 * time.Millisecond })
	tel.checkDelay = time.Second
	tel.blocked["https://bad.example"] = true

	start := time.Now()
	assert.Equal(t, Allow, a.Navigate(context.Background(), 1, "https://bad.example"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRun_Lifecycle(t *testing.T) {
	a, tel, _, clk := newTestAgent(t, func(c *config.AgentConfig) {
		c.ReportInterval = time.Hour
		c.HeartbeatInterval = 10 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	go func() {
		_ = a.Run(ctx)
		done.Store(true)
	}()

	require.NoError(t, a.TabChanged(context.Background(), Tab{ID: 1, URL: "https://example.com"}))
	require.Eventually(t, func() bool {
		for _, c := range tel.callList() {
			if c == "heartbeat" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	clk.Advance(42 * time.Second)
	cancel()
	require.Eventually(t, done.Load, time.Second, 5*time.Millisecond)

	calls := tel.callList()
	assert.Equal(t, "activate", calls[0])
	assert.Equal(t, "disconnect", calls[len(calls)-1])
	require.Len(t, tel.usage, 1)
	assert.Equal(t, model.UsageReport{Domain: "example.com", Seconds: 42}, tel.usage[0])

	assert.ErrorIs(t, a.TabChanged(context.Background(), Tab{ID: 1}), ErrStopped)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(config.NewAgentForTesting(), Deps{})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = New(nil, Deps{Telemetry: &fakeTelemetry{}, Host: &fakeHost{}})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFlush_WaitsForPostedEvents(t *testing.T) {
	a, tel, host, _ := newTestAgent(t, func(c *config.AgentConfig) {
		c.ReportInterval = time.Hour
		c.HeartbeatInterval = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	<-a.Ready()

	require.NoError(t, a.IncognitoWindowCreated(context.Background(), 3, "https://secret.example"))
	flush(t, a)

	assert.Contains(t, tel.callList(), "incognito")
	host.mu.Lock()
	assert.Equal(t, []int{3}, host.closedW)
	host.mu.Unlock()
}

func TestRun_HandlesAcceptedEventsOnShutdown(t *testing.T) {
	for i := 0; i < 20; i++ {
		a, tel, host, _ := newTestAgent(t, func(c *config.AgentConfig) {
			c.ReportInterval = time.Hour
			c.HeartbeatInterval = time.Hour
		})
		ctx, cancel := context.WithCancel(context.Background())
		runDone := make(chan error, 1)
		go func() { runDone <- a.Run(ctx) }()
		<-a.Ready()

		for w := 1; w <= 5; w++ {
			require.NoError(t, a.IncognitoWindowCreated(context.Background(), w, "https://private.example"))
		}
		cancel()
		require.NoError(t, <-runDone)

		host.mu.Lock()
		assert.Equal(t, []int{1, 2, 3, 4, 5}, host.closedW)
		host.mu.Unlock()
		assert.Len(t, tel.incognito, 5)
		calls := tel.callList()
		assert.Equal(t, "disconnect", calls[len(calls)-1])
		assert.ErrorIs(t, a.IncognitoWindowCreated(context.Background(), 6, "https://late.example"), ErrStopped)
	}
}

func TestNew_RejectsInvalidIntervals(t *testing.T) {
	cfg := config.NewAgentForTesting()
	cfg.ReportInterval = 0
	_, err := New(cfg, Deps{Telemetry: &fakeTelemetry{}, Host: &fakeHost{}})
	assert.ErrorIs(t, err, model.ErrValidation)

	cfg = config.NewAgentForTesting()
	cfg.HeartbeatInterval = 0
	_, err = New(cfg, Deps{Telemetry: &fakeTelemetry{}, Host: &fakeHost{}})
	assert.ErrorIs(t, err, model.ErrValidation)
}
