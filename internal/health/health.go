// Package health probes the ledger service's dependencies and folds the
// results into one cached flag served by /api/health.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is a dependency that can be probed. Ping returns nil when it is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Probe pings one dependency on an interval and caches the outcome.
// A probe reports unhealthy until its first successful ping.
type Probe struct {
	name    string
	target  Pinger
	timeout time.Duration
	up      atomic.Bool
	log     zerolog.Logger
}

func NewProbe(name string, target Pinger, timeout time.Duration, log zerolog.Logger) *Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{name: name, target: target, timeout: timeout, log: log}
}

func (p *Probe) Name() string    { return p.name }
func (p *Probe) IsHealthy() bool { return p.up.Load() }

// Check pings once and records the result.
func (p *Probe) Check(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.target.Ping(cctx)
	if err != nil {
		p.log.Error().Stack().Str("checker", p.name).Err(err).Msg("health probe failed")
	}
	p.up.Store(err == nil)
	return err == nil
}

// Monitor runs a set of probes and reports the service healthy only when all
// of them are.
type Monitor struct {
	probes []*Probe
	up     atomic.Bool
	log    zerolog.Logger
}

func NewMonitor(log zerolog.Logger, probes ...*Probe) *Monitor {
	return &Monitor{probes: probes, log: log}
}

// IsHealthy returns the cached service health.
func (m *Monitor) IsHealthy() bool { return m.up.Load() }

// Unhealthy lists the names of failing probes.
func (m *Monitor) Unhealthy() []string {
	var out []string
	for _, p := range m.probes {
		if !p.IsHealthy() {
			out = append(out, p.Name())
		}
	}
	return out
}

// Run checks every probe each interval until ctx is done, logging transitions.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.evaluate(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context) {
	healthy := true
	for _, p := range m.probes {
		if !p.Check(ctx) {
			healthy = false
		}
	}
	if prev := m.up.Swap(healthy); prev != healthy {
		if healthy {
			m.log.Info().Msg("service health: UP")
		} else {
			m.log.Error().Strs("failing", m.Unhealthy()).Msg("service health: DOWN")
		}
	}
}

// WaitHealthy blocks until the monitor reports healthy, ctx ends, or timeout
// elapses.
func (m *Monitor) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("dependencies not healthy within %s: %v", timeout, m.Unhealthy())
		case <-ticker.C:
		}
	}
}
