package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchable struct{ down atomic.Bool }

func (s *switchable) Ping(context.Context) error {
	if s.down.Load() {
		return errors.New("down")
	}
	return nil
}

func TestMonitor_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, sink := &switchable{}, &switchable{}
	m := NewMonitor(zerolog.Nop(),
		NewProbe("store", st, time.Second, zerolog.Nop()),
		NewProbe("notify", sink, time.Second, zerolog.Nop()),
	)
	go m.Run(ctx, 10*time.Millisecond)

	require.NoError(t, m.WaitHealthy(ctx, time.Second))

	sink.down.Store(true)
	assert.Eventually(t, func() bool { return !m.IsHealthy() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"notify"}, m.Unhealthy())

	sink.down.Store(false)
	assert.Eventually(t, m.IsHealthy, time.Second, 5*time.Millisecond)
}

func TestMonitor_NoProbesIsHealthy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMonitor(zerolog.Nop())
	go m.Run(ctx, time.Hour)
	assert.NoError(t, m.WaitHealthy(ctx, time.Second))
}

func TestWaitHealthy_TimesOutWithFailingNames(t *testing.T) {
	down := &switchable{}
	down.down.Store(true)
	m := NewMonitor(zerolog.Nop(), NewProbe("store", down, time.Second, zerolog.Nop()))
	m.evaluate(context.Background())

	err := m.WaitHealthy(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}

func TestProbe_RespectsTimeout(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := NewProbe("slow", slow, 20*time.Millisecond, zerolog.Nop())
	start := time.Now()
	assert.False(t, p.Check(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}
