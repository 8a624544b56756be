package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink delivers one event to its destination.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Deliver(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Dispatcher is an in-process bus backed by a buffered channel. A single
// worker drains it into the sink. Events published while the buffer is full
// are dropped and counted.
type Dispatcher struct {
	ch      chan Event
	sink    Sink
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the delivery worker. Close stops it after draining.
func NewDispatcher(sink Sink, buffer int, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		ch:      make(chan Event, buffer),
		sink:    sink,
		timeout: timeout,
		log:     log.With().Str("component", "notify").Logger(),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues evt without blocking.
func (d *Dispatcher) Notify(evt Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		eventsDropped.WithLabelValues(string(evt.Kind)).Inc()
		return
	}
	select {
	case d.ch <- evt:
	default:
		eventsDropped.WithLabelValues(string(evt.Kind)).Inc()
		d.log.Warn().Str("kind", string(evt.Kind)).Str("subject_id", evt.SubjectID).Msg("notify buffer full, dropping event")
	}
}

// ErrSaturated is reported by Ping while the buffer is full.
var ErrSaturated = errors.New("notify buffer full")

// Ping fails once the dispatcher is closed or while every buffer slot is
// taken, which means events are being dropped.
func (d *Dispatcher) Ping(context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("notify dispatcher closed")
	}
	if len(d.ch) == cap(d.ch) {
		return ErrSaturated
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.ch {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			eventsDelivered.WithLabelValues(string(evt.Kind), "panic").Inc()
			d.log.Error().Interface("panic", r).Str("kind", string(evt.Kind)).Msg("notify sink panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Deliver(ctx, evt); err != nil {
		eventsDelivered.WithLabelValues(string(evt.Kind), "error").Inc()
		d.log.Warn().Err(err).Str("kind", string(evt.Kind)).Str("subject_id", evt.SubjectID).Msg("notify delivery failed")
		return
	}
	eventsDelivered.WithLabelValues(string(evt.Kind), "ok").Inc()
}
