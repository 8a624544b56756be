package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Deliver(ctx context.Context, evt Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) got() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, time.Second, zerolog.Nop())

	d.Notify(Event{Kind: EventBlockAdded, SubjectID: "kid", Domain: "a.example"})
	d.Notify(Event{Kind: EventBlockRemoved, SubjectID: "kid", Domain: "a.example"})
	require.NoError(t, d.Close(context.Background()))

	got := sink.got()
	require.Len(t, got, 2)
	assert.Equal(t, EventBlockAdded, got[0].Kind)
	assert.Equal(t, EventBlockRemoved, got[1].Kind)
}

func TestDispatcher_FullBufferDropsWithoutBlocking(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 1, time.Second, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(Event{Kind: EventSearchDetected, SubjectID: "kid"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Less(t, len(sink.got()), 10)
}

func TestDispatcher_SinkErrorsAndPanicsAreContained(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	sink := SinkFunc(func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch evt.Kind {
		case EventIncognitoAlert:
			panic("boom")
		case EventAgentActivated:
			return errors.New("unreachable")
		}
		return nil
	})
	d := NewDispatcher(sink, 8, time.Second, zerolog.Nop())
	d.Notify(Event{Kind: EventIncognitoAlert})
	d.Notify(Event{Kind: EventAgentActivated})
	d.Notify(Event{Kind: EventAgentDisconnected})
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, time.Second, zerolog.Nop())
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	d.Notify(Event{Kind: EventBlockAdded})
	assert.Empty(t, sink.got())
}

func TestDispatcher_Ping(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 1, time.Second, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, d.Ping(ctx))

	// One event occupies the worker, the next fills the only slot.
	d.Notify(Event{Kind: EventSearchDetected})
	d.Notify(Event{Kind: EventSearchDetected})
	assert.Eventually(t, func() bool { return errors.Is(d.Ping(ctx), ErrSaturated) }, time.Second, 5*time.Millisecond)

	close(sink.block)
	assert.Eventually(t, func() bool { return d.Ping(ctx) == nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Close(ctx))
	assert.Error(t, d.Ping(ctx))
}

func TestWebhookSink(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sink := NewWebhookSink(srv.URL, time.Second)
	require.NoError(t, sink.Deliver(context.Background(), Event{Kind: EventIncognitoAlert, SubjectID: "kid", URL: "http://x", At: at}))
	assert.Equal(t, EventIncognitoAlert, got.Kind)
	assert.Equal(t, "http://x", got.URL)
	assert.True(t, got.At.Equal(at))
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second).Deliver(context.Background(), Event{Kind: EventBlockAdded})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, LogSink{Log: zerolog.New(&buf)}.Deliver(context.Background(), Event{Kind: EventSearchDetected, SubjectID: "kid", Query: "chess"}))
	assert.Contains(t, buf.String(), `"query":"chess"`)
	assert.Contains(t, buf.String(), `"kind":"search_detected"`)
}
