package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/internal/model"
)

type recorded struct {
	method, path, query, auth string
	body                      map[string]any
}

type callLog struct {
	mu    sync.Mutex
	calls []recorded
}

func (l *callLog) all() []recorded {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recorded(nil), l.calls...)
}

func newServer(t *testing.T, status int, reply any) (*httptest.Server, *callLog) {
	t.Helper()
	log := &callLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		log.mu.Lock()
		log.calls = append(log.calls, rec)
		log.mu.Unlock()
		if reply != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(reply)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func TestNew_Validates(t *testing.T) {
	_, err := New("", "kid", "tok")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = New("http://x", "", "tok")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = New("http://x", "kid", "")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = New("http://x", "kid", "tok", WithHTTPTimeout(0))
	assert.Error(t, err)
}

func TestTelemetryCalls(t *testing.T) {
	srv, calls := newServer(t, http.StatusNoContent, nil)
	c, err := New(srv.URL+"/", "kid_1", "secret")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.ReportUsage(ctx, model.UsageReport{Domain: "example.com", Seconds: 60}))
	require.NoError(t, c.ReportSearch(ctx, model.SearchReport{Domain: "google.com", Query: "chess"}))
	require.NoError(t, c.Heartbeat(ctx))
	require.NoError(t, c.Activate(ctx))
	require.NoError(t, c.Disconnect(ctx))

	got := calls.all()
	require.Len(t, got, 5)
	assert.Equal(t, "/api/subjects/kid_1/usage", got[0].path)
	assert.Equal(t, "example.com", got[0].body["domain"])
	assert.EqualValues(t, 60, got[0].body["seconds"])
	assert.Equal(t, "/api/subjects/kid_1/searches", got[1].path)
	assert.Equal(t, "chess", got[1].body["query"])
	assert.Equal(t, "/api/subjects/kid_1/heartbeat", got[2].path)
	assert.Equal(t, "/api/subjects/kid_1/activate", got[3].path)
	assert.Equal(t, "/api/subjects/kid_1/disconnect", got[4].path)
	for _, rec := range got {
		assert.Equal(t, http.MethodPost, rec.method)
		assert.Equal(t, "Bearer secret", rec.auth)
	}
}

func TestReportIncognito(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	srv, calls := newServer(t, http.StatusCreated, model.IncognitoAlert{AlertID: "a1", SubjectID: "kid_1", URL: "http://x", Timestamp: now})
	c, err := New(srv.URL, "kid_1", "secret")
	require.NoError(t, err)

	alert, err := c.ReportIncognito(context.Background(), model.IncognitoReport{URL: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, "a1", alert.AlertID)
	assert.True(t, alert.Timestamp.Equal(now))
	assert.Equal(t, "http://x", calls.all()[0].body["url"])
}

func TestCheckBlocked(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, model.BlockCheck{Blocked: true, Domain: "bad.example"})
	c, err := New(srv.URL, "kid_1", "secret")
	require.NoError(t, err)

	res, err := c.CheckBlocked(context.Background(), "https://bad.example/path?a=b")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, "bad.example", res.Domain)
	assert.Equal(t, http.MethodGet, calls.all()[0].method)
	assert.Equal(t, "/api/subjects/kid_1/blocked", calls.all()[0].path)
	assert.Equal(t, "url=https%3A%2F%2Fbad.example%2Fpath%3Fa%3Db", calls.all()[0].query)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status      int
		sentinel    error
		recoverable bool
	}{
		{http.StatusBadRequest, model.ErrValidation, false},
		{http.StatusUnauthorized, model.ErrUnauthorized, false},
		{http.StatusForbidden, model.ErrUnauthorized, false},
		{http.StatusNotFound, model.ErrNotFound, false},
		{http.StatusConflict, model.ErrConflict, false},
		{http.StatusTooManyRequests, model.ErrTransient, true},
		{http.StatusInternalServerError, model.ErrTransient, true},
		{http.StatusServiceUnavailable, model.ErrTransient, true},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv, _ := newServer(t, tc.status, map[string]string{"error": "x"})
			c, err := New(srv.URL, "kid_1", "secret")
			require.NoError(t, err)

			err = c.Heartbeat(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, !tc.recoverable, IsIrrecoverable(err))
			assert.Equal(t, tc.recoverable, IsTransient(err))

			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.status, ce.StatusCode)
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(url, "kid_1", "secret", WithHTTPTimeout(time.Second))
	require.NoError(t, err)
	err = c.ReportUsage(context.Background(), model.UsageReport{Domain: "a.com", Seconds: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsIrrecoverable(err))
}

func TestCanceledContext(t *testing.T) {
	srv, calls := newServer(t, http.StatusNoContent, nil)
	c, err := New(srv.URL, "kid_1", "secret")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Heartbeat(ctx), context.Canceled)
	assert.Empty(t, calls.all())
}
