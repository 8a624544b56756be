package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/internal/api/respond"
)

func TestRecover_PanicBecomes500(t *testing.T) {
	before := testutil.ToFloat64(panics)
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/subjects/kid/usage", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body respond.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Message)
	assert.Equal(t, before+1, testutil.ToFloat64(panics))
}

func TestRecover_ReraisesAbort(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestObserve_LabelsByRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Observe)
	r.HandleFunc("/api/subjects/{subjectId}/heartbeat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	counter := requests.WithLabelValues("/api/subjects/{subjectId}/heartbeat", http.MethodPost, "204")
	before := testutil.ToFloat64(counter)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/subjects/kid_1/heartbeat", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
