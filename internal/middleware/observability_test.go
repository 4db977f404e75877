package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chatfunnel/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = tracing.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPassedThrough(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = tracing.RequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req_upstream")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req_upstream", seen)
	assert.Equal(t, "req_upstream", rec.Header().Get("X-Request-ID"))
}

func TestRequestLoggingCapturesStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	handler := RequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("POST", "/webhook", nil)
	req.RemoteAddr = "203.0.113.5:51234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/webhook", entry.Data["path"])
	assert.Equal(t, "203.0.113.5", entry.Data["client_ip"])
}

func TestRequestLoggingDefaultsTo200(t *testing.T) {
	logger, hook := test.NewNullLogger()

	handler := RequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, http.StatusOK, hook.LastEntry().Data["status"])
}

func TestTracingPassesRequestThrough(t *testing.T) {
	called := false
	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/webhook", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
