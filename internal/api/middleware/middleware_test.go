package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat/floatchat/internal/observability"
)

type recordedRequest struct {
	method, route, statusClass string
}

type recordingAPIMetrics struct {
	mu        sync.Mutex
	requests  []recordedRequest
	tooLarges int
}

func (m *recordingAPIMetrics) RecordRequest(_ context.Context, method, route, statusClass string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, recordedRequest{method, route, statusClass})
}

func (m *recordingAPIMetrics) RecordRequestBodyTooLarge(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tooLarges++
}

func TestRequestID(t *testing.T) {
	var seen string

	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
	}))

	t.Run("propagates client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "abc-123")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	})
}

func TestMaxBody(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})

	metrics := &recordingAPIMetrics{}
	handler := MaxBody(8, metrics)(echo)

	t.Run("within limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("small")))

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "small", rec.Body.String())
	})

	t.Run("over limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("much too large")))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		assert.Equal(t, 1, metrics.tooLarges)
	})

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MaxBody(0, nil)(echo).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("much too large")))

		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	metrics := &recordingAPIMetrics{}

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/v1/profiles/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/query", func(http.ResponseWriter, *http.Request) {})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/profiles/42", nil),
		httptest.NewRequest(http.MethodPost, "/query", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, metrics.requests, 3)
	assert.Equal(t, recordedRequest{"GET", "/v1/profiles/{id}", "4xx"}, metrics.requests[0])
	assert.Equal(t, recordedRequest{"POST", "/query", "2xx"}, metrics.requests[1])
	assert.Equal(t, "unmatched", metrics.requests[2].route)
}

func TestStatusToClass(t *testing.T) {
	assert.Equal(t, "5xx", statusToClass(503))
	assert.Equal(t, "4xx", statusToClass(400))
	assert.Equal(t, "3xx", statusToClass(304))
	assert.Equal(t, "2xx", statusToClass(200))
	assert.Equal(t, "1xx", statusToClass(101))
	assert.Equal(t, "unknown", statusToClass(0))
}

func TestLogging_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()

	Logging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
