package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/floatchat/floatchat/internal/api/handlers"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/models"
)

type stubService struct{}

func (stubService) Query(context.Context, string) ([]models.ProfileResult, error) {
	return []models.ProfileResult{}, nil
}

func (stubService) NearestProfiles(context.Context, geo.Point, int) ([]models.ProfileWithDistance, error) {
	return []models.ProfileWithDistance{}, nil
}

func newTestRouter() http.Handler {
	return NewRouter(RouterParams{
		Query:          handlers.NewQueryHandler(stubService{}),
		Nearest:        handlers.NewNearestHandler(stubService{}),
		Health:         handlers.NewHealthHandler(nil),
		MCP:            http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) }),
		MaxBodyBytes:   64,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
}

func TestNewRouter_Routes(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ready", "", http.StatusOK},
		{http.MethodPost, "/query", `{"query":"warm water"}`, http.StatusOK},
		{http.MethodPost, "/v1/query", `{"query":"warm water"}`, http.StatusOK},
		{http.MethodPost, "/query", `{"query":"` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge},
		{http.MethodGet, "/v1/profiles/nearest?lat=1&lon=2", "", http.StatusOK},
		{http.MethodGet, "/query", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/mcp/sse", "", http.StatusAccepted},
		{http.MethodGet, "/metrics", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestNewRouter_CORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
