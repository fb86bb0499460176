package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api"
	mw "github.com/NPRiteshReddy/DS.2-sub000/internal/api/middleware"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/cache"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub key store that returns no keys (API key auth always fails) ---

type stubKeys struct{}

func (s *stubKeys) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *stubKeys) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

// --- stub cache ---

type stubCache struct {
	count int64
}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *stubCache) Ping(_ context.Context) error                                     { return nil }
func (c *stubCache) SetJobSnapshot(_ context.Context, _ *models.Job, _ time.Duration) error {
	return nil
}
func (c *stubCache) GetJobSnapshot(_ context.Context, _, _ string) (*models.Job, bool, error) {
	return nil, false, nil
}
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	c.count++
	return c.count, nil
}

// --- router tests ---

const secret = "router-secret"

// echo reports the matched route, id parameter and owner.
func echo(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := mw.GetOwnerID(r)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"route": name,
			"id":    chi.URLParam(r, "id"),
			"owner": owner,
		})
	}
}

func newTestRouter(c *stubCache, limit int) http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(&stubKeys{}, secret),
		RateLimit: mw.NewRateLimit(c, limit),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		SubmitReviewHandler:   echo("submit-review"),
		ReviewStatusHandler:   echo("review-status"),
		ReviewHandler:         echo("review"),
		MyReviewsHandler:      echo("my-reviews"),
		ReviewDownloadHandler: echo("review-download"),
		CancelReviewHandler:   echo("cancel-review"),
		SubmitVideoHandler:    echo("submit-video"),
		SubmitAudioHandler:    echo("submit-audio"),
		MediaStatusHandler:    echo("media-status"),
		MediaHandler:          echo("media"),
		CancelMediaHandler:    echo("cancel-media"),
		HistoryHandler:        echo("history"),
	})
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(&stubCache{}, 60)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"), "health is not rate limited")
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(&stubCache{}, 60)
	id := uuid.NewString()

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/reviews"},
		{"GET", "/reviews/mine"},
		{"GET", "/reviews/" + id},
		{"GET", "/reviews/" + id + "/status"},
		{"GET", "/reviews/" + id + "/download"},
		{"DELETE", "/reviews/" + id},
		{"POST", "/media/video"},
		{"POST", "/media/audio"},
		{"GET", "/media/" + id},
		{"GET", "/media/" + id + "/status"},
		{"DELETE", "/media/" + id},
		{"GET", "/jobs"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(&stubCache{}, 1000)
	id := uuid.NewString()

	tests := []struct {
		method string
		path   string
		route  string
		id     string
	}{
		{"POST", "/reviews", "submit-review", ""},
		{"GET", "/reviews/mine", "my-reviews", ""},
		{"GET", "/reviews/" + id, "review", id},
		{"GET", "/reviews/" + id + "/status", "review-status", id},
		{"GET", "/reviews/" + id + "/download", "review-download", id},
		{"DELETE", "/reviews/" + id, "cancel-review", id},
		{"POST", "/media/video", "submit-video", ""},
		{"POST", "/media/audio", "submit-audio", ""},
		{"GET", "/media/" + id, "media", id},
		{"GET", "/media/" + id + "/status", "media-status", id},
		{"DELETE", "/media/" + id, "cancel-media", id},
		{"GET", "/jobs", "history", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", bearer(t, "user-1"))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var got map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.route, got["route"])
			assert.Equal(t, tt.id, got["id"])
			assert.Equal(t, "user-1", got["owner"])
			assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		})
	}
}

func TestRouter_RateLimited(t *testing.T) {
	router := newTestRouter(&stubCache{}, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/jobs", nil)
		req.Header.Set("Authorization", bearer(t, "user-1"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRouter_NotImplementedPlaceholder(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(&stubKeys{}, secret),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60),
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(&stubCache{}, 60)

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&stubCache{}, 60)

	req := httptest.NewRequest("PUT", "/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// Verify interfaces are satisfied
var _ mw.KeyStore = (*stubKeys)(nil)
var _ cache.Cache = (*stubCache)(nil)
