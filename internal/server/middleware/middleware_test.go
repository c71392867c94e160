package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/auth"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// contextHandler captures the actor injected by middleware.
type contextHandler struct {
	actor  string
	called bool
}

func (h *contextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.actor = middleware.ActorFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

// setActor injects an actor into the request context.
func setActor(r *http.Request, name string) *http.Request {
	return r.WithContext(middleware.WithActor(r.Context(), name))
}

func fromIP(r *http.Request, ip string) *http.Request {
	r.RemoteAddr = ip + ":51234"
	return r
}

// ===========================================================================
// 1. Context helpers
// ===========================================================================

func TestActorFromContext(t *testing.T) {
	t.Parallel()

	t.Run("returns actor when set", func(t *testing.T) {
		t.Parallel()

		req := setActor(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "Alice")
		assert.Equal(t, "Alice", middleware.ActorFromContext(req.Context()))
	})

	t.Run("returns empty when absent", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, middleware.ActorFromContext(t.Context()))
	})
}

// ===========================================================================
// 2. Rate limit middleware
// ===========================================================================

func TestRateLimitByIP_BurstExceeded_Returns429(t *testing.T) {
	t.Parallel()

	// Very low rate (effectively zero refill during the test) with burst of 2.
	handler := middleware.RateLimitByIP(t.Context(), 0.001, 2)(okHandler)

	for i := range 2 {
		req := fromIP(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equalf(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	req := fromIP(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "10.0.0.1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimitByIP_IndependentPerClient(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByIP(t.Context(), 0.001, 1)(okHandler)

	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, fromIP(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "10.0.0.1"))
	require.Equal(t, http.StatusOK, recA.Code)

	recA2 := httptest.NewRecorder()
	handler.ServeHTTP(recA2, fromIP(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, recA2.Code)

	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, fromIP(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "10.0.0.2"))
	assert.Equal(t, http.StatusOK, recB.Code)
}

func TestRateLimitByActor_AnonymousPassesThrough(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByActor(t.Context(), 0.001, 1)(okHandler)

	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitByActor_IndependentPerActor(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByActor(t.Context(), 0.001, 1)(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, setActor(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "Alice"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, setActor(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "Alice"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, setActor(httptest.NewRequest(http.MethodGet, "/", http.NoBody), "Bob"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ===========================================================================
// 3. Attribution middleware
// ===========================================================================

const testJWTSecret = "test-jwt-secret-for-middleware-tests"

func TestAttribution_JWT_ValidToken_PopulatesContext(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueActorToken(testJWTSecret, "Alice", 15*time.Minute)
	require.NoError(t, err)

	capture := &contextHandler{}
	handler := middleware.Attribution(testJWTSecret)(capture)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	// The token wins over the header.
	req.Header.Set(middleware.HeaderDisplayName, "Mallory")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.True(t, capture.called, "inner handler must be called")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", capture.actor)
}

func TestAttribution_JWT_InvalidToken_Returns401(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{
			name:  "garbage",
			token: func(*testing.T) string { return "totally.invalid.token" },
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				tok, err := auth.IssueActorToken(testJWTSecret, "Alice", -time.Minute)
				require.NoError(t, err)
				return tok
			},
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				tok, err := auth.IssueActorToken("some-other-secret-entirely-different", "Alice", time.Minute)
				require.NoError(t, err)
				return tok
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			capture := &contextHandler{}
			handler := middleware.Attribution(testJWTSecret)(capture)

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", "Bearer "+tt.token(t))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.False(t, capture.called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "Unauthorized")
		})
	}
}

func TestAttribution_DisplayNameHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "plain", header: "Bob", want: "Bob"},
		{name: "trimmed", header: "  Bob  ", want: "Bob"},
		{name: "blank is anonymous", header: "   ", want: ""},
		{name: "truncated", header: strings.Repeat("é", 70), want: strings.Repeat("é", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			capture := &contextHandler{}
			handler := middleware.Attribution(testJWTSecret)(capture)

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set(middleware.HeaderDisplayName, tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.True(t, capture.called)
			assert.Equal(t, tt.want, capture.actor)
		})
	}
}

func TestAttribution_NoSecret_IgnoresBearer(t *testing.T) {
	t.Parallel()

	capture := &contextHandler{}
	handler := middleware.Attribution("")(capture)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer whatever")
	req.Header.Set(middleware.HeaderDisplayName, "Carol")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Carol", capture.actor)
}

func TestAttribution_NoCredentials_Anonymous(t *testing.T) {
	t.Parallel()

	capture := &contextHandler{}
	handler := middleware.Attribution(testJWTSecret)(capture)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, capture.called)
	assert.Empty(t, capture.actor)
}
