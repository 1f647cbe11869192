package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podflow/internal/types"
)

func newTestBreaker() *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "test",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

func newTestClient(serverURL string) *Client {
	return NewClientWithBreaker(&http.Client{Timeout: 2 * time.Second}, newTestBreaker(), serverURL, "tok_test")
}

func TestClient_Like_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Like(context.Background(), "post_1", "cred_1")
	require.NoError(t, err)

	assert.Equal(t, "/v1/posts/post_1/likes", gotPath)
	assert.Equal(t, "Bearer tok_test", gotAuth)
	assert.Equal(t, "cred_1", gotBody["account_id"])
}

func TestClient_Comment_SendsText(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Comment(context.Background(), "post_1", "cred_1", "great insights")
	require.NoError(t, err)
	assert.Equal(t, "great insights", gotBody["text"])
}

func TestClient_StatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"throttled", http.StatusTooManyRequests, types.ErrCodeRateLimit, true},
		{"unauthorized", http.StatusUnauthorized, types.ErrCodeAuthError, false},
		{"forbidden", http.StatusForbidden, types.ErrCodeAuthError, false},
		{"post deleted", http.StatusNotFound, types.ErrCodeNotFound, false},
		{"bad request", http.StatusBadRequest, types.ErrCodeValidation, false},
		{"unprocessable", http.StatusUnprocessableEntity, types.ErrCodeValidation, false},
		{"server error", http.StatusInternalServerError, types.ErrCodeNetworkError, true},
		{"bad gateway", http.StatusBadGateway, types.ErrCodeNetworkError, true},
		{"teapot", http.StatusTeapot, types.ErrCodeUnknown, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL)
			err := c.Like(context.Background(), "post_1", "cred_1")
			require.Error(t, err)

			code := types.ClassifyError(err)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.retryable, code.Retryable())
		})
	}
}

func TestClient_RateLimit_IncludesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Like(context.Background(), "post_1", "cred_1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "120"), "error should carry Retry-After hint: %v", err)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClientWithBreaker(&http.Client{Timeout: 20 * time.Millisecond}, newTestBreaker(), srv.URL, "tok")
	err := c.Like(context.Background(), "post_1", "cred_1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeTimeout, types.ClassifyError(err))
}

func TestClient_NetworkError(t *testing.T) {
	// Point at a closed port.
	c := newTestClient("http://127.0.0.1:1")
	err := c.Like(context.Background(), "post_1", "cred_1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNetworkError, types.ClassifyError(err))
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 6; i++ {
		_ = c.Like(context.Background(), "post_1", "cred_1")
	}

	// Breaker is now open; failures map to network_error without reaching
	// the server.
	err := c.Like(context.Background(), "post_1", "cred_1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNetworkError, types.ClassifyError(err))
	assert.Contains(t, err.Error(), "circuit breaker")
}
