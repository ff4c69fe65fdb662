package pokeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimm00/pokedex-sub002/internal/retry"
)

const pikachu = `{"id": 25, "name": "pikachu", "height": 4, "weight": 60}`

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func setupTestClient(tb testing.TB, server *httptest.Server) *Client {
	tb.Helper()
	return NewClient(Config{
		BaseURL:    server.URL,
		Timeout:    time.Second,
		Retry:      testPolicy(),
		HTTPClient: server.Client(),
	})
}

// setupMockServer passes the 1-based request number to handler.
func setupMockServer(tb testing.TB, handler func(w http.ResponseWriter, r *http.Request, n int32)) (*httptest.Server, *atomic.Int32) {
	tb.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, calls.Add(1))
	}))
	tb.Cleanup(server.Close)
	return server, &calls
}

func TestFetchSuccess(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		assert.Equal(t, "/pokemon/25", r.URL.Path)
		assert.Equal(t, "Pokedex-App/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("X-Rate-Limit-Remaining", "99")
		_, _ = w.Write([]byte(pikachu))
	})
	client := setupTestClient(t, server)

	payload, err := client.Fetch(t.Context(), 25)
	require.NoError(t, err)
	assert.Equal(t, "pikachu", payload["name"])
	assert.EqualValues(t, 1, calls.Load())

	stats := client.Stats()
	assert.EqualValues(t, 1, stats.Successes)
	assert.EqualValues(t, 99, stats.QuotaRemaining)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		http.NotFound(w, r)
	})
	client := setupTestClient(t, server)

	_, err := client.Fetch(t.Context(), 10001)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 10001, nf.ID)
	assert.EqualValues(t, 1, calls.Load(), "404 must not be retried")
	assert.EqualValues(t, 1, client.Stats().NotFound)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(pikachu))
	})
	client := setupTestClient(t, server)

	payload, err := client.Fetch(t.Context(), 25)
	require.NoError(t, err)
	assert.Equal(t, "pikachu", payload["name"])
	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 2, client.Stats().Retries)
}

func TestFetchTransientAfterRetriesExhausted(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client := setupTestClient(t, server)

	_, err := client.Fetch(t.Context(), 1)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, 3, te.Attempts)
	assert.EqualValues(t, 3, calls.Load())
	assert.EqualValues(t, 1, client.Stats().Failures)
}

func TestFetchRateLimitedIsRetried(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(pikachu))
	})
	client := setupTestClient(t, server)

	_, err := client.Fetch(t.Context(), 25)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchMalformedIsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"truncated json", `{"id": 25, "name": `},
		{"array document", `[1, 2, 3]`},
		{"null document", `null`},
		{"html error page", `<html>oops</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
				_, _ = w.Write([]byte(tt.body))
			})
			client := setupTestClient(t, server)

			_, err := client.Fetch(t.Context(), 25)

			var mr *MalformedResponseError
			require.ErrorAs(t, err, &mr)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestFetchUnexpectedClientError(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusForbidden)
	})
	client := setupTestClient(t, server)

	_, err := client.Fetch(t.Context(), 25)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchPerRequestTimeoutIsRetryable(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		if n == 1 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte(pikachu))
	})
	client := NewClient(Config{
		BaseURL:    server.URL,
		Timeout:    50 * time.Millisecond,
		Retry:      testPolicy(),
		HTTPClient: server.Client(),
	})

	payload, err := client.Fetch(t.Context(), 25)
	require.NoError(t, err)
	assert.Equal(t, "pikachu", payload["name"])
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchStopsRetryingWhenContextCancelled(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := NewClient(Config{
		BaseURL:    server.URL,
		Timeout:    time.Second,
		HTTPClient: server.Client(),
		Retry: retry.Policy{
			MaxAttempts:     5,
			InitialInterval: time.Second,
			MaxInterval:     time.Second,
			Multiplier:      1,
		},
	})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Fetch(ctx, 25)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, calls.Load())
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestFetchInFlightAttemptSurvivesCancellation(t *testing.T) {
	release := make(chan struct{})
	server, _ := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		<-release
		_, _ = w.Write([]byte(pikachu))
	})
	client := setupTestClient(t, server)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	payload, err := client.Fetch(ctx, 25)
	require.NoError(t, err, "an attempt already on the wire should complete")
	assert.Equal(t, "pikachu", payload["name"])
}

func TestFetchRejectsInvalidID(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Fetch(t.Context(), 0)
	require.Error(t, err)
}

func TestFetchNetworkErrorWithMockTransport(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://pokeapi.test/api/v2/pokemon/7",
		httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	client := NewClient(Config{
		BaseURL:    "https://pokeapi.test/api/v2",
		Retry:      testPolicy(),
		HTTPClient: &http.Client{Transport: transport},
	})

	_, err := client.Fetch(t.Context(), 7)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestFetchRetryAfterIsCappedWithMockTransport(t *testing.T) {
	transport := httpmock.NewMockTransport()
	url := "https://pokeapi.test/api/v2/pokemon/1"

	limited := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
	limited.Header.Set("Retry-After", "30")
	transport.RegisterResponder(http.MethodGet, url,
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			limited,
			httpmock.NewStringResponse(http.StatusOK, `{"id": 1, "name": "bulbasaur"}`),
		}))

	policy := testPolicy()
	policy.MaxInterval = 20 * time.Millisecond
	client := NewClient(Config{
		BaseURL:    "https://pokeapi.test/api/v2",
		Retry:      policy,
		HTTPClient: &http.Client{Transport: transport},
	})

	start := time.Now()
	payload, err := client.Fetch(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, "bulbasaur", payload["name"])
	assert.Equal(t, 2, transport.GetCallCountInfo()["GET "+url])
	assert.Less(t, time.Since(start), time.Second, "Retry-After must not exceed the policy's max interval")
}

func TestRetryAfterParsing(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, retryAfter(h))

	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Zero(t, retryAfter(h))
}

func TestFetchLimiterWaitEndsWithContext(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		_, _ = w.Write([]byte(pikachu))
	})
	client := NewClient(Config{
		BaseURL:    server.URL,
		Timeout:    time.Second,
		RateLimit:  1,
		Retry:      testPolicy(),
		HTTPClient: server.Client(),
	})

	// first request takes the only token
	_, err := client.Fetch(t.Context(), 25)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = client.Fetch(ctx, 25)

	var ns *NotSentError
	require.ErrorAs(t, err, &ns)
	assert.Equal(t, 25, ns.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "limiter wait should last until the deadline")
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, client.Stats().Failures)
}

func TestFetchLimiterWaitOnRetryKeepsTransientError(t *testing.T) {
	server, calls := setupMockServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := NewClient(Config{
		BaseURL:    server.URL,
		Timeout:    time.Second,
		RateLimit:  2,
		Retry:      testPolicy(),
		HTTPClient: server.Client(),
	})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, 25)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, client.Stats().Failures)
}
