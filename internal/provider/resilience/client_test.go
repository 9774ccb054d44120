package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/provider/resilience"
)

func fastConfig(name string) resilience.ClientConfig {
	return resilience.ClientConfig{
		Name:            name,
		Timeout:         2 * time.Second,
		MaxRetries:      4,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Breaker:         resilience.BreakerConfig{MinRequests: 100},
		Logger:          zerolog.Nop(),
	}
}

func TestClient_GetReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("feed-bytes"))
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("feed")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	body, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "feed-bytes", string(body))

	health := registry.Health()
	require.Len(t, health, 1)
	assert.True(t, health[0].Healthy())
	assert.NotNil(t, health[0].LastSuccessAt)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("retry"))

	body, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_ClientErrorsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("missing")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)

	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
	assert.NotEmpty(t, registry.Health()[0].LastError)
}

func TestClient_BreakerOpensAndFailsFast(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig("flaky")
	cfg.MaxRetries = 1
	cfg.Breaker = resilience.BreakerConfig{MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute}
	client := resilience.NewClient(cfg)

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	seen := attempts.Load()

	_, err = client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, seen, attempts.Load(), "open breaker must not reach the server")
}

func TestClient_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	cfg := fastConfig("large")
	cfg.MaxBodyBytes = 1024
	client := resilience.NewClient(cfg)

	_, err := client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, resilience.ErrBodyTooLarge)
}

func TestStatusError_Temporary(t *testing.T) {
	assert.True(t, (&resilience.StatusError{StatusCode: http.StatusInternalServerError}).Temporary())
	assert.True(t, (&resilience.StatusError{StatusCode: http.StatusTooManyRequests}).Temporary())
	assert.False(t, (&resilience.StatusError{StatusCode: http.StatusForbidden}).Temporary())
}
