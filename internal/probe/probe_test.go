package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/signalcheck/internal/check"
)

func fastConfig(retries int) check.ProbeConfig {
	return check.ProbeConfig{
		TimeoutTotal: 5 * time.Second,
		Retries:      retries,
		DelayMin:     time.Millisecond,
		Backoff:      1.5,
		DelayMax:     5 * time.Millisecond,
	}
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(fastConfig(2))
	defer c.Close()

	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestGetRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	c := New(fastConfig(5))
	defer c.Close()

	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetExhaustedRetriesIsTransportError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(fastConfig(2))
	defer c.Close()

	_, err := c.Get(context.Background(), srv.URL)
	var te *check.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.Status)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestGetConnectionFailureIsTransportError(t *testing.T) {
	c := New(fastConfig(1))
	defer c.Close()

	_, err := c.Get(context.Background(), "http://127.0.0.1:1/unreachable")
	var te *check.TransportError
	require.ErrorAs(t, err, &te)
	assert.NotNil(t, te.Cause)
}

func TestPostForwardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer srv.Close()

	c := New(fastConfig(1))
	defer c.Close()

	body, err := c.Post(context.Background(), srv.URL, []byte(`{"order":"o-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "created", string(body))
}

func TestBackoffStrategyClampsAtMax(t *testing.T) {
	cfg := check.ProbeConfig{
		DelayMin: 100 * time.Millisecond,
		Backoff:  2.0,
		DelayMax: 350 * time.Millisecond,
	}
	strategy := backoffStrategy(cfg)

	// No response means first attempt.
	d, err := strategy(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, d)
}
