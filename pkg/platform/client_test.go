package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := NewHTTPClient(3, time.Second)
	c.Backoff = time.Millisecond

	body, err := c.Get(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewHTTPClient(3, time.Second)
	c.Backoff = time.Millisecond

	_, err := c.Get(context.Background(), ts.URL)
	assert.ErrorContains(t, err, "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPClientGivesUp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewHTTPClient(1, time.Second)
	c.Backoff = time.Millisecond

	_, err := c.Get(context.Background(), ts.URL)
	assert.ErrorContains(t, err, "after 1 retries")
}
