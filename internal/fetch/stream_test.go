package fetch

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func frame(payload []byte) []byte {
	out := binary.AppendUvarint(nil, uint64(len(payload)))
	return append(out, payload...)
}

func TestStreamDecodesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := http.NewResponseController(w)
		w.Write(frame([]byte("one")))
		f.Flush()
		w.Write(frame([]byte("two")))
		w.Write(frame([]byte("three")))
	}))
	defer srv.Close()

	s := NewSession(zaptest.NewLogger(t))
	var got []string
	err := s.Stream(context.Background(), srv.URL, func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestStreamRetriesTransportFaults(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(frame([]byte("ok")))
	}))
	defer srv.Close()

	s := NewSession(zaptest.NewLogger(t))
	// Shrink the spacing so the test stays fast; the budget shape is what
	// matters here.
	done := make(chan error, 1)
	go func() {
		done <- s.Stream(context.Background(), srv.URL, func([]byte) error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * StreamRetryDelay):
		t.Fatal("stream did not finish within the retry budget")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestStreamSurfacesAfterBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSession(zaptest.NewLogger(t))
	err := s.Stream(context.Background(), srv.URL, func([]byte) error { return nil })
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	// Breaker opens at its threshold, so at least the first attempts hit
	// the wire even if the tail was short-circuited.
	assert.GreaterOrEqual(t, calls.Load(), int32(breakerFailureThreshold))
}

func TestStreamHandlerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(frame([]byte("payload")))
	}))
	defer srv.Close()

	s := NewSession(zaptest.NewLogger(t))
	sentinel := assert.AnError
	err := s.Stream(context.Background(), srv.URL, func([]byte) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStreamOnceIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(frame([]byte("first")))
		http.NewResponseController(w).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := NewSession(zaptest.NewLogger(t))
	s.SetReadIdleTimeout(100 * time.Millisecond)

	var got []string
	start := time.Now()
	err := s.StreamOnce(context.Background(), srv.URL, func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsTransport(err), "idle timeout must surface as a transport fault, got %v", err)
	assert.Equal(t, []string{"first"}, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStreamOnceCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(frame([]byte("first")))
		http.NewResponseController(w).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() {
		done <- s.StreamOnce(ctx, srv.URL, func([]byte) error { return nil })
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation was not observed")
	}
}

func TestGetSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewSession(zaptest.NewLogger(t))
	_, err := s.Get(context.Background(), srv.URL)
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.Status)
}
