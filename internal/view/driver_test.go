package view

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/ndgr/internal/fetch"
	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

type recordingSink struct {
	segments       []string
	backwards      []string
	stopOnBackward bool
}

func (r *recordingSink) HandleSegment(seg *protocol.MessageSegment) {
	r.segments = append(r.segments, seg.URI)
}

func (r *recordingSink) HandleBackward(uri string) bool {
	r.backwards = append(r.backwards, uri)
	return r.stopOnBackward
}

func writeEntries(w http.ResponseWriter, entries ...*protocol.ChunkedEntry) {
	for _, e := range entries {
		payload := protocol.MarshalChunkedEntry(e)
		w.Write(binary.AppendUvarint(nil, uint64(len(payload))))
		w.Write(payload)
	}
}

func segmentEntry(uri string, from, until int64) *protocol.ChunkedEntry {
	return &protocol.ChunkedEntry{
		Segment: &protocol.MessageSegment{
			From:  &protocol.Timestamp{Seconds: from},
			Until: &protocol.Timestamp{Seconds: until},
			URI:   uri,
		},
	}
}

func nextEntry(at int64) *protocol.ChunkedEntry {
	return &protocol.ChunkedEntry{Next: &protocol.ReadyForNext{At: at}}
}

func backwardEntry(uri string) *protocol.ChunkedEntry {
	return &protocol.ChunkedEntry{
		Backward: &protocol.BackwardSegment{Segment: &protocol.SegmentRef{URI: uri}},
	}
}

func TestRunFollowsSlicesUntilNoNext(t *testing.T) {
	var slices []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		at := r.URL.Query().Get("at")
		slices = append(slices, at)
		switch at {
		case "now":
			writeEntries(w, segmentEntry("https://seg/s1", 1700000084, 1700000100), nextEntry(1700000100))
		case "1700000100":
			writeEntries(w, segmentEntry("https://seg/s2", 1700000100, 1700000116), nextEntry(1700000132))
		case "1700000132":
			// Closes without a continuation: program over.
		default:
			t.Errorf("unexpected slice at=%q", at)
		}
	}))
	defer srv.Close()

	sink := &recordingSink{}
	d := NewDriver(fetch.NewSession(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	err := d.Run(context.Background(), srv.URL, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"now", "1700000100", "1700000132"}, slices)
	assert.Equal(t, []string{"https://seg/s1", "https://seg/s2"}, sink.segments)
	assert.Empty(t, sink.backwards)
}

func TestRunDuplicateNextIsViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEntries(w, nextEntry(100), nextEntry(200))
	}))
	defer srv.Close()

	d := NewDriver(fetch.NewSession(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	err := d.Run(context.Background(), srv.URL, &recordingSink{})
	require.Error(t, err)
	assert.True(t, protocol.IsViolation(err), "want protocol violation, got %v", err)
}

func TestRunNextThenBackwardBothObserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEntries(w,
			nextEntry(1700000100),
			backwardEntry("https://backward/b0"),
			segmentEntry("https://seg/after-backward", 0, 0),
		)
	}))
	defer srv.Close()

	sink := &recordingSink{stopOnBackward: true}
	d := NewDriver(fetch.NewSession(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	err := d.Run(context.Background(), srv.URL, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://backward/b0"}, sink.backwards)
	// Backward preempts the rest of the slice.
	assert.Empty(t, sink.segments)
}

func TestRunLiveSinkIgnoresBackwardAndContinues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("at") {
		case "now":
			writeEntries(w, backwardEntry("https://backward/b0"), segmentEntry("https://seg/s1", 0, 0), nextEntry(7))
		default:
			// at=7 closes without Next.
		}
	}))
	defer srv.Close()

	sink := &recordingSink{}
	d := NewDriver(fetch.NewSession(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	require.NoError(t, d.Run(context.Background(), srv.URL, sink))
	assert.Equal(t, []string{"https://backward/b0"}, sink.backwards)
	assert.Equal(t, []string{"https://seg/s1"}, sink.segments)
}

func TestRunRetriesFailedSlice(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEntries(w, segmentEntry("https://seg/s1", 0, 0))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	d := NewDriver(fetch.NewSession(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	require.NoError(t, d.Run(context.Background(), srv.URL, sink))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"https://seg/s1"}, sink.segments)
}

func TestRunCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEntries(w, segmentEntry("https://seg/s1", 0, 0))
		http.NewResponseController(w).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDriver(fetch.NewSession(zaptest.NewLogger(t)), zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, srv.URL, &recordingSink{}) }()
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSliceURL(t *testing.T) {
	assert.Equal(t, "https://v/view?at=now", sliceURL("https://v/view", "now"))
	assert.Equal(t, "https://v/view?k=1&at=now", sliceURL("https://v/view?k=1", "now"))
}
