// Package view drives the NDGR view stream: the control stream that
// advertises live segment endpoints, the backward history entry point, and
// the continuation timestamp for the next slice.
package view

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/fetch"
	"github.com/Kocoro-lab/ndgr/internal/metrics"
	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

const (
	sliceAttempts   = 3
	sliceRetryDelay = time.Second
)

// errSinkDone aborts the current slice once the sink has what it wants.
var errSinkDone = errors.New("view: sink done")

// Sink receives the classified view entries of one driver run.
type Sink interface {
	// HandleSegment is called once per segment descriptor, in stream order.
	HandleSegment(seg *protocol.MessageSegment)
	// HandleBackward is called when the slice surfaces the history entry
	// point. Returning true stops the driver; the backward walker uses
	// this, the live path always returns false.
	HandleBackward(uri string) (done bool)
}

// Driver consumes one program's view endpoint in contiguous at= slices.
type Driver struct {
	session *fetch.Session
	logger  *zap.Logger
}

// NewDriver builds a Driver on the shared session.
func NewDriver(session *fetch.Session, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		session: session,
		logger:  logger.With(zap.String("component", "view")),
	}
}

// Run drives viewURI slice by slice. The first slice uses at=now; each
// following slice uses the ReadyForNext captured in the previous one. Run
// returns nil when a slice closes without a continuation (the server's way
// of saying the program is over) or when the sink reports done, and an
// error on cancellation, exhausted retries, or a protocol violation.
func (d *Driver) Run(ctx context.Context, viewURI string, sink Sink) error {
	at := "now"
	for {
		next, done, err := d.runSlice(ctx, viewURI, at, sink)
		if err != nil {
			metrics.ViewSlices.WithLabelValues("error").Inc()
			return err
		}
		metrics.ViewSlices.WithLabelValues("ok").Inc()
		if done {
			return nil
		}
		if next == 0 {
			d.logger.Info("view stream ended", zap.String("at", at))
			return nil
		}
		at = strconv.FormatInt(next, 10)
	}
}

// runSlice consumes one at= slice, retrying transport faults up to
// sliceAttempts with fixed spacing. Slice state (the captured Next) resets
// on every attempt so a retried slice cannot trip the duplicate check.
func (d *Driver) runSlice(ctx context.Context, viewURI, at string, sink Sink) (next int64, done bool, err error) {
	url := sliceURL(viewURI, at)
	for attempt := 1; ; attempt++ {
		next, done, err = d.consumeSlice(ctx, url, sink)
		if err == nil || !fetch.IsTransport(err) {
			return next, done, err
		}
		if attempt >= sliceAttempts {
			return 0, false, err
		}
		d.logger.Warn("view slice failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-time.After(sliceRetryDelay):
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	}
}

func (d *Driver) consumeSlice(ctx context.Context, url string, sink Sink) (next int64, done bool, err error) {
	var ready *protocol.ReadyForNext

	err = d.session.StreamOnce(ctx, url, func(msg []byte) error {
		entry, derr := protocol.DecodeChunkedEntry(msg)
		if derr != nil {
			return derr
		}
		switch {
		case entry.Next != nil:
			if ready != nil {
				return protocol.Violation("second ReadyForNext in one slice (%d then %d)", ready.At, entry.Next.At)
			}
			ready = entry.Next
		case entry.Segment != nil:
			if entry.Segment.URI != "" {
				sink.HandleSegment(entry.Segment)
			}
		case entry.Backward != nil:
			if entry.Backward.Segment != nil && entry.Backward.Segment.URI != "" {
				if sink.HandleBackward(entry.Backward.Segment.URI) {
					return errSinkDone
				}
			}
		default:
			// Unknown variant; skip.
		}
		return nil
	})

	if errors.Is(err, errSinkDone) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	if ready == nil {
		return 0, false, nil
	}
	return ready.At, false, nil
}

// sliceURL appends the at parameter to the view endpoint, which may or may
// not already carry a query string.
func sliceURL(viewURI, at string) string {
	sep := "?"
	if strings.Contains(viewURI, "?") {
		sep = "&"
	}
	return viewURI + sep + "at=" + at
}
