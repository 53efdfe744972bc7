package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/metrics"
	"github.com/Kocoro-lab/ndgr/internal/protostream"
)

const (
	// StreamAttempts is the transport retry budget for one Stream call.
	StreamAttempts = 5
	// StreamRetryDelay is the fixed spacing between attempts.
	StreamRetryDelay = 3 * time.Second

	streamReadBuffer = 16 << 10
)

// Stream opens a streaming GET on rawurl, frames the body with a fresh
// protostream.Reader, and invokes handle once per whole message, in order.
// It returns nil when the server closes the body normally. Transport faults
// are retried up to StreamAttempts with StreamRetryDelay spacing; a retried
// attempt restarts the stream from the beginning (delivery is at least
// once). Errors from handle and framing corruption are never retried.
func (s *Session) Stream(ctx context.Context, rawurl string, handle func([]byte) error) error {
	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(StreamRetryDelay), StreamAttempts-1),
		ctx,
	)
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.FetchRetries.WithLabelValues("stream").Inc()
			s.logger.Warn("retrying stream",
				zap.String("url", rawurl),
				zap.Int("attempt", attempt),
			)
		}
		err := s.StreamOnce(ctx, rawurl, handle)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsTransport(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// StreamOnce performs a single streaming attempt with no retry. The view
// driver uses this directly and applies its own slice retry budget.
func (s *Session) StreamOnce(ctx context.Context, rawurl string, handle func([]byte) error) error {
	br := s.breakerFor(rawurl)
	if err := br.allow(); err != nil {
		metrics.FetchAttempts.WithLabelValues("stream", "rejected").Inc()
		return &TransportError{URL: rawurl, Err: err}
	}

	err := s.streamOnce(ctx, rawurl, handle)
	br.report(err == nil || !IsTransport(err))
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("stream", "error").Inc()
		return err
	}
	metrics.FetchAttempts.WithLabelValues("stream", "ok").Inc()
	return nil
}

func (s *Session) streamOnce(ctx context.Context, rawurl string, handle func([]byte) error) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawurl, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.stream.Do(req)
	if err != nil {
		return &TransportError{URL: rawurl, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &TransportError{URL: rawurl, Status: resp.StatusCode}
	}

	// Watchdog: cancel the request when the body stays silent too long.
	idle := time.AfterFunc(s.readIdle, cancel)
	defer idle.Stop()

	reader := protostream.NewReader()
	buf := make([]byte, streamReadBuffer)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			idle.Reset(s.readIdle)
			reader.Append(buf[:n])
			for {
				msg, rerr := reader.Extract()
				if rerr != nil {
					// Framing corruption is fatal for the stream, not a
					// transport fault.
					return fmt.Errorf("framing on %s: %w", rawurl, rerr)
				}
				if msg == nil {
					break
				}
				if herr := handle(msg); herr != nil {
					return herr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Includes the watchdog firing: reqCtx cancelled while the
			// parent context is still live.
			return &TransportError{URL: rawurl, Err: err}
		}
	}
}
