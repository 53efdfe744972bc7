package ndgr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/metrics"
	"github.com/Kocoro-lab/ndgr/internal/view"
)

// monitorGrace offsets the program monitor past the wall-clock minute:
// channel programs roll over on minute boundaries, and the extra seconds
// let the watch page catch up before it is asked.
const monitorGrace = 5 * time.Second

// CommentStream is a live comment feed. Comments() closes when the feed
// is over, after which Err() reports why: nil for a natural end of
// program, the context error for cancellation, or the fault that stopped
// the feed.
type CommentStream struct {
	comments chan Comment

	mu  sync.Mutex
	err error
}

// Comments returns the delivery channel. Within one segment, comments
// arrive in fabric order; the channel closes exactly once.
func (s *CommentStream) Comments() <-chan Comment { return s.comments }

// Err reports why the feed ended. Valid only after Comments() is closed.
func (s *CommentStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *CommentStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// StreamComments starts streaming live comments for handle. A channel
// handle follows the channel across program handoffs; a program handle
// streams that one program to its end. A program that is already over
// returns ErrProgramEnded up front (use DownloadBackwardComments for
// history).
func (c *Client) StreamComments(ctx context.Context, handle string) (*CommentStream, error) {
	ctx, span := c.tracer.Start(ctx, "ndgr.StreamComments")
	defer span.End()

	resolved, err := resolveHandle(handle)
	if err != nil {
		return nil, err
	}
	info, err := c.ResolveProgram(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if info.Ended() {
		return nil, ErrProgramEnded
	}

	s := &CommentStream{comments: make(chan Comment, c.queueSize)}
	go c.supervise(ctx, resolved, info, s)
	return s, nil
}

// supervise runs programs back to back until the feed ends. Each handoff
// finishes the outgoing program's segments before the successor starts,
// so no comment of the old program is lost to the transition.
func (c *Client) supervise(ctx context.Context, handle string, info *ProgramInfo, s *CommentStream) {
	defer close(s.comments)
	log := c.logger.With(zap.String("op", opID()), zap.String("handle", handle))

	for {
		successor, err := c.runProgram(ctx, handle, info, s.comments, log)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				s.setErr(ctx.Err())
			} else {
				s.setErr(err)
			}
			return
		case successor == nil:
			log.Info("program ended", zap.String("program", info.ID))
			return
		}
		metrics.Handoffs.Inc()
		log.Info("program handoff",
			zap.String("from", info.ID), zap.String("to", successor.ID))
		info = successor
	}
}

// runProgram streams one program. It returns (nil, nil) when the feed is
// over, (successor, nil) when a channel-bound handle should continue on a
// new program, or the error that stopped it.
func (c *Client) runProgram(ctx context.Context, handle string, info *ProgramInfo, out chan<- Comment, log *zap.Logger) (*ProgramInfo, error) {
	viewURI, err := c.fetchViewURI(ctx, info.WebSocketURL)
	if err != nil {
		return nil, err
	}
	log.Info("view stream resolved", zap.String("program", info.ID))

	// The driver gets its own context so a handoff can stop the view
	// stream while segment workers finish their in-flight segments.
	driverCtx, stopDriver := context.WithCancel(ctx)
	defer stopDriver()

	pool := newSegmentPool(ctx, c.session, log, out)
	driver := view.NewDriver(c.session, c.logger)

	driverDone := make(chan error, 1)
	go func() { driverDone <- driver.Run(driverCtx, viewURI, pool) }()

	restart := make(chan *ProgramInfo, 1)
	ended := make(chan struct{})
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go c.monitorProgram(monitorCtx, handle, info.ID, restart, ended)

	var successor *ProgramInfo
	select {
	case err = <-driverDone:
		if err == nil && channelBound(handle) {
			// The view stream can end before the monitor notices a
			// handoff; check for a successor before declaring the feed
			// over.
			successor = c.successorProgram(ctx, handle, info.ID)
		}
	case successor = <-restart:
		stopDriver()
		<-driverDone
		err = nil
	case <-ended:
		stopDriver()
		<-driverDone
		err = nil
	}

	// The outgoing program's workers always finish their in-flight
	// segments before control moves on, so a handoff loses nothing. Only
	// caller cancellation cuts them short: they observe the context and
	// stop sending.
	pool.wait()

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return successor, nil
}

// nextMinuteWake is the production monitor cadence: the delay until
// monitorGrace past the next wall-clock minute.
func nextMinuteWake() time.Duration {
	now := time.Now()
	return now.Truncate(time.Minute).Add(time.Minute + monitorGrace).Sub(now)
}

// monitorProgram polls the watch page on the client's monitor cadence
// (shortly after each wall-clock minute in production). For a
// channel-bound handle it reports the successor program; for a fixed
// program it reports the end of that program. Transient resolve failures
// are skipped, the next poll retries.
func (c *Client) monitorProgram(ctx context.Context, handle, currentID string, restart chan<- *ProgramInfo, ended chan<- struct{}) {
	for {
		timer := time.NewTimer(c.monitorDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		info, err := c.ResolveProgram(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("program monitor resolve failed", zap.Error(err))
			continue
		}
		if channelBound(handle) {
			if info.ID != currentID && !info.Ended() {
				select {
				case restart <- info:
				case <-ctx.Done():
				}
				return
			}
			continue
		}
		if info.Ended() {
			select {
			case ended <- struct{}{}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// successorProgram re-resolves a channel handle after its view stream
// ended and returns the channel's next program, if one is already live.
func (c *Client) successorProgram(ctx context.Context, handle, endedID string) *ProgramInfo {
	info, err := c.ResolveProgram(ctx, handle)
	if err != nil || info.ID == endedID || info.Ended() {
		return nil
	}
	return info
}
