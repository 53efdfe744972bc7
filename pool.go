package ndgr

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/fetch"
	"github.com/Kocoro-lab/ndgr/internal/metrics"
	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

// segmentPool runs one worker per announced segment, each draining the
// segment's message stream into the shared output channel. It is the view
// driver's sink for a live stream.
//
// The fabric re-announces a segment on every view slice that overlaps it,
// so workers are keyed by URI: the first announcement starts the worker,
// repeats are ignored while it runs. Once a worker finishes its key is
// forgotten, which keeps the set bounded over a long program.
type segmentPool struct {
	ctx     context.Context
	session *fetch.Session
	logger  *zap.Logger
	out     chan<- Comment

	mu   sync.Mutex
	seen map[string]struct{}
	wg   sync.WaitGroup
}

func newSegmentPool(ctx context.Context, session *fetch.Session, logger *zap.Logger, out chan<- Comment) *segmentPool {
	return &segmentPool{
		ctx:     ctx,
		session: session,
		logger:  logger,
		out:     out,
		seen:    make(map[string]struct{}),
	}
}

// HandleSegment starts a worker for a segment not already being drained.
func (p *segmentPool) HandleSegment(seg *protocol.MessageSegment) {
	uri := seg.URI
	if uri == "" {
		return
	}
	p.mu.Lock()
	if _, dup := p.seen[uri]; dup {
		p.mu.Unlock()
		return
	}
	p.seen[uri] = struct{}{}
	p.mu.Unlock()

	metrics.SegmentWorkersStarted.Inc()
	metrics.SegmentWorkersActive.Inc()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer metrics.SegmentWorkersActive.Dec()
		defer p.retire(uri)
		p.drain(uri)
	}()
}

// HandleBackward is a no-op for live streaming: the pool only moves
// forward. Returning false keeps the view driver going.
func (p *segmentPool) HandleBackward(string) bool { return false }

func (p *segmentPool) retire(uri string) {
	p.mu.Lock()
	delete(p.seen, uri)
	p.mu.Unlock()
}

// drain streams one segment to completion. A segment stream that fails
// after its retry budget is retired quietly: comments already delivered
// stay delivered, and the program keeps flowing from the other segments.
func (p *segmentPool) drain(uri string) {
	err := p.session.Stream(p.ctx, uri, func(frame []byte) error {
		msg, err := protocol.DecodeChunkedMessage(frame)
		if err != nil {
			return err
		}
		comment, ok := commentFromWire(msg)
		if !ok {
			return nil
		}
		select {
		case p.out <- comment:
			metrics.CommentsDelivered.WithLabelValues("live").Inc()
			return nil
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	})
	if err != nil && p.ctx.Err() == nil {
		p.logger.Warn("segment worker retired on error",
			zap.String("segment", uri), zap.Error(err))
	}
}

// wait blocks until every worker has finished.
func (p *segmentPool) wait() { p.wg.Wait() }
