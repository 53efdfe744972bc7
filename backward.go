package ndgr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/ndgr/internal/metrics"
	"github.com/Kocoro-lab/ndgr/internal/protocol"
	"github.com/Kocoro-lab/ndgr/internal/view"
)

// backwardPace spaces the packed-segment fetches; the walk is bursty by
// nature and the fabric rate-limits aggressive readers.
var backwardPace = rate.Every(10 * time.Millisecond)

// backwardProbe is the view sink for a backward download: it records the
// first backward pointer and stops the driver there.
type backwardProbe struct {
	uri string
}

func (b *backwardProbe) HandleSegment(*protocol.MessageSegment) {}

func (b *backwardProbe) HandleBackward(uri string) bool {
	b.uri = uri
	return true
}

// DownloadBackwardComments fetches the full comment history of a program,
// oldest first. It works for live and ended programs alike; an ended
// program needs an activated timeshift, which ResolveProgram arranges for
// a logged-in session.
func (c *Client) DownloadBackwardComments(ctx context.Context, handle string) ([]Comment, error) {
	ctx, span := c.tracer.Start(ctx, "ndgr.DownloadBackwardComments")
	defer span.End()

	resolved, err := resolveHandle(handle)
	if err != nil {
		return nil, err
	}
	info, err := c.ResolveProgram(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return c.downloadBackward(ctx, info)
}

func (c *Client) downloadBackward(ctx context.Context, info *ProgramInfo) ([]Comment, error) {
	log := c.logger.With(zap.String("op", opID()), zap.String("program", info.ID))

	viewURI, err := c.fetchViewURI(ctx, info.WebSocketURL)
	if err != nil {
		return nil, err
	}

	probe := &backwardProbe{}
	driver := view.NewDriver(c.session, c.logger)
	if err := driver.Run(ctx, viewURI, probe); err != nil {
		return nil, err
	}
	// A program with no comments yet announces no backward pointer.
	if probe.uri == "" {
		return []Comment{}, nil
	}

	limiter := rate.NewLimiter(backwardPace, 1)
	var comments []Comment
	for uri := probe.uri; uri != ""; {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.session.Get(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("fetch packed segment: %w", err)
		}
		packed, err := protocol.DecodePackedSegment(body)
		if err != nil {
			return nil, err
		}
		metrics.BackwardBatches.Inc()

		batch := make([]Comment, 0, len(packed.Messages))
		for _, msg := range packed.Messages {
			if comment, ok := commentFromWire(msg); ok {
				metrics.CommentsDelivered.WithLabelValues("backward").Inc()
				batch = append(batch, comment)
			}
		}
		// The walk runs newest batch to oldest; each batch is prepended
		// so the result reads oldest first.
		comments = append(batch, comments...)

		if packed.Next == nil {
			break
		}
		uri = packed.Next.URI
	}

	log.Info("backward download complete", zap.Int("comments", len(comments)))
	return comments, nil
}
