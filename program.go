package ndgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

// ProgramStatus is the program lifecycle phase as reported by the watch
// page.
type ProgramStatus string

const (
	StatusBeforeRelease ProgramStatus = "BEFORE_RELEASE"
	StatusOnAir         ProgramStatus = "ON_AIR"
	StatusEnded         ProgramStatus = "ENDED"
)

// ProgramInfo is the resolved snapshot of one program.
type ProgramInfo struct {
	ID          string // program identifier, "lv..." form
	Title       string
	Description string
	Status      ProgramStatus

	OpenTime         time.Time
	BeginTime        time.Time
	VposBaseTime     time.Time
	EndTime          time.Time
	ScheduledEndTime time.Time

	// WebSocketURL is the watch session endpoint that yields the View
	// stream URI. Empty for an ended program whose timeshift is gone.
	WebSocketURL string
}

// Ended reports whether the program is over.
func (p *ProgramInfo) Ended() bool { return p.Status == StatusEnded }

// staleHandleGrace is how long after a program's end time the watch page
// is still trusted to name the channel's current program. Past it, a
// channel-bound resolve re-checks the channel's live page for a newer
// program.
const staleHandleGrace = 300 * time.Second

// embeddedProps mirrors the slice of the watch page's embedded JSON that
// the client needs.
type embeddedProps struct {
	Program struct {
		NicoliveProgramID string `json:"nicoliveProgramId"`
		Title             string `json:"title"`
		Description       string `json:"description"`
		Status            string `json:"status"`
		OpenTime          int64  `json:"openTime"`
		BeginTime         int64  `json:"beginTime"`
		VposBaseTime      int64  `json:"vposBaseTime"`
		EndTime           int64  `json:"endTime"`
		ScheduledEndTime  int64  `json:"scheduledEndTime"`
		Timeshift         struct {
			Enabled bool `json:"enabled"`
		} `json:"timeshift"`
	} `json:"program"`
	Site struct {
		Relive struct {
			WebSocketURL string `json:"webSocketUrl"`
		} `json:"relive"`
	} `json:"site"`
}

// ResolveProgram resolves a handle (program id, channel handle, or alias)
// to the program it currently names. For a channel-bound handle that the
// watch page answers with a long-ended program, the channel's live page
// is consulted for a successor. For an ended program with timeshift, the
// reservation is activated so the WebSocket URL becomes usable; that path
// requires a logged-in session.
func (c *Client) ResolveProgram(ctx context.Context, handle string) (*ProgramInfo, error) {
	ctx, span := c.tracer.Start(ctx, "ndgr.ResolveProgram")
	defer span.End()

	resolved, err := resolveHandle(handle)
	if err != nil {
		return nil, err
	}
	log := c.logger.With(zap.String("op", opID()), zap.String("handle", resolved))

	info, err := c.fetchWatchPage(ctx, resolved)
	if err != nil {
		return nil, err
	}

	// A channel handle answered with a program that ended a while ago
	// usually means the page is cached; the channel's live page is the
	// authority for its current program.
	if channelBound(resolved) && info.Ended() && !info.EndTime.IsZero() &&
		time.Since(info.EndTime) > staleHandleGrace {
		if successor := c.currentChannelProgram(ctx, resolved); successor != "" && successor != info.ID {
			log.Info("stale channel page, following successor",
				zap.String("stale", info.ID), zap.String("successor", successor))
			if fresh, err := c.fetchWatchPage(ctx, successor); err == nil {
				info = fresh
			}
		}
	}

	if info.Ended() && info.WebSocketURL == "" {
		if err := c.activateTimeshift(ctx, info, log); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// fetchWatchPage loads a watch page and decodes its embedded program
// JSON.
func (c *Client) fetchWatchPage(ctx context.Context, handle string) (*ProgramInfo, error) {
	doc, err := c.session.GetDocument(ctx, c.watchBase+"/watch/"+handle)
	if err != nil {
		return nil, err
	}
	raw, ok := doc.Find("#embedded-data").Attr("data-props")
	if !ok {
		return nil, protocol.Violation("watch page for %s has no embedded data", handle)
	}
	var props embeddedProps
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, protocol.Violation("watch page for %s: malformed embedded data: %v", handle, err)
	}
	if props.Program.NicoliveProgramID == "" {
		return nil, protocol.Violation("watch page for %s names no program", handle)
	}

	epoch := func(sec int64) time.Time {
		if sec == 0 {
			return time.Time{}
		}
		return time.Unix(sec, 0)
	}
	return &ProgramInfo{
		ID:               props.Program.NicoliveProgramID,
		Title:            props.Program.Title,
		Description:      props.Program.Description,
		Status:           ProgramStatus(props.Program.Status),
		OpenTime:         epoch(props.Program.OpenTime),
		BeginTime:        epoch(props.Program.BeginTime),
		VposBaseTime:     epoch(props.Program.VposBaseTime),
		EndTime:          epoch(props.Program.EndTime),
		ScheduledEndTime: epoch(props.Program.ScheduledEndTime),
		WebSocketURL:     props.Site.Relive.WebSocketURL,
	}, nil
}

var livePageProgram = regexp.MustCompile(`/watch/(lv[0-9]+)`)

// currentChannelProgram asks the channel's live page for the program it
// is broadcasting right now. Errors are swallowed: this is a fallback,
// and the already-fetched program stays authoritative on failure.
func (c *Client) currentChannelProgram(ctx context.Context, channel string) string {
	doc, err := c.session.GetDocument(ctx, c.channelBase+"/"+channel+"/live")
	if err != nil {
		return ""
	}
	href, ok := doc.Find("#live_now a[href]").First().Attr("href")
	if !ok {
		return ""
	}
	m := livePageProgram.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

// activateTimeshift claims and activates the timeshift reservation for an
// ended program, then refetches the watch page so the WebSocket URL
// reflects the activated session.
func (c *Client) activateTimeshift(ctx context.Context, info *ProgramInfo, log *zap.Logger) error {
	if !c.loggedIn {
		return ErrNoCredentials
	}

	reservationURL := c.watchBase + "/api/v2/programs/" + info.ID + "/timeshift/reservation"
	header := http.Header{}
	header.Set("x-frontend-id", "9")

	status, _, body, err := c.session.Request(ctx, http.MethodPost, reservationURL, header, nil)
	if err != nil {
		return fmt.Errorf("reserve timeshift: %w", err)
	}
	// DUPLICATED just means the reservation already exists.
	if status >= 400 && !strings.Contains(string(body), "DUPLICATED") {
		return protocol.Violation("timeshift reservation for %s refused: status %d", info.ID, status)
	}

	status, _, body, err = c.session.Request(ctx, http.MethodPatch, reservationURL, header, nil)
	if err != nil {
		return fmt.Errorf("activate timeshift: %w", err)
	}
	if status >= 400 && !strings.Contains(string(body), "DUPLICATED") {
		return protocol.Violation("timeshift activation for %s refused: status %d", info.ID, status)
	}
	log.Info("timeshift activated", zap.String("program", info.ID))

	fresh, err := c.fetchWatchPage(ctx, info.ID)
	if err != nil {
		return err
	}
	if fresh.WebSocketURL == "" {
		return protocol.Violation("program %s yields no watch session after timeshift activation", info.ID)
	}
	*info = *fresh
	return nil
}
