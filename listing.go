package ndgr

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ProgramListing is one entry of a channel's program history.
type ProgramListing struct {
	ID      string
	Title   string
	BeginAt time.Time
	EndAt   time.Time
}

type casProgramPage struct {
	Meta struct {
		Status int `json:"status"`
	} `json:"meta"`
	Data []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		OnAirTime struct {
			BeginAt time.Time `json:"beginAt"`
			EndAt   time.Time `json:"endAt"`
		} `json:"onAirTime"`
		Timeshift struct {
			Enabled bool `json:"enabled"`
		} `json:"timeshift"`
	} `json:"data"`
}

// ListProgramsOn lists the programs a channel broadcast on the given
// calendar day (in day's own location), ascending by start time. Programs
// whose timeshift is disabled are omitted since nothing can be downloaded
// from them.
func (c *Client) ListProgramsOn(ctx context.Context, handle string, day time.Time) ([]ProgramListing, error) {
	ctx, span := c.tracer.Start(ctx, "ndgr.ListProgramsOn")
	defer span.End()

	resolved, err := resolveHandle(handle)
	if err != nil {
		return nil, err
	}
	if IsProgramHandle(resolved) {
		return nil, fmt.Errorf("%w: %q names a program, not a channel", ErrInvalidHandle, handle)
	}
	channelID := strings.TrimPrefix(resolved, channelHandlePrefix)

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	q := url.Values{}
	q.Set("channelId", channelID)
	q.Set("liveStatus", "past")
	q.Set("limit", "100")

	var page casProgramPage
	listURL := c.casBase + "/v2/search/programs.json?" + q.Encode()
	if err := c.session.GetJSON(ctx, listURL, &page); err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	// The CAS envelope carries its own status besides the HTTP one.
	if page.Meta.Status != 200 {
		return nil, fmt.Errorf("list programs: meta status %d", page.Meta.Status)
	}

	var out []ProgramListing
	for _, p := range page.Data {
		if !p.Timeshift.Enabled {
			continue
		}
		// Keep any program whose on-air window overlaps the day.
		if !p.OnAirTime.BeginAt.Before(dayEnd) || !p.OnAirTime.EndAt.After(dayStart) {
			continue
		}
		out = append(out, ProgramListing{
			ID:      p.ID,
			Title:   p.Title,
			BeginAt: p.OnAirTime.BeginAt,
			EndAt:   p.OnAirTime.EndAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BeginAt.Before(out[j].BeginAt) })
	return out, nil
}
