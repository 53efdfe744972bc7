package ndgr

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

// Handle prefixes. A program identifier is stable per program; a channel
// handle (or a short alias that resolves to one) follows the channel's
// current program across handoffs.
const (
	programHandlePrefix = "lv"
	channelHandlePrefix = "ch"
)

var handleDigits = regexp.MustCompile(`^[a-z]+[0-9]+$`)

// IsProgramHandle reports whether handle names one fixed program.
func IsProgramHandle(handle string) bool {
	return strings.HasPrefix(handle, programHandlePrefix) && handleDigits.MatchString(handle)
}

func isChannelHandle(handle string) bool {
	return strings.HasPrefix(handle, channelHandlePrefix) && handleDigits.MatchString(handle)
}

// defaultAliasTable maps the legacy broadcast-commentary aliases to their
// channel handles. UpdateChannelAliasMap rebuilds this from the live
// portal; the built-in table keeps the client usable offline.
var defaultAliasTable = map[string]string{
	"jk1":   "ch2646436",
	"jk2":   "ch2646437",
	"jk4":   "ch2646438",
	"jk5":   "ch2646439",
	"jk6":   "ch2646440",
	"jk7":   "ch2646441",
	"jk8":   "ch2646442",
	"jk9":   "ch2646485",
	"jk101": "ch2647992",
	"jk211": "ch2646846",
}

// aliasTable is process-wide, immutable-by-swap: readers always see one
// consistent snapshot, writers assemble a fresh map and swap the pointer.
var aliasTable atomic.Pointer[map[string]string]

func init() {
	m := make(map[string]string, len(defaultAliasTable))
	for k, v := range defaultAliasTable {
		m[k] = v
	}
	aliasTable.Store(&m)
}

// ChannelAliasMap returns a copy of the current alias table.
func ChannelAliasMap() map[string]string {
	cur := *aliasTable.Load()
	out := make(map[string]string, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// SetChannelAliasMap replaces the process-wide alias table.
func SetChannelAliasMap(m map[string]string) {
	next := make(map[string]string, len(m))
	for k, v := range m {
		next[k] = v
	}
	aliasTable.Store(&next)
}

// resolveHandle normalizes a caller-supplied handle: program identifiers
// and channel handles pass through, anything else is looked up in the
// alias table.
func resolveHandle(handle string) (string, error) {
	switch {
	case IsProgramHandle(handle), isChannelHandle(handle):
		return handle, nil
	case handle == "":
		return "", ErrInvalidHandle
	}
	if ch, ok := (*aliasTable.Load())[handle]; ok {
		return ch, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlias, handle)
}

// channelBound reports whether the handle follows a channel rather than
// one fixed program.
func channelBound(handle string) bool {
	return !IsProgramHandle(handle)
}

var (
	aliasPattern      = regexp.MustCompile(`\bjk[0-9]+\b`)
	channelHrefDigits = regexp.MustCompile(`/(ch[0-9]+)\b`)
)

// UpdateChannelAliasMap scrapes the commentary portal and rebuilds the
// process-wide alias table. On any failure the previous table stays in
// place; a successful scrape that finds nothing is treated as a failure
// too, since an empty table would strand every alias user.
func (c *Client) UpdateChannelAliasMap(ctx context.Context) error {
	doc, err := c.session.GetDocument(ctx, c.channelBase+"/portal/jikkyo")
	if err != nil {
		return fmt.Errorf("fetch alias portal: %w", err)
	}

	next := make(map[string]string)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		alias := aliasPattern.FindString(strings.ToLower(sel.Text()))
		if alias == "" {
			return
		}
		m := channelHrefDigits.FindStringSubmatch(href)
		if m == nil {
			return
		}
		next[alias] = m[1]
	})
	if len(next) == 0 {
		return protocol.Violation("alias portal yielded no channel links")
	}

	aliasTable.Store(&next)
	c.logger.Info("channel alias table updated", zap.Int("aliases", len(next)))
	return nil
}
