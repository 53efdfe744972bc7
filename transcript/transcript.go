// Package transcript writes and reads the legacy XML comment transcript:
// a flat sequence of <chat> elements, one per comment, with no outer
// wrapper and no prolog. Older tooling still consumes this shape.
package transcript

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Kocoro-lab/ndgr"
)

func timeOf(sec, usec int64) time.Time { return time.Unix(sec, usec*1000) }

type chatElement struct {
	XMLName   xml.Name `xml:"chat"`
	Thread    string   `xml:"thread,attr"`
	No        int      `xml:"no,attr"`
	Vpos      int      `xml:"vpos,attr"`
	Date      int64    `xml:"date,attr"`
	DateUsec  int64    `xml:"date_usec,attr"`
	UserID    string   `xml:"user_id,attr"`
	Mail      string   `xml:"mail,attr,omitempty"`
	Premium   string   `xml:"premium,attr,omitempty"`
	Anonymity string   `xml:"anonymity,attr,omitempty"`
	Content   string   `xml:",chardata"`
}

// mailTokens builds the space-joined command string. Default values are
// omitted so the common comment carries an empty mail attribute.
func mailTokens(c ndgr.Comment) string {
	var tokens []string
	if c.Anonymous() {
		tokens = append(tokens, "184")
	}
	if c.Position != "" && c.Position != "naka" {
		tokens = append(tokens, c.Position)
	}
	if c.Size != "" && c.Size != "medium" {
		tokens = append(tokens, c.Size)
	}
	if !c.Color.IsDefault() {
		tokens = append(tokens, c.Color.String())
	}
	if c.Font != "" && c.Font != "defont" {
		tokens = append(tokens, c.Font)
	}
	if c.Opacity == "Translucent" {
		tokens = append(tokens, "translucent")
	}
	return strings.Join(tokens, " ")
}

// stripControl removes the control characters XML 1.0 cannot carry,
// keeping tab, LF and CR.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7F:
			return -1
		}
		return r
	}, s)
}

func toElement(c ndgr.Comment) chatElement {
	userID := c.HashedUserID
	if c.RawUserID > 0 {
		userID = strconv.FormatInt(c.RawUserID, 10)
	}
	el := chatElement{
		Thread:   "lv" + strconv.FormatInt(c.LiveID, 10),
		No:       c.No,
		Vpos:     c.Vpos,
		Date:     c.At.Unix(),
		DateUsec: int64(c.At.Nanosecond() / 1000),
		UserID:   userID,
		Mail:     mailTokens(c),
		Content:  stripControl(c.Content),
	}
	if c.AccountStatus == "Premium" {
		el.Premium = "1"
	}
	if c.Anonymous() {
		el.Anonymity = "1"
	}
	return el
}

// Write emits the comments as legacy XML to w, ascending by
// (date, date_usec). The input slice is not modified.
func Write(w io.Writer, comments []ndgr.Comment) error {
	sorted := make([]ndgr.Comment, len(comments))
	copy(sorted, comments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	enc := xml.NewEncoder(w)
	for _, c := range sorted {
		if err := enc.Encode(toElement(c)); err != nil {
			return fmt.Errorf("transcript: encode comment %s: %w", c.ID, err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// Marshal renders the comments to a byte slice. See Write.
func Marshal(comments []ndgr.Comment) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, comments); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse reads a transcript back into Comments. It inverts Write for the
// fields the XML carries; fields the transcript never stored (id, exact
// nanoseconds beyond microseconds) come back zero-valued or derived.
func Parse(data []byte) ([]ndgr.Comment, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []ndgr.Comment
	for {
		var el chatElement
		err := dec.Decode(&el)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("transcript: %w", err)
		}
		c, err := fromElement(el)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func fromElement(el chatElement) (ndgr.Comment, error) {
	liveID, err := strconv.ParseInt(strings.TrimPrefix(el.Thread, "lv"), 10, 64)
	if err != nil {
		return ndgr.Comment{}, fmt.Errorf("transcript: malformed thread %q", el.Thread)
	}

	c := ndgr.Comment{
		LiveID:   liveID,
		No:       el.No,
		Vpos:     el.Vpos,
		At:       timeOf(el.Date, el.DateUsec),
		Position: "naka",
		Size:     "medium",
		Font:     "defont",
		Opacity:  "Normal",
		Content:  el.Content,
	}
	if el.Premium == "1" {
		c.AccountStatus = "Premium"
	} else {
		c.AccountStatus = "Standard"
	}
	if el.Anonymity == "1" {
		c.HashedUserID = el.UserID
	} else if raw, err := strconv.ParseInt(el.UserID, 10, 64); err == nil && raw > 0 {
		c.RawUserID = raw
	} else {
		c.HashedUserID = el.UserID
	}

	for _, tok := range strings.Fields(el.Mail) {
		switch tok {
		case "184":
			// Redundant with anonymity; recomputed from raw_user_id.
		case "ue", "shita":
			c.Position = tok
		case "big", "small":
			c.Size = tok
		case "mincho", "gothic":
			c.Font = tok
		case "translucent":
			c.Opacity = "Translucent"
		default:
			color, err := ndgr.ParseColor(tok)
			if err != nil {
				return ndgr.Comment{}, fmt.Errorf("transcript: unknown mail token %q", tok)
			}
			c.Color = color
		}
	}
	return c, nil
}
