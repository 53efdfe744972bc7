package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/ndgr"
)

func at(sec int64, usec int64) time.Time {
	return time.Unix(sec, usec*1000)
}

func TestMarshalPlainComment(t *testing.T) {
	out, err := Marshal([]ndgr.Comment{{
		ID:            "m1",
		At:            at(1700000042, 123456),
		LiveID:        345479473,
		RawUserID:     100,
		AccountStatus: "Standard",
		No:            7,
		Vpos:          5241,
		Position:      "naka",
		Size:          "medium",
		Font:          "defont",
		Opacity:       "Normal",
		Content:       "initial comment",
	}})
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `thread="lv345479473"`)
	assert.Contains(t, s, `no="7"`)
	assert.Contains(t, s, `vpos="5241"`)
	assert.Contains(t, s, `date="1700000042"`)
	assert.Contains(t, s, `date_usec="123456"`)
	assert.Contains(t, s, `user_id="100"`)
	assert.Contains(t, s, ">initial comment</chat>")
	// Defaults carry no mail tokens and no premium/anonymity marks.
	assert.NotContains(t, s, "mail=")
	assert.NotContains(t, s, "premium=")
	assert.NotContains(t, s, "anonymity=")
	assert.NotContains(t, s, "<packet")
	assert.NotContains(t, s, "<?xml")
}

func TestMarshalMailTokensAndFlags(t *testing.T) {
	color, err := ndgr.ParseColor("#FF0000")
	require.NoError(t, err)
	out, err := Marshal([]ndgr.Comment{{
		ID:            "m1",
		At:            at(1700000000, 0),
		LiveID:        1,
		RawUserID:     0,
		HashedUserID:  "a:AbCdEf",
		AccountStatus: "Premium",
		Position:      "ue",
		Size:          "big",
		Color:         color,
		Font:          "mincho",
		Opacity:       "Translucent",
		Content:       "decorated",
	}})
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `mail="184 ue big #FF0000 mincho translucent"`)
	assert.Contains(t, s, `premium="1"`)
	assert.Contains(t, s, `anonymity="1"`)
	assert.Contains(t, s, `user_id="a:AbCdEf"`)
}

func TestMarshalStripsControlCharacters(t *testing.T) {
	out, err := Marshal([]ndgr.Comment{{
		At:      at(1, 0),
		LiveID:  1,
		Content: "a\x00b\x08c\x0bd\x0ce\x7ff\tg\nh",
	}})
	require.NoError(t, err)
	// tab and newline survive, in their XML-escaped spelling
	assert.Contains(t, string(out), ">abcdef&#x9;g&#xA;h</chat>")
}

func TestMarshalSortsByDateThenUsec(t *testing.T) {
	out, err := Marshal([]ndgr.Comment{
		{At: at(200, 0), LiveID: 1, Content: "third"},
		{At: at(100, 500), LiveID: 1, Content: "second"},
		{At: at(100, 1), LiveID: 1, Content: "first"},
	})
	require.NoError(t, err)

	s := string(out)
	assert.Less(t, strings.Index(s, "first"), strings.Index(s, "second"))
	assert.Less(t, strings.Index(s, "second"), strings.Index(s, "third"))
}

func TestRoundTrip(t *testing.T) {
	color, err := ndgr.ParseColor("red")
	require.NoError(t, err)
	orig := []ndgr.Comment{
		{
			At:            at(1700000001, 42),
			LiveID:        345479473,
			RawUserID:     100,
			AccountStatus: "Standard",
			No:            1,
			Vpos:          100,
			Position:      "naka",
			Size:          "medium",
			Font:          "defont",
			Opacity:       "Normal",
			Content:       "plain",
		},
		{
			At:            at(1700000002, 0),
			LiveID:        345479473,
			HashedUserID:  "a:XyZ",
			AccountStatus: "Premium",
			No:            2,
			Vpos:          200,
			Position:      "shita",
			Size:          "small",
			Color:         color,
			Font:          "gothic",
			Opacity:       "Translucent",
			Content:       "decorated & <escaped>",
		},
	}

	data, err := Marshal(orig)
	require.NoError(t, err)
	got, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, got, len(orig))

	for i := range orig {
		want := orig[i]
		want.ID = "" // the transcript never stored the fabric id
		assert.Equal(t, want, got[i], "comment %d", i)
	}
}

func TestParseRejectsUnknownMailToken(t *testing.T) {
	_, err := Parse([]byte(`<chat thread="lv1" no="1" vpos="0" date="1" date_usec="0" user_id="1" mail="sparkle">x</chat>`))
	assert.Error(t, err)
}
