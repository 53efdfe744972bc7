package ndgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorString(t *testing.T) {
	assert.Equal(t, "white", Color{}.String())
	assert.Equal(t, "red", Color{Name: "red"}.String())
	assert.Equal(t, "#0A1B2C", Color{Full: &FullColor{R: 0x0A, G: 0x1B, B: 0x2C}}.String())
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#0A1B2C")
	require.NoError(t, err)
	require.NotNil(t, c.Full)
	assert.Equal(t, FullColor{R: 0x0A, G: 0x1B, B: 0x2C}, *c.Full)

	c, err = ParseColor("cyan2")
	require.NoError(t, err)
	assert.Equal(t, "cyan2", c.Name)

	_, err = ParseColor("#GGGGGG")
	assert.Error(t, err)
	_, err = ParseColor("chartreuse")
	assert.Error(t, err)
}

func TestParseColorRoundTrip(t *testing.T) {
	for _, s := range []string{"white", "red", "black2", "#123456", "#FFFFFF"} {
		c, err := ParseColor(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, c.String(), s)
	}
}

func TestCommentAnonymous(t *testing.T) {
	assert.True(t, Comment{HashedUserID: "a:bcdef"}.Anonymous())
	assert.False(t, Comment{RawUserID: 42}.Anonymous())
}
