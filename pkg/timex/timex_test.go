package timex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRendersPlusEight(t *testing.T) {
	t.Parallel()
	utc := time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-02T00:00:00+08:00", Format(utc))
}

func TestFormatPtr(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", FormatPtr(nil))
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-01T08:00:00+08:00", FormatPtr(&ts))
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	orig := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	parsed, err := Parse(Format(orig))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(orig))
}

func TestParseBareLocal(t *testing.T) {
	t.Parallel()
	parsed, err := Parse("2025-06-15T17:30:00")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)))
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := Parse("yesterday")
	assert.Error(t, err)
}
