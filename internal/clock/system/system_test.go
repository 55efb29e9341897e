package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webarchiver/internal/archive"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()
	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "now %v outside [%v, %v]", got, before, after)
}

func TestClockDrivesArchivePrefix(t *testing.T) {
	t.Parallel()
	prefix := archive.NewPrefix(New(), "example.com")
	require.Regexp(t, `^example\.com/source/\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}Z$`, prefix)
	ts := prefix[len("example.com/source/"):]
	assert.True(t, archive.ValidTimestamp(ts))
}
