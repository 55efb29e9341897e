package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHexDeterministic(t *testing.T) {
	t.Parallel()
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	assert.Equal(t, want, Hex([]byte("hello world")))
	assert.Equal(t, Hex([]byte("hello world")), Hex([]byte("hello world")))
	assert.Equal(t, `"`+want+`"`, ETag([]byte("hello world")))
}

func TestMatches(t *testing.T) {
	t.Parallel()
	etag := ETag([]byte("x"))
	testCases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{etag, true},
		{"W/" + etag, true},
		{`"other", ` + etag, true},
		{"*", true},
		{`"other"`, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Matches(tc.header, etag), tc.header)
	}
}
