package decode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPlainText(t *testing.T) {
	r, err := Open("access.log", strings.NewReader("hello\nworld\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", buf.String())
}

func TestOpenGzipBySuffix(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write([]byte("a\nb\nc\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open("access.log.gz", &gz)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", buf.String())
}

func TestOpenGzipByMagicBytesWithoutSuffix(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write([]byte("x\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// No ".gz" suffix: the blob store key lost it, so Open must sniff the
	// magic bytes instead.
	r, err := Open("some-opaque-storage-key", &gz)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "x\n", buf.String())
}

func TestScanSkipsEmptyAndCommentLines(t *testing.T) {
	input := "line1\n\n# a comment\n   \nline2\n"
	var got []Line
	counters, err := Scan(strings.NewReader(input), func(l Line) bool {
		got = append(got, l)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "line1", got[0].Text)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, "line2", got[1].Text)
	assert.Equal(t, 5, got[1].Number)
	assert.EqualValues(t, 5, counters.TotalLines)
	assert.EqualValues(t, 3, counters.EmptyLines)
}

func TestScanStopsWhenYieldReturnsFalse(t *testing.T) {
	input := "one\ntwo\nthree\n"
	var got []Line
	_, err := Scan(strings.NewReader(input), func(l Line) bool {
		got = append(got, l)
		return l.Text != "two"
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
