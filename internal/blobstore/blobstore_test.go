package blobstore

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalCreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "blobs")
	l, err := NewLocal(dir)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestSaveThenOpenRoundTrips(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	n, err := l.Save("site1/access.log", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.EqualValues(t, len("hello world"), n)

	rc, err := l.Open(context.Background(), "site1/access.log")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "site1/access.log", rc.Name())
}

func TestOpenMissingKeyFails(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = l.Open(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSaveCreatesIntermediateDirectoriesForNestedKeys(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = l.Save("a/b/c/file.log", strings.NewReader("x"))
	require.NoError(t, err)

	rc, err := l.Open(context.Background(), "a/b/c/file.log")
	require.NoError(t, err)
	defer rc.Close()
}
