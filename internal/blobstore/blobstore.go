// Package blobstore is the local-filesystem implementation of the
// pipeline's "Outbound: Blob store" collaborator (spec.md §6): read a
// stored log file back as a byte stream given its storage key.
//
// Grounded on allensuvorov-tenexlog's internal/upload/handler.go, which
// already streams an upload to a path under os.TempDir() and opens it
// back up for parsing; this factors that save/open pair into a small,
// swappable store so cmd/api and cmd/logamizer-cli share one
// implementation instead of each hand-rolling file I/O.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/allensuvorov/logamizer/internal/model"
)

// Local stores blobs as files under a base directory. StorageKey values
// are relative paths under that directory.
type Local struct {
	baseDir string
}

// NewLocal returns a Local store rooted at baseDir, creating it if
// necessary.
func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", baseDir, err)
	}
	return &Local{baseDir: baseDir}, nil
}

// Save streams r into a new file under baseDir at storageKey and returns
// the number of bytes written; Open reads it back with the same key.
func (l *Local) Save(storageKey string, r io.Reader) (int64, error) {
	dest := filepath.Join(l.baseDir, storageKey)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dest)
		return 0, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dest)
		return 0, closeErr
	}
	return n, nil
}

type namedFile struct {
	*os.File
	name string
}

func (n namedFile) Name() string { return n.name }

// Open implements pipeline.BlobStore.
func (l *Local) Open(_ context.Context, storageKey string) (model.ReadCloserWithName, error) {
	f, err := os.Open(filepath.Join(l.baseDir, storageKey))
	if err != nil {
		return nil, err
	}
	return namedFile{File: f, name: storageKey}, nil
}
