// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bytestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"
)

// MetaSuffix is appended to an asset path to name its meta sidecar.
const MetaSuffix = ".meta"

// ErrNotFound is returned (wrapped) when a path has no blob.
var ErrNotFound = errors.New("not found")

// ErrWatchUnsupported is returned by Watch when the store cannot
// report changes. Callers fall back to one-shot processing.
var ErrWatchUnsupported = errors.New("change watching not supported")

// Reader reads asset and meta blobs.
type Reader interface {
	// Read returns the asset bytes at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadMeta returns the meta sidecar bytes for path.
	ReadMeta(ctx context.Context, path string) ([]byte, error)

	// IsDirectory reports whether path names a directory.
	IsDirectory(ctx context.Context, path string) (bool, error)

	// ReadDirectory lists the direct children of dir (files and
	// directories, never meta sidecars) as full store paths. The
	// sequence is finite and may be iterated once.
	ReadDirectory(ctx context.Context, dir string) (iter.Seq[string], error)
}

// Writer writes and removes asset and meta blobs.
type Writer interface {
	Write(ctx context.Context, path string, data []byte) error
	WriteMeta(ctx context.Context, path string, data []byte) error
	Remove(ctx context.Context, path string) error
	RemoveMeta(ctx context.Context, path string) error

	// RemoveAll removes everything below dir. An empty dir names the
	// store root, which is emptied but not removed.
	RemoveAll(ctx context.Context, dir string) error
}

// Store is both sides of a byte store.
type Store interface {
	Reader
	Writer
}

// PairReader is implemented by readers that can return an asset and
// its meta as one consistent snapshot.
type PairReader interface {
	// ReadPair returns the asset bytes and meta bytes of path. A
	// missing meta yields nil meta bytes and no error.
	ReadPair(ctx context.Context, path string) (data, metaBytes []byte, err error)
}

// ReadPair reads the asset and meta at path, using r's PairReader
// implementation when it has one.
func ReadPair(ctx context.Context, r Reader, path string) (data, metaBytes []byte, err error) {
	if pair, ok := r.(PairReader); ok {
		return pair.ReadPair(ctx, path)
	}
	metaBytes, err = r.ReadMeta(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}
	data, err = r.Read(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return data, metaBytes, nil
}

// Watchable is implemented by stores that can report changes.
type Watchable interface {
	// Watch starts reporting changes. Events stop when ctx is done or
	// the Watcher is closed. Returns ErrWatchUnsupported when the
	// platform cannot watch.
	Watch(ctx context.Context) (Watcher, error)
}

// Watcher delivers change events.
type Watcher interface {
	// Events is closed when the watcher stops.
	Events() <-chan Event
	Close() error
}

// EventKind classifies a change.
type EventKind int

const (
	Added EventKind = iota + 1
	Modified
	Removed
	AddedMeta
	ModifiedMeta
	RemovedMeta
	AddedFolder
	RemovedFolder
)

// String returns the event kind name used in logs.
func (kind EventKind) String() string {
	switch kind {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case AddedMeta:
		return "added_meta"
	case ModifiedMeta:
		return "modified_meta"
	case RemovedMeta:
		return "removed_meta"
	case AddedFolder:
		return "added_folder"
	case RemovedFolder:
		return "removed_folder"
	default:
		return fmt.Sprintf("unknown(%d)", int(kind))
	}
}

// Event is one change. Path is always the asset path, also for meta
// events.
type Event struct {
	Kind EventKind
	Path string
}

// CleanPath validates and normalizes a store path. The empty string
// names the root.
func CleanPath(p string) (string, error) {
	if p == "" || p == "." {
		return "", nil
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("store path %q must be relative", p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("store path %q escapes the store root", p)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// IsMetaPath reports whether a file name is a meta sidecar.
func IsMetaPath(p string) bool {
	return strings.HasSuffix(p, MetaSuffix)
}

func notFound(p string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, p)
}

func checkAssetPath(p string) (string, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return "", fmt.Errorf("store path is empty")
	}
	if IsMetaPath(cleaned) {
		return "", fmt.Errorf("store path %q names a meta sidecar", p)
	}
	return cleaned, nil
}
