// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bytestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// temporaryPrefix marks in-progress atomic writes. Listings and the
// watcher ignore files with this prefix.
const temporaryPrefix = ".tmp-"

// FileStore is a Store rooted at a directory on the local filesystem.
// Asset blobs are written atomically (temporary file, fsync, rename,
// directory fsync) so a reader never observes a partial blob.
type FileStore struct {
	root        string
	compression Compression
}

// NewFileStore returns a store rooted at root, creating the directory
// if needed. Asset blobs are framed and compressed unless compression
// is CompressionNone.
func NewFileStore(root string, compression Compression) (*FileStore, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving store root %s: %w", root, err)
	}
	if err := os.MkdirAll(absolute, 0755); err != nil {
		return nil, fmt.Errorf("creating store root %s: %w", absolute, err)
	}
	return &FileStore{root: absolute, compression: compression}, nil
}

// Root returns the absolute root directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) filePath(storePath string) string {
	return filepath.Join(s.root, filepath.FromSlash(storePath))
}

func (s *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return nil, err
	}
	data, err := readFile(s.filePath(cleaned), cleaned)
	if err != nil {
		return nil, err
	}
	if s.compression == CompressionNone {
		return data, nil
	}
	decoded, err := decodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", cleaned, err)
	}
	return decoded, nil
}

func (s *FileStore) ReadMeta(ctx context.Context, path string) ([]byte, error) {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return nil, err
	}
	return readFile(s.filePath(cleaned)+MetaSuffix, cleaned)
}

func readFile(filePath, storePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(storePath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", storePath, err)
	}
	return data, nil
}

func (s *FileStore) IsDirectory(ctx context.Context, path string) (bool, error) {
	cleaned, err := CleanPath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(s.filePath(cleaned))
	if errors.Is(err, os.ErrNotExist) {
		return false, notFound(cleaned)
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", cleaned, err)
	}
	return info.IsDir(), nil
}

func (s *FileStore) ReadDirectory(ctx context.Context, dir string) (iter.Seq[string], error) {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.filePath(cleaned))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(cleaned)
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", cleaned, err)
	}

	listing := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, temporaryPrefix) || (!entry.IsDir() && IsMetaPath(name)) {
			continue
		}
		if cleaned == "" {
			listing = append(listing, name)
		} else {
			listing = append(listing, cleaned+"/"+name)
		}
	}
	return slices.Values(listing), nil
}

func (s *FileStore) Write(ctx context.Context, path string, data []byte) error {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return err
	}
	if s.compression != CompressionNone {
		data, err = encodeFrame(data, s.compression)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", cleaned, err)
		}
	}
	return writeAtomic(s.filePath(cleaned), data)
}

func (s *FileStore) WriteMeta(ctx context.Context, path string, data []byte) error {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return err
	}
	return writeAtomic(s.filePath(cleaned)+MetaSuffix, data)
}

// writeAtomic writes data to a temporary file in the target directory,
// fsyncs it, renames it into place, and fsyncs the directory so the
// rename survives a crash.
func writeAtomic(target string, data []byte) error {
	directory := filepath.Dir(target)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", directory, err)
	}

	file, err := os.CreateTemp(directory, temporaryPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temporary file in %s: %w", directory, err)
	}
	temporaryPath := file.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(temporaryPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing %s: %w", target, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", target, err)
	}
	if err := os.Rename(temporaryPath, target); err != nil {
		return fmt.Errorf("renaming into %s: %w", target, err)
	}
	success = true

	// Persist the directory entry. Failure here leaves a correct file
	// that might not survive power loss; report it anyway.
	parent, err := os.Open(directory)
	if err != nil {
		return fmt.Errorf("opening directory %s for sync: %w", directory, err)
	}
	defer parent.Close()
	if err := parent.Sync(); err != nil {
		return fmt.Errorf("syncing directory %s: %w", directory, err)
	}
	return nil
}

func (s *FileStore) Remove(ctx context.Context, path string) error {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return err
	}
	return removeFile(s.filePath(cleaned), cleaned)
}

func (s *FileStore) RemoveMeta(ctx context.Context, path string) error {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return err
	}
	return removeFile(s.filePath(cleaned)+MetaSuffix, cleaned)
}

func removeFile(filePath, storePath string) error {
	err := os.Remove(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return notFound(storePath)
	}
	if err != nil {
		return fmt.Errorf("removing %s: %w", storePath, err)
	}
	return nil
}

func (s *FileStore) RemoveAll(ctx context.Context, dir string) error {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return err
	}
	if cleaned != "" {
		if err := os.RemoveAll(s.filePath(cleaned)); err != nil {
			return fmt.Errorf("removing %s: %w", cleaned, err)
		}
		return nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("listing store root: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
	}
	return nil
}
