// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package bytestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/assetpipe/lib/testutil"
)

// nextEvent skips events other than want's kind on want's path; the
// kernel may report intermediate steps (e.g. the directory creation
// that precedes a file write).
func nextEvent(t *testing.T, watcher Watcher, want Event) {
	t.Helper()
	for {
		got := testutil.RequireReceive(t, watcher.Events(), 5*time.Second, "waiting for %+v", want)
		if got == want {
			return
		}
	}
}

func TestFileStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := NewFileStore(t.TempDir(), CompressionNone)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	watcher, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer watcher.Close()

	if err := store.Write(ctx, "a.txt", []byte("1")); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, watcher, Event{Kind: Added, Path: "a.txt"})

	if err := store.WriteMeta(ctx, "a.txt", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, watcher, Event{Kind: AddedMeta, Path: "a.txt"})

	// An in-place edit, as a text editor would do.
	if err := os.WriteFile(filepath.Join(store.Root(), "a.txt"), []byte("2"), 0644); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, watcher, Event{Kind: Modified, Path: "a.txt"})

	if err := os.Mkdir(filepath.Join(store.Root(), "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, watcher, Event{Kind: AddedFolder, Path: "sub"})

	// The new directory is watched too.
	if err := store.Write(ctx, "sub/b.txt", []byte("b")); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, watcher, Event{Kind: Added, Path: "sub/b.txt"})

	if err := store.Remove(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, watcher, Event{Kind: Removed, Path: "a.txt"})

	if err := store.RemoveAll(ctx, "sub"); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, watcher, Event{Kind: RemovedFolder, Path: "sub"})

	watcher.Close()
	testutil.RequireClosed(t, watcher.Events(), 5*time.Second, "events channel after Close")
}
