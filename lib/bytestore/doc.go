// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bytestore is the storage boundary of the asset pipeline. The
// processor reads sources through a Reader, writes processed artifacts
// through a Writer, and learns about source edits through a Watcher.
//
// Every asset path has two blobs: the asset bytes and an optional meta
// sidecar. Paths are store-relative and slash-separated; a leading
// slash, a ".." element, or a path naming a meta sidecar directly is
// rejected.
//
// Two implementations are provided. FileStore keeps blobs on disk
// (sidecars are "<path>.meta"), writes atomically, can compress
// artifact blobs, and watches for edits with inotify on Linux.
// MemoryStore keeps everything in maps and emits change events for
// every mutation; it backs tests and embedded use.
package bytestore
