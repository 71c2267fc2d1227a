// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package processor builds source assets into processed artifacts and
// keeps them current as the source changes.
//
// For each source path the processor hashes the source meta and bytes.
// When the hash and the full hash of every load dependency recorded in
// the previous build still match, the path is skipped. Otherwise the
// source loader runs, the saver from the meta's process plan writes
// the artifact (or the bytes are copied when the meta has no
// processor), and the artifact is written to the destination store
// with a processed meta recording the new hashes.
//
// Writes are bracketed by begin/end records in a transaction log
// (package txlog). ValidateAndRecover runs before Initialize and
// deletes the output of any path whose write was interrupted; a log
// that is structurally corrupt wipes the destination store.
//
// Every destination path has a read/write gate. Builds hold it
// exclusively while writing the artifact and its meta; GatedReader
// holds it shared while reading both, so a reader never sees an
// artifact paired with the meta of a different build.
//
// Successful builds enqueue their dependants. TryReprocessingQueued
// drains the queue until a pass enqueues nothing, so a change ripples
// through every asset that transitively read it.
package processor
