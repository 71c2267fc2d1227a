// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset loads assets from a byte store and tracks the load
// state of every asset and of its dependency graph.
//
// A Server resolves a path to a Loader (by the meta sidecar, or by
// file extension when there is none), runs it, and stores the value.
// Callers hold Handles. The Registry behind the server owns identity
// and state:
//
//   - At most one fetch per (path, label) is in flight. A second Load of
//     a path that is Loading or Loaded returns a handle to the same ID.
//   - Each asset has three states: its own LoadState, the aggregate
//     DependencyLoadState of its direct dependencies, and the
//     RecursiveDependencyLoadState of its whole dependency tree.
//     Failed dominates Loading in both aggregates.
//   - State changes propagate to waiting dependants as dependencies
//     finish, in whatever order the fetches complete.
//
// Handles are reference counted. Release of the last strong handle
// queues a drop; ProcessHandleDrops reclaims the asset unless a newer
// handle was minted for the same ID in the meantime.
//
// Loaders declare two kinds of dependency through the LoadContext:
// Load records a runtime dependency (a handle the value keeps), and
// LoadDirect reads another asset immediately and records it as a load
// dependency, whose full hash becomes part of the processed meta.
package asset
