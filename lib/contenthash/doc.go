// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenthash computes the BLAKE3 digests the pipeline uses to
// decide whether an asset must be rebuilt.
//
// Three domains are kept apart with keyed hashing:
//
//   - content: the source meta bytes and source asset bytes of one
//     path. A change to either changes the hash.
//   - full: a content hash combined with the full hashes of every
//     load dependency, in the order the loader declared them. A change
//     anywhere in the transitive dependency graph changes the full hash.
//   - path: the stable identity of a (path, label) pair. Runtime asset
//     IDs are derived from it so the same path maps to the same ID in
//     every run.
//
// The domain keys are fixed. Changing one, or changing how inputs are
// framed, invalidates every recorded hash and requires bumping the meta
// format version.
package contenthash
