// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"strconv"

	"github.com/bureau-foundation/assetpipe/lib/contenthash"
)

// ID identifies one asset in a Registry. IDs for paths are derived
// from the path, so the same path has the same ID in every run. IDs
// for values added without a path are allocated from a counter.
type ID struct {
	hash   contenthash.Hash
	serial uint64
}

// IsAllocated reports whether the ID was allocated rather than derived
// from a path.
func (id ID) IsAllocated() bool { return id.serial != 0 }

func (id ID) String() string {
	if id.serial != 0 {
		return "alloc:" + strconv.FormatUint(id.serial, 10)
	}
	return "path:" + id.hash.Short()
}

// MarshalText makes IDs render as strings in structured logs.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}
