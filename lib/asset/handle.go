// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import "sync/atomic"

// Handle is a strong reference to an asset. The asset stays in memory
// while at least one handle to it is unreleased.
//
// A Handle value must not be copied; use Clone to obtain another
// reference.
type Handle struct {
	core     *handleCore
	released atomic.Bool
}

// handleCore is shared by every handle to one ID. The registry keeps a
// pointer to the core but does not count as a strong reference, so
// the registry's side behaves as a weak reference: upgrade succeeds
// only while some handle is unreleased.
type handleCore struct {
	id       ID
	strong   atomic.Int64
	registry *Registry
}

func newHandleCore(registry *Registry, id ID) (*handleCore, *Handle) {
	core := &handleCore{id: id, registry: registry}
	core.strong.Store(1)
	return core, &Handle{core: core}
}

// upgrade returns a new strong handle, or nil once the strong count has
// reached zero. A core that reached zero never revives.
func (c *handleCore) upgrade() *Handle {
	for {
		count := c.strong.Load()
		if count <= 0 {
			return nil
		}
		if c.strong.CompareAndSwap(count, count+1) {
			return &Handle{core: c}
		}
	}
}

// ID returns the asset's ID.
func (h *Handle) ID() ID { return h.core.id }

// Clone returns another strong handle to the same asset. Cloning a
// released handle returns nil.
func (h *Handle) Clone() *Handle {
	if h.released.Load() {
		return nil
	}
	return h.core.upgrade()
}

// Release drops this strong reference. Releasing a handle twice has no
// further effect. When the last reference goes, a drop is queued for
// the registry.
func (h *Handle) Release() {
	if h == nil || h.released.Swap(true) {
		return
	}
	if h.core.strong.Add(-1) == 0 {
		h.core.registry.queueDrop(h.core.id)
	}
}

func releaseAll(handles []*Handle) {
	for _, handle := range handles {
		handle.Release()
	}
}
