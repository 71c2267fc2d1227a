// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/assetpipe/lib/contenthash"
	"github.com/bureau-foundation/assetpipe/lib/meta"
)

// LoadedAsset is the result of one loader run: the value, the labeled
// sub-assets it produced, and the dependencies it declared.
type LoadedAsset struct {
	Value any

	// Labeled holds sub-assets by label.
	Labeled map[string]*LoadedAsset

	// Dependencies are the runtime dependencies declared with
	// LoadContext.Load, in declaration order.
	Dependencies []ID

	// LoadDependencies are the assets read with LoadContext.LoadDirect,
	// with the full hash each had, in declaration order.
	LoadDependencies []meta.LoadDependency

	// Meta is the meta the asset was loaded with. Nil for labeled
	// sub-assets.
	Meta *meta.Meta

	// handles keeps runtime dependencies alive while the value is
	// stored.
	handles []*Handle
}

// Release drops the handles the asset holds on its dependencies.
// Callers that only needed the value (the processor, LoadDirect users)
// call it when done.
func (a *LoadedAsset) Release() {
	releaseAll(a.handles)
	a.handles = nil
	for _, labeled := range a.Labeled {
		labeled.Release()
	}
}

// FullHash returns the processed full hash recorded in the asset's
// meta, or the zero hash for an unprocessed asset.
func (a *LoadedAsset) FullHash() contenthash.Hash {
	if a.Meta == nil || a.Meta.ProcessedInfo == nil {
		return contenthash.Hash{}
	}
	return a.Meta.ProcessedInfo.FullHash
}

// LoadContext is handed to a Loader for one run. It records the
// dependencies the loader declares and collects labeled sub-assets.
type LoadContext struct {
	server *Server
	path   Path
	meta   *meta.Meta

	dependencies      []ID
	dependencySet     map[ID]struct{}
	handles           []*Handle
	loadDependencies  []meta.LoadDependency
	loadDependencySet map[string]struct{}
	labeled           map[string]*LoadedAsset
}

func newLoadContext(server *Server, p Path, m *meta.Meta) *LoadContext {
	return &LoadContext{
		server:            server,
		path:              p,
		meta:              m,
		dependencySet:     make(map[ID]struct{}),
		loadDependencySet: make(map[string]struct{}),
		labeled:           make(map[string]*LoadedAsset),
	}
}

// Path returns the path being loaded.
func (lc *LoadContext) Path() Path { return lc.path }

// Meta returns the meta the asset is being loaded with.
func (lc *LoadContext) Meta() *meta.Meta { return lc.meta }

// isSelf reports whether p names the asset being loaded. Labeled
// sub-assets of the same file are produced by this run and are not
// self-dependencies.
func (lc *LoadContext) isSelf(p Path) bool {
	return p == lc.path || (p.Label() == "" && p.Path() == lc.path.Path())
}

// Load declares a runtime dependency on path and returns a handle to
// it. The server fetches the dependency unless it was configured not
// to.
func (lc *LoadContext) Load(ctx context.Context, path string) (*Handle, error) {
	p := ParsePath(path)
	if lc.isSelf(p) {
		return nil, fmt.Errorf("%s: %w", lc.path, ErrSelfDependency)
	}
	handle := lc.server.loadDependency(ctx, p)
	if _, seen := lc.dependencySet[handle.ID()]; !seen {
		lc.dependencySet[handle.ID()] = struct{}{}
		lc.dependencies = append(lc.dependencies, handle.ID())
	}
	lc.handles = append(lc.handles, handle)
	return handle, nil
}

// LoadDirect loads path immediately and records it as a load
// dependency. The returned asset is owned by the caller.
func (lc *LoadContext) LoadDirect(ctx context.Context, path string) (*LoadedAsset, error) {
	p := ParsePath(path)
	// Reading any part of the file being loaded would recurse.
	if p.WithoutLabel() == lc.path.WithoutLabel() {
		return nil, &LoadDirectError{Dependency: p.Path(), Err: fmt.Errorf("%s: %w", lc.path, ErrSelfDependency)}
	}

	loaded, err := lc.server.LoadDirect(ctx, p.String())
	if err != nil {
		return nil, &LoadDirectError{Dependency: p.Path(), Err: err}
	}

	if _, seen := lc.loadDependencySet[p.Path()]; !seen {
		lc.loadDependencySet[p.Path()] = struct{}{}
		lc.loadDependencies = append(lc.loadDependencies, meta.LoadDependency{
			Path:     p.Path(),
			FullHash: loaded.FullHash(),
		})
	}
	return loaded, nil
}

// AddLabeled stores value as the sub-asset label. A later call with the
// same label replaces the earlier value.
func (lc *LoadContext) AddLabeled(label string, value any) {
	lc.labeled[label] = &LoadedAsset{Value: value}
}

func (lc *LoadContext) finish(value any) *LoadedAsset {
	loaded := &LoadedAsset{
		Value:            value,
		Dependencies:     lc.dependencies,
		LoadDependencies: lc.loadDependencies,
		Meta:             lc.meta,
		handles:          lc.handles,
	}
	if len(lc.labeled) > 0 {
		loaded.Labeled = lc.labeled
	}
	return loaded
}

// discard releases whatever the context acquired for a failed run.
func (lc *LoadContext) discard() {
	releaseAll(lc.handles)
	lc.handles = nil
}
