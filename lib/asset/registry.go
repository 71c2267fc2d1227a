// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry owns asset identity and the dependency state machine. Every
// method is safe for concurrent use. The infos lock is never held
// while calling out to loaders or stores.
type Registry struct {
	mu       sync.RWMutex
	infos    map[ID]*assetInfo
	pathToID map[Path]ID

	// Drops are queued under their own lock so that releasing a handle
	// never waits on a fetch holding the infos lock.
	dropMu sync.Mutex
	drops  []ID

	nextSerial atomic.Uint64
	logger     *slog.Logger
}

type assetInfo struct {
	core    *handleCore
	path    Path
	hasPath bool

	loadState       LoadState
	dependencyState DependencyLoadState
	recursiveState  RecursiveDependencyLoadState

	loadingDependencies          int
	failedDependencies           int
	loadingRecursiveDependencies int
	failedRecursiveDependencies  int

	// Dependants that counted this asset as still loading and must be
	// told when its own load finishes.
	waitingOnLoad map[ID]struct{}

	// Dependants that counted this asset's recursive state as still
	// loading.
	waitingOnRecursive map[ID]struct{}

	// dependencies are the runtime dependencies of the last load. This
	// asset is registered in their waiting sets until it loads again.
	dependencies []ID

	// dropsToSkip counts drop events from handle cores that died
	// before a newer core was minted for this ID. Those events must not
	// reclaim the asset.
	dropsToSkip int
}

// NewRegistry returns an empty registry. A nil logger means
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		infos:    make(map[ID]*assetInfo),
		pathToID: make(map[Path]ID),
		logger:   logger,
	}
}

func newAssetInfo(core *handleCore) *assetInfo {
	return &assetInfo{
		core:               core,
		waitingOnLoad:      make(map[ID]struct{}),
		waitingOnRecursive: make(map[ID]struct{}),
	}
}

func (info *assetInfo) setLoading() {
	info.loadState = Loading
	info.dependencyState = Loading
	info.recursiveState = Loading
}

// LoadOrReuse returns a strong handle for p and whether the caller must
// fetch it. At most one caller is told to fetch a given path unless
// mode is Force.
func (r *Registry) LoadOrReuse(p Path, mode LoadingMode) (handle *Handle, shouldFetch bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	info, exists := r.infos[id]
	if !exists {
		core, handle := newHandleCore(r, id)
		info = newAssetInfo(core)
		info.path, info.hasPath = p, true
		if mode != NotLoading {
			info.setLoading()
		}
		r.infos[id] = info
		r.pathToID[p] = id
		return handle, mode != NotLoading
	}

	switch mode {
	case Force:
		shouldFetch = true
	case Request:
		shouldFetch = info.loadState == NotLoaded
	}
	if shouldFetch {
		r.detachLocked(id, info)
		info.setLoading()
	}

	if handle := info.core.upgrade(); handle != nil {
		return handle, shouldFetch
	}

	// Every strong handle is gone but the drop has not been processed.
	// Mint a new core and make the pending drop a no-op.
	info.dropsToSkip++
	core, handle := newHandleCore(r, id)
	info.core = core
	return handle, shouldFetch
}

// Allocate creates an asset with no path, already loaded and with no
// dependencies.
func (r *Registry) Allocate() *Handle {
	id := ID{serial: r.nextSerial.Add(1)}
	core, handle := newHandleCore(r, id)
	info := newAssetInfo(core)
	info.loadState = Loaded
	info.dependencyState = Loaded
	info.recursiveState = Loaded

	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[id] = info
	return handle
}

// Handle returns a new strong handle for p if the asset is live.
func (r *Registry) Handle(p Path) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pathToID[p]
	if !ok {
		return nil
	}
	return r.infos[id].core.upgrade()
}

// Path returns the path an ID was created for.
func (r *Registry) Path(id ID) (Path, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[id]
	if !ok || !info.hasPath {
		return Path{}, false
	}
	return info.path, true
}

// LoadState returns the asset's own state, or NotLoaded for an unknown
// ID.
func (r *Registry) LoadState(id ID) LoadState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.infos[id]; ok {
		return info.loadState
	}
	return NotLoaded
}

// DependencyLoadState returns the aggregate state of the asset's direct
// dependencies, or NotLoaded for an unknown ID.
func (r *Registry) DependencyLoadState(id ID) DependencyLoadState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.infos[id]; ok {
		return info.dependencyState
	}
	return NotLoaded
}

// RecursiveDependencyLoadState returns the aggregate state of the
// asset's dependency tree, or NotLoaded for an unknown ID.
func (r *Registry) RecursiveDependencyLoadState(id ID) RecursiveDependencyLoadState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.infos[id]; ok {
		return info.recursiveState
	}
	return NotLoaded
}

// OnLoaded records that id finished loading with the given runtime
// dependencies, and propagates the change to dependants.
func (r *Registry) OnLoaded(id ID, dependencies []ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.infos[id]
	if !ok {
		// Reclaimed while its fetch was in flight.
		r.logger.Debug("loaded asset no longer registered", "id", id)
		return
	}

	r.detachLocked(id, info)

	var loading, failed, loadingRecursive, failedRecursive int
	seen := make(map[ID]struct{}, len(dependencies))
	for _, dependencyID := range dependencies {
		if _, duplicate := seen[dependencyID]; duplicate || dependencyID == id {
			continue
		}
		seen[dependencyID] = struct{}{}
		info.dependencies = append(info.dependencies, dependencyID)

		dependency, ok := r.infos[dependencyID]
		if !ok {
			r.logger.Warn("dependency not registered; treating as loaded",
				"asset", r.describe(id, info), "dependency", dependencyID)
			continue
		}

		switch dependency.loadState {
		case NotLoaded, Loading:
			loading++
			dependency.waitingOnLoad[id] = struct{}{}
		case Failed:
			failed++
		}

		switch dependency.recursiveState {
		case NotLoaded, Loading:
			loadingRecursive++
			dependency.waitingOnRecursive[id] = struct{}{}
		case Failed:
			failedRecursive++
		}
	}

	info.loadState = Loaded
	info.loadingDependencies = loading
	info.failedDependencies = failed
	info.loadingRecursiveDependencies = loadingRecursive
	info.failedRecursiveDependencies = failedRecursive
	info.dependencyState = aggregate(loading, failed)
	info.recursiveState = aggregate(loadingRecursive, failedRecursive)

	for dependantID := range takeSet(&info.waitingOnLoad) {
		r.dependencyLoadedLocked(dependantID)
	}

	switch info.recursiveState {
	case Loaded:
		r.propagateLoadedLocked(id, info)
	case Failed:
		r.propagateFailedLocked(id, info)
	}
}

// OnFailed records that id could not be loaded. Its direct dependants'
// dependency state and its recursive dependants' recursive state
// become Failed.
func (r *Registry) OnFailed(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.infos[id]
	if !ok {
		r.logger.Debug("failed asset no longer registered", "id", id)
		return
	}
	r.detachLocked(id, info)
	info.loadState = Failed
	info.dependencyState = Failed
	info.recursiveState = Failed

	for dependantID := range takeSet(&info.waitingOnLoad) {
		dependant, ok := r.infos[dependantID]
		if !ok {
			continue
		}
		dependant.loadingDependencies--
		dependant.failedDependencies++
		dependant.dependencyState = aggregate(dependant.loadingDependencies, dependant.failedDependencies)
	}

	r.propagateFailedLocked(id, info)
}

// detachLocked removes id from the waiting sets of the dependencies
// of its previous load, so that their later completion no longer
// counts against id.
func (r *Registry) detachLocked(id ID, info *assetInfo) {
	for _, dependencyID := range info.dependencies {
		if dependency, ok := r.infos[dependencyID]; ok {
			delete(dependency.waitingOnLoad, id)
			delete(dependency.waitingOnRecursive, id)
		}
	}
	info.dependencies = nil
	info.loadingDependencies = 0
	info.failedDependencies = 0
	info.loadingRecursiveDependencies = 0
	info.failedRecursiveDependencies = 0
}

// dependencyLoadedLocked tells a dependant that one of its direct
// dependencies finished its own load.
func (r *Registry) dependencyLoadedLocked(dependantID ID) {
	dependant, ok := r.infos[dependantID]
	if !ok {
		return
	}
	dependant.loadingDependencies--
	dependant.dependencyState = aggregate(dependant.loadingDependencies, dependant.failedDependencies)
}

// propagateLoadedLocked tells recursive waiters that id's whole tree is
// loaded. Waiters whose last outstanding dependency this was become
// Loaded in turn.
func (r *Registry) propagateLoadedLocked(id ID, info *assetInfo) {
	for dependantID := range takeSet(&info.waitingOnRecursive) {
		dependant, ok := r.infos[dependantID]
		if !ok {
			continue
		}
		dependant.loadingRecursiveDependencies--
		if dependant.loadingRecursiveDependencies == 0 && dependant.failedRecursiveDependencies == 0 {
			dependant.recursiveState = Loaded
			r.propagateLoadedLocked(dependantID, dependant)
		}
	}
}

// propagateFailedLocked marks every recursive waiter of id as failed,
// cascading to their waiters the first time each one fails.
func (r *Registry) propagateFailedLocked(id ID, info *assetInfo) {
	for dependantID := range takeSet(&info.waitingOnRecursive) {
		dependant, ok := r.infos[dependantID]
		if !ok {
			continue
		}
		dependant.loadingRecursiveDependencies--
		dependant.failedRecursiveDependencies++
		if dependant.recursiveState != Failed {
			dependant.recursiveState = Failed
			r.propagateFailedLocked(dependantID, dependant)
		}
	}
}

// OnHandleDropped handles one drop event. It returns true when the
// asset was removed and its storage should be reclaimed, false when
// the drop belonged to a superseded handle core.
func (r *Registry) OnHandleDropped(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.infos[id]
	if !ok {
		return false
	}
	if info.dropsToSkip > 0 {
		info.dropsToSkip--
		return false
	}
	delete(r.infos, id)
	if info.hasPath && r.pathToID[info.path] == id {
		delete(r.pathToID, info.path)
	}
	return true
}

func (r *Registry) queueDrop(id ID) {
	r.dropMu.Lock()
	defer r.dropMu.Unlock()
	r.drops = append(r.drops, id)
}

// takeDrops returns and clears the pending drop queue.
func (r *Registry) takeDrops() []ID {
	r.dropMu.Lock()
	defer r.dropMu.Unlock()
	drops := r.drops
	r.drops = nil
	return drops
}

func (r *Registry) contains(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.infos[id]
	return ok
}

// Len returns the number of registered assets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos)
}

func (r *Registry) describe(id ID, info *assetInfo) string {
	if info.hasPath {
		return info.path.String()
	}
	return id.String()
}

// takeSet returns the set and replaces it with an empty one.
func takeSet(set *map[ID]struct{}) map[ID]struct{} {
	taken := *set
	*set = make(map[ID]struct{})
	return taken
}
