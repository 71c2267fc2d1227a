// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/assetpipe/lib/meta"
)

// ProcessStatus is the outcome of the most recent attempt to process a
// path.
type ProcessStatus int

const (
	Processed ProcessStatus = iota + 1
	Failed
	NonExistent
)

func (s ProcessStatus) String() string {
	switch s {
	case 0:
		return "pending"
	case Processed:
		return "processed"
	case Failed:
		return "failed"
	case NonExistent:
		return "non_existent"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// assetInfo is the processor's view of one source path.
type assetInfo struct {
	processedInfo *meta.ProcessedInfo

	// dependants are the paths whose last build read this path, plus
	// paths whose last build failed on it.
	dependants map[string]struct{}

	// failedDependency is the dependency whose failure failed the last
	// build. The edge to it is recorded in its dependants (or in the
	// dangling table) until the next build.
	failedDependency string

	// status is zero until the first attempt completes. statusSet is
	// closed at that moment.
	status    ProcessStatus
	statusSet chan struct{}

	// gate guards the destination artifact and meta of this path.
	gate *sync.RWMutex
}

func (info *assetInfo) setStatus(status ProcessStatus) {
	if info.status == 0 {
		close(info.statusSet)
	}
	info.status = status
}

// assetInfos is the processor's registry. Every method requires the
// processor's registry lock.
type assetInfos struct {
	infos map[string]*assetInfo

	// dangling holds dependants of paths that have no info, keyed by
	// the missing path. A path is in either infos or dangling, never
	// both.
	dangling map[string]map[string]struct{}

	queue  []string
	queued map[string]struct{}
}

func newAssetInfos() *assetInfos {
	return &assetInfos{
		infos:    make(map[string]*assetInfo),
		dangling: make(map[string]map[string]struct{}),
		queued:   make(map[string]struct{}),
	}
}

func (a *assetInfos) get(path string) *assetInfo {
	return a.infos[path]
}

// getOrInsert returns the info for path, creating it if needed. A new
// info adopts the dangling dependants recorded for its path.
func (a *assetInfos) getOrInsert(path string) *assetInfo {
	if info, ok := a.infos[path]; ok {
		return info
	}
	info := &assetInfo{
		dependants: make(map[string]struct{}),
		statusSet:  make(chan struct{}),
		gate:       new(sync.RWMutex),
	}
	if dependants, ok := a.dangling[path]; ok {
		info.dependants = dependants
		delete(a.dangling, path)
	}
	a.infos[path] = info
	return info
}

// addDependant records that dependant depends on path.
func (a *assetInfos) addDependant(path, dependant string) {
	if info, ok := a.infos[path]; ok {
		info.dependants[dependant] = struct{}{}
		return
	}
	dependants, ok := a.dangling[path]
	if !ok {
		dependants = make(map[string]struct{})
		a.dangling[path] = dependants
	}
	dependants[dependant] = struct{}{}
}

func (a *assetInfos) removeDependant(path, dependant string) {
	if info, ok := a.infos[path]; ok {
		delete(info.dependants, dependant)
		return
	}
	if dependants, ok := a.dangling[path]; ok {
		delete(dependants, dependant)
		if len(dependants) == 0 {
			delete(a.dangling, path)
		}
	}
}

// clearDependencies removes every edge from path's last build and
// from its last failure, and forgets its processed info.
func (a *assetInfos) clearDependencies(path string, info *assetInfo) {
	if info.processedInfo != nil {
		for _, dependency := range info.processedInfo.LoadDependencies {
			a.removeDependant(dependency.Path, path)
		}
		info.processedInfo = nil
	}
	if info.failedDependency != "" {
		a.removeDependant(info.failedDependency, path)
		info.failedDependency = ""
	}
}

// remove deletes path's info. Its dependants move to the dangling
// table and are enqueued, so they fail now and rebuild if the path
// returns. Waiters see NonExistent. Returns the removed info, or nil.
func (a *assetInfos) remove(path string) *assetInfo {
	info, ok := a.infos[path]
	if !ok {
		return nil
	}
	a.clearDependencies(path, info)
	delete(a.infos, path)

	if len(info.dependants) > 0 {
		a.dangling[path] = info.dependants
		for _, dependant := range sortedKeys(info.dependants) {
			a.enqueue(dependant)
		}
	}
	info.dependants = make(map[string]struct{})
	info.setStatus(NonExistent)
	return info
}

// enqueue adds path to the reprocess queue unless it is already
// queued.
func (a *assetInfos) enqueue(path string) {
	if _, ok := a.queued[path]; ok {
		return
	}
	a.queued[path] = struct{}{}
	a.queue = append(a.queue, path)
}

// takeQueue empties the reprocess queue and returns its contents in
// FIFO order.
func (a *assetInfos) takeQueue() []string {
	queue := a.queue
	a.queue = nil
	clear(a.queued)
	return queue
}

// paths returns every known path, sorted.
func (a *assetInfos) paths() []string {
	return slices.Sorted(maps.Keys(a.infos))
}

func sortedKeys(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}

// Summary counts the paths the processor tracks by status.
type Summary struct {
	Processed   int
	NonExistent int
	Pending     int

	// Failed lists the paths whose last build failed, sorted.
	Failed []string
}

// Summary returns the current status counts.
func (p *Processor) Summary() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var summary Summary
	for _, path := range p.infos.paths() {
		switch p.infos.get(path).status {
		case Processed:
			summary.Processed++
		case Failed:
			summary.Failed = append(summary.Failed, path)
		case NonExistent:
			summary.NonExistent++
		default:
			summary.Pending++
		}
	}
	return summary
}
