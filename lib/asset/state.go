// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import "fmt"

// LoadState is the state of an asset's own fetch.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
	Failed
)

func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// DependencyLoadState aggregates the LoadStates of an asset's direct
// dependencies.
type DependencyLoadState = LoadState

// RecursiveDependencyLoadState aggregates the states of an asset's
// entire dependency tree.
type RecursiveDependencyLoadState = LoadState

// aggregate folds dependency counters into a state. Any failure wins;
// otherwise the state is Loaded once nothing is still loading.
func aggregate(loading, failed int) LoadState {
	switch {
	case failed > 0:
		return Failed
	case loading > 0:
		return Loading
	default:
		return Loaded
	}
}

// LoadingMode controls whether LoadOrReuse starts a fetch.
type LoadingMode int

const (
	// NotLoading registers the path without fetching it.
	NotLoading LoadingMode = iota

	// Request fetches unless a fetch is in flight or already done.
	Request

	// Force fetches even if the asset is loading or loaded.
	Force
)
