// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"errors"
	"fmt"
)

// ErrSelfDependency is returned when a loader declares a dependency on
// the asset it is loading.
var ErrSelfDependency = errors.New("asset depends on itself")

// ErrMissingLoader matches every *MissingLoaderError.
var ErrMissingLoader = errors.New("no loader")

// MissingLoaderError reports that no loader is registered for a name
// or for any extension of a path.
type MissingLoaderError struct {
	// Name is set when a meta named a loader that is not registered.
	Name string

	// Path is set when no loader matches the path's extensions.
	Path string
}

func (e *MissingLoaderError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("no loader named %q", e.Name)
	}
	return fmt.Sprintf("no loader for extensions of %q", e.Path)
}

func (e *MissingLoaderError) Is(target error) bool { return target == ErrMissingLoader }

// LoadError wraps a failure to read or load one asset.
type LoadError struct {
	Path Path
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadDirectError reports that a dependency read with
// LoadContext.LoadDirect failed. The processor uses Dependency to
// retry the dependant once the dependency changes.
type LoadDirectError struct {
	Dependency string
	Err        error
}

func (e *LoadDirectError) Error() string {
	return fmt.Sprintf("loading dependency %s: %v", e.Dependency, e.Err)
}

func (e *LoadDirectError) Unwrap() error { return e.Err }
