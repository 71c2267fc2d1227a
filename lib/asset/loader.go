// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bureau-foundation/assetpipe/lib/meta"
)

// Loader turns asset bytes into a value.
type Loader interface {
	// Name is the key stored in meta files. It must be unique.
	Name() string

	// Extensions lists the file extensions (without the leading dot)
	// the loader claims for paths that have no meta.
	Extensions() []string

	// DefaultSettings returns the settings written into a generated
	// meta. Nil means no settings.
	DefaultSettings() json.RawMessage

	// Load decodes data. Settings are the loader_settings from the
	// meta, or DefaultSettings when the meta was generated.
	Load(ctx context.Context, data []byte, settings json.RawMessage, lc *LoadContext) (any, error)
}

// Loaders is the set of registered loaders, indexed by name and by
// extension. It is safe for concurrent use.
type Loaders struct {
	mu          sync.RWMutex
	byName      map[string]Loader
	byExtension map[string]Loader
}

// NewLoaders returns an empty set.
func NewLoaders() *Loaders {
	return &Loaders{
		byName:      make(map[string]Loader),
		byExtension: make(map[string]Loader),
	}
}

// Register adds a loader. Names must be unique; an extension already
// claimed by another loader stays with the first one.
func (l *Loaders) Register(loader Loader) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := loader.Name()
	if name == "" {
		return fmt.Errorf("loader has an empty name")
	}
	if _, exists := l.byName[name]; exists {
		return fmt.Errorf("loader %q already registered", name)
	}
	l.byName[name] = loader
	for _, extension := range loader.Extensions() {
		if _, claimed := l.byExtension[extension]; !claimed {
			l.byExtension[extension] = loader
		}
	}
	return nil
}

// ByName returns the loader registered under name.
func (l *Loaders) ByName(name string) (Loader, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loader, ok := l.byName[name]
	if !ok {
		return nil, &MissingLoaderError{Name: name}
	}
	return loader, nil
}

// ForPath returns the loader for the longest registered extension of
// p.
func (l *Loaders) ForPath(p Path) (Loader, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, extension := range p.Extensions() {
		if loader, ok := l.byExtension[extension]; ok {
			return loader, nil
		}
	}
	return nil, &MissingLoaderError{Path: p.Path()}
}

// DefaultMeta returns the meta generated for a path that has none.
func DefaultMeta(loader Loader) *meta.Meta {
	return meta.New(loader.Name(), loader.DefaultSettings())
}
