// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/assetpipe/lib/asset"
	"github.com/bureau-foundation/assetpipe/lib/meta"
)

// ErrMissingPlan is returned (wrapped) when a meta names a
// (loader, saver, destination loader) combination that has no
// registered plan.
var ErrMissingPlan = errors.New("no process plan")

// Saver writes a loaded asset as a processed artifact.
type Saver interface {
	// Name is the key stored in meta files. It must be unique.
	Name() string

	// DefaultSettings returns the saver_settings written into a
	// generated meta. Nil means no settings.
	DefaultSettings() json.RawMessage

	// Save returns the artifact bytes for loaded.
	Save(ctx context.Context, loaded *asset.LoadedAsset, settings json.RawMessage) ([]byte, error)
}

// Plan is one registered way to process assets of a source loader.
type Plan struct {
	source      asset.Loader
	saver       Saver
	destination asset.Loader
}

// Saver returns the plan's saver.
func (plan *Plan) Saver() Saver { return plan.saver }

// DefaultMeta returns the source meta generated for a path that has
// no meta and whose loader uses this plan by default.
func (plan *Plan) DefaultMeta() *meta.Meta {
	m := asset.DefaultMeta(plan.source)
	m.Processor = &meta.ProcessorSettings{
		Saver:         plan.saver.Name(),
		SaverSettings: plan.saver.DefaultSettings(),
	}
	if plan.destination.Name() != plan.source.Name() {
		m.Processor.DestinationLoader = plan.destination.Name()
		m.Processor.DestinationLoaderSettings = plan.destination.DefaultSettings()
	}
	return m
}

type planKey struct {
	source      string
	saver       string
	destination string
}

// Plans is the set of registered process plans. It is safe for
// concurrent use.
type Plans struct {
	loaders *asset.Loaders

	mu       sync.RWMutex
	plans    map[planKey]*Plan
	defaults map[string]*Plan
}

// NewPlans returns an empty set whose plans resolve loader names
// against loaders.
func NewPlans(loaders *asset.Loaders) *Plans {
	return &Plans{
		loaders:  loaders,
		plans:    make(map[planKey]*Plan),
		defaults: make(map[string]*Plan),
	}
}

// Register adds a plan that loads with sourceLoader, saves with saver,
// and reads the artifact back with destinationLoader. An empty
// destinationLoader means the source loader. Both loaders must
// already be registered.
func (p *Plans) Register(sourceLoader string, saver Saver, destinationLoader string) error {
	if destinationLoader == "" {
		destinationLoader = sourceLoader
	}
	source, err := p.loaders.ByName(sourceLoader)
	if err != nil {
		return fmt.Errorf("registering plan for saver %s: %w", saver.Name(), err)
	}
	destination, err := p.loaders.ByName(destinationLoader)
	if err != nil {
		return fmt.Errorf("registering plan for saver %s: %w", saver.Name(), err)
	}

	key := planKey{source: sourceLoader, saver: saver.Name(), destination: destinationLoader}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.plans[key]; exists {
		return fmt.Errorf("plan %s -> %s -> %s already registered", key.source, key.saver, key.destination)
	}
	p.plans[key] = &Plan{source: source, saver: saver, destination: destination}
	return nil
}

// SetDefault makes a registered plan the one used for paths of
// sourceLoader that have no meta yet.
func (p *Plans) SetDefault(sourceLoader, saver, destinationLoader string) error {
	plan, err := p.Lookup(sourceLoader, saver, destinationLoader)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults[sourceLoader] = plan
	return nil
}

// Lookup returns the plan for the triple. An empty destinationLoader
// means the source loader.
func (p *Plans) Lookup(sourceLoader, saver, destinationLoader string) (*Plan, error) {
	if destinationLoader == "" {
		destinationLoader = sourceLoader
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	plan, ok := p.plans[planKey{source: sourceLoader, saver: saver, destination: destinationLoader}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s -> %s", ErrMissingPlan, sourceLoader, saver, destinationLoader)
	}
	return plan, nil
}

// Default returns the default plan for sourceLoader, or nil.
func (p *Plans) Default(sourceLoader string) *Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaults[sourceLoader]
}

// IsLoaderMismatch reports whether err means no loader or plan is
// registered for a path. Such paths are not retried until the
// configuration changes.
func IsLoaderMismatch(err error) bool {
	return errors.Is(err, asset.ErrMissingLoader) || errors.Is(err, ErrMissingPlan)
}
