// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/meta"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Reader supplies asset and meta bytes. Required.
	Reader bytestore.Reader

	// Loaders resolves loaders. Required.
	Loaders *Loaders

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// SkipDependencyLoads registers runtime dependencies declared with
	// LoadContext.Load without fetching them. The processor sets it:
	// it only needs the declaring asset's value.
	SkipDependencyLoads bool
}

// Server loads assets through a Registry and stores their values.
type Server struct {
	registry            *Registry
	loaders             *Loaders
	reader              bytestore.Reader
	logger              *slog.Logger
	skipDependencyLoads bool

	mu     sync.RWMutex
	assets map[ID]*storedAsset

	fetches sync.WaitGroup
}

type storedAsset struct {
	value any

	// retained holds the handles this value keeps alive: its runtime
	// dependencies and, for a file, its labeled sub-assets.
	retained []*Handle
}

// Folder is the value of an asset loaded with LoadFolder.
type Folder struct {
	// Assets lists the IDs of every loadable file below the folder.
	Assets []ID
}

// NewServer returns a server over config.Reader.
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:            NewRegistry(logger),
		loaders:             config.Loaders,
		reader:              config.Reader,
		logger:              logger,
		skipDependencyLoads: config.SkipDependencyLoads,
		assets:              make(map[ID]*storedAsset),
	}
}

// Registry returns the server's registry.
func (s *Server) Registry() *Registry { return s.registry }

// Loaders returns the server's loader set.
func (s *Server) Loaders() *Loaders { return s.loaders }

// Load returns a handle to path, starting a background fetch if none
// is in flight and the asset is not loaded. The fetch runs with ctx.
func (s *Server) Load(ctx context.Context, path string) *Handle {
	return s.load(ctx, ParsePath(path), Request)
}

// Reload fetches path again even if it is loaded.
func (s *Server) Reload(ctx context.Context, path string) *Handle {
	return s.load(ctx, ParsePath(path), Force)
}

func (s *Server) load(ctx context.Context, p Path, mode LoadingMode) *Handle {
	handle, shouldFetch := s.registry.LoadOrReuse(p, mode)
	if !shouldFetch {
		return handle
	}

	// A labeled path is produced by loading its file. Hold the file's
	// handle until the fetch completes so the sub-assets have an owner.
	var fileHandle *Handle
	if p.Label() != "" {
		fileHandle, _ = s.registry.LoadOrReuse(p.WithoutLabel(), Force)
	}

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		defer fileHandle.Release()
		s.fetch(ctx, p)
	}()
	return handle
}

func (s *Server) loadDependency(ctx context.Context, p Path) *Handle {
	if s.skipDependencyLoads {
		handle, _ := s.registry.LoadOrReuse(p, NotLoading)
		return handle
	}
	return s.load(ctx, p, Request)
}

// fetch loads the file behind p, stores the results, and reports the
// outcome to the registry.
func (s *Server) fetch(ctx context.Context, p Path) {
	file := p.WithoutLabel()
	loaded, err := s.loadFile(ctx, file)
	if err != nil {
		s.logger.Warn("asset load failed", "path", file, "error", err)
		s.registry.OnFailed(file.ID())
		if p.Label() != "" {
			s.registry.OnFailed(p.ID())
		}
		return
	}

	s.storeLoaded(file, loaded)

	if p.Label() != "" {
		if _, ok := loaded.Labeled[p.Label()]; !ok {
			s.logger.Warn("loader did not produce requested label", "path", p)
			s.registry.OnFailed(p.ID())
		}
	}
}

// storeLoaded stores the labeled sub-assets, then the file's value,
// and reports each as loaded.
func (s *Server) storeLoaded(file Path, loaded *LoadedAsset) {
	if !s.registry.contains(file.ID()) {
		// Every handle was dropped while the fetch ran.
		loaded.Release()
		return
	}
	retained := loaded.handles
	for label, labeled := range loaded.Labeled {
		labeledHandle, _ := s.registry.LoadOrReuse(file.WithLabel(label), NotLoading)
		s.put(labeledHandle.ID(), labeled.Value, labeled.handles)
		retained = append(retained, labeledHandle)
		s.registry.OnLoaded(labeledHandle.ID(), labeled.Dependencies)
	}
	s.put(file.ID(), loaded.Value, retained)
	s.registry.OnLoaded(file.ID(), loaded.Dependencies)
}

func (s *Server) put(id ID, value any, retained []*Handle) {
	s.mu.Lock()
	previous := s.assets[id]
	s.assets[id] = &storedAsset{value: value, retained: retained}
	s.mu.Unlock()

	if previous != nil {
		releaseAll(previous.retained)
	}
}

// loadFile reads and loads one file (no label) without touching the
// registry.
func (s *Server) loadFile(ctx context.Context, file Path) (*LoadedAsset, error) {
	data, metaBytes, err := bytestore.ReadPair(ctx, s.reader, file.Path())
	if err != nil {
		return nil, &LoadError{Path: file, Err: err}
	}

	var m *meta.Meta
	var loader Loader
	if metaBytes == nil {
		loader, err = s.loaders.ForPath(file)
		if err != nil {
			return nil, &LoadError{Path: file, Err: err}
		}
		m = DefaultMeta(loader)
	} else {
		m, err = meta.Parse(metaBytes)
		if err != nil {
			return nil, &LoadError{Path: file, Err: err}
		}
		loader, err = s.loaders.ByName(m.Loader)
		if err != nil {
			return nil, &LoadError{Path: file, Err: err}
		}
	}

	return s.run(ctx, file, m, loader, m.LoaderSettings, data)
}

// LoadWithMeta runs the loader named by m over data, as if data and m
// had been read from p. The processor uses it to load source bytes.
func (s *Server) LoadWithMeta(ctx context.Context, p Path, m *meta.Meta, data []byte) (*LoadedAsset, error) {
	loader, err := s.loaders.ByName(m.Loader)
	if err != nil {
		return nil, &LoadError{Path: p, Err: err}
	}
	return s.run(ctx, p.WithoutLabel(), m, loader, m.LoaderSettings, data)
}

func (s *Server) run(ctx context.Context, file Path, m *meta.Meta, loader Loader, settings json.RawMessage, data []byte) (*LoadedAsset, error) {
	lc := newLoadContext(s, file, m)
	value, err := loader.Load(ctx, data, settings, lc)
	if err != nil {
		lc.discard()
		return nil, &LoadError{Path: file, Err: fmt.Errorf("loader %s: %w", loader.Name(), err)}
	}
	return lc.finish(value), nil
}

// LoadDirect loads path now, bypassing the registry, and returns the
// result. For a labeled path the labeled sub-asset is returned with
// the file's meta.
func (s *Server) LoadDirect(ctx context.Context, path string) (*LoadedAsset, error) {
	p := ParsePath(path)
	loaded, err := s.loadFile(ctx, p.WithoutLabel())
	if err != nil {
		return nil, err
	}
	if p.Label() == "" {
		return loaded, nil
	}

	labeled, ok := loaded.Labeled[p.Label()]
	if !ok {
		loaded.Release()
		return nil, &LoadError{Path: p, Err: errors.New("loader did not produce this label")}
	}
	delete(loaded.Labeled, p.Label())
	loaded.Release()
	labeled.Meta = loaded.Meta
	return labeled, nil
}

// LoadFolder returns a handle to a Folder listing every file below dir
// that has a loader. Each file is loaded as a runtime dependency of
// the folder, so the folder's recursive state reports when all of them
// are done.
func (s *Server) LoadFolder(ctx context.Context, dir string) *Handle {
	p := NewPath(dir, "")
	handle, shouldFetch := s.registry.LoadOrReuse(p, Request)
	if !shouldFetch {
		return handle
	}

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		lc := newLoadContext(s, p, nil)
		folder := &Folder{}
		if err := s.collectFolder(ctx, lc, p.Path(), folder); err != nil {
			lc.discard()
			s.logger.Warn("folder load failed", "path", p, "error", err)
			s.registry.OnFailed(p.ID())
			return
		}
		loaded := lc.finish(folder)
		s.put(p.ID(), folder, loaded.handles)
		s.registry.OnLoaded(p.ID(), loaded.Dependencies)
	}()
	return handle
}

func (s *Server) collectFolder(ctx context.Context, lc *LoadContext, dir string, folder *Folder) error {
	children, err := s.reader.ReadDirectory(ctx, dir)
	if err != nil {
		return err
	}
	for child := range children {
		isDirectory, err := s.reader.IsDirectory(ctx, child)
		if err != nil {
			return err
		}
		if isDirectory {
			if err := s.collectFolder(ctx, lc, child, folder); err != nil {
				return err
			}
			continue
		}
		if _, err := s.loaders.ForPath(NewPath(child, "")); err != nil {
			continue
		}
		handle, err := lc.Load(ctx, child)
		if err != nil {
			return err
		}
		folder.Assets = append(folder.Assets, handle.ID())
	}
	return nil
}

// Add stores a value that has no path and returns a handle to it.
func (s *Server) Add(value any) *Handle {
	handle := s.registry.Allocate()
	s.put(handle.ID(), value, nil)
	return handle
}

// Get returns the stored value for id.
func (s *Server) Get(id ID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.assets[id]
	if !ok {
		return nil, false
	}
	return stored.value, true
}

// Get returns the value behind handle as a T.
func Get[T any](s *Server, handle *Handle) (T, bool) {
	var zero T
	value, ok := s.Get(handle.ID())
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	return typed, ok
}

// LoadState returns the asset's own state.
func (s *Server) LoadState(id ID) LoadState { return s.registry.LoadState(id) }

// DependencyLoadState returns the aggregate state of the asset's direct
// dependencies.
func (s *Server) DependencyLoadState(id ID) DependencyLoadState {
	return s.registry.DependencyLoadState(id)
}

// RecursiveDependencyLoadState returns the aggregate state of the
// asset's dependency tree.
func (s *Server) RecursiveDependencyLoadState(id ID) RecursiveDependencyLoadState {
	return s.registry.RecursiveDependencyLoadState(id)
}

// Path returns the path id was loaded from.
func (s *Server) Path(id ID) (Path, bool) { return s.registry.Path(id) }

// Handle returns a new strong handle to path if it is live.
func (s *Server) Handle(path string) *Handle { return s.registry.Handle(ParsePath(path)) }

// Wait blocks until every fetch started so far has finished.
func (s *Server) Wait() { s.fetches.Wait() }

// ProcessHandleDrops applies queued handle drops, reclaiming the
// stored values of assets no longer referenced. Reclaiming a value
// releases the handles it retained, which may queue further drops;
// those are processed too. Returns the number of assets reclaimed.
func (s *Server) ProcessHandleDrops() int {
	reclaimed := 0
	for {
		drops := s.registry.takeDrops()
		if len(drops) == 0 {
			return reclaimed
		}
		for _, id := range drops {
			if !s.registry.OnHandleDropped(id) {
				continue
			}
			reclaimed++
			s.mu.Lock()
			stored := s.assets[id]
			delete(s.assets, id)
			s.mu.Unlock()
			if stored != nil {
				releaseAll(stored.retained)
			}
		}
	}
}
