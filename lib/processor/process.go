// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/assetpipe/lib/asset"
	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/contenthash"
	"github.com/bureau-foundation/assetpipe/lib/meta"
)

// Result is the outcome of a successful ProcessPath.
type Result struct {
	// Skipped is true when the source, its meta, and every load
	// dependency were unchanged since the last build.
	Skipped bool

	// Info is the processed info written with the artifact. Nil when
	// Skipped.
	Info *meta.ProcessedInfo
}

var errSourceMissing = errors.New("source asset missing")

// ProcessPath builds path if it changed since its last build, then
// updates the registry: dependency edges, status, and the reprocess
// queue. A path whose source is gone is removed instead.
func (p *Processor) ProcessPath(ctx context.Context, path string) (Result, error) {
	ctx, slot, err := p.acquireSlot(ctx)
	if err != nil {
		return Result{}, err
	}
	result, err := p.process(ctx, path)
	slot.release()

	if errors.Is(err, errSourceMissing) {
		p.logger.Debug("source vanished before processing", "path", path)
		p.removePath(ctx, path)
		return result, err
	}
	p.finishProcessing(path, result, err)
	return result, err
}

func (p *Processor) process(ctx context.Context, path string) (Result, error) {
	file := asset.NewPath(path, "")

	// The asset is read first so that a deleted asset never gets a
	// default meta written next to it.
	data, err := p.source.Read(ctx, path)
	if errors.Is(err, bytestore.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %v", errSourceMissing, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("reading source: %w", err)
	}

	m, metaBytes, plan, err := p.sourceMeta(ctx, file)
	if err != nil {
		return Result{}, err
	}

	hash := contenthash.Content(metaBytes, data)
	if p.unchanged(path, hash) {
		return Result{Skipped: true}, nil
	}

	p.mu.Lock()
	gate := p.infos.getOrInsert(path).gate
	p.mu.Unlock()
	gate.Lock()
	defer gate.Unlock()

	info := &meta.ProcessedInfo{Hash: hash, LoadDependencies: []meta.LoadDependency{}}
	output := data
	if plan != nil {
		loaded, err := p.server.LoadWithMeta(ctx, file, m, data)
		if err != nil {
			return Result{}, err
		}
		defer loaded.Release()
		if len(loaded.LoadDependencies) > 0 {
			info.LoadDependencies = loaded.LoadDependencies
		}
		output, err = plan.saver.Save(ctx, loaded, m.Processor.SaverSettings)
		if err != nil {
			return Result{}, fmt.Errorf("saver %s: %w", plan.saver.Name(), err)
		}
	}

	dependencyHashes := make([]contenthash.Hash, len(info.LoadDependencies))
	for i, dependency := range info.LoadDependencies {
		dependencyHashes[i] = dependency.FullHash
	}
	info.FullHash = contenthash.Full(hash, dependencyHashes)

	processedMeta, err := m.Processed(info).Marshal()
	if err != nil {
		return Result{}, err
	}
	if err := p.writeProcessed(ctx, path, output, processedMeta); err != nil {
		return Result{}, err
	}
	p.logger.Debug("processed asset", "path", path, "full_hash", info.FullHash.Short())
	return Result{Info: info}, nil
}

// sourceMeta reads and parses the source meta for file. A missing meta
// is generated from the path's loader (and that loader's default plan)
// and written back to the source store.
func (p *Processor) sourceMeta(ctx context.Context, file asset.Path) (*meta.Meta, []byte, *Plan, error) {
	metaBytes, err := p.source.ReadMeta(ctx, file.Path())
	switch {
	case err == nil:
		m, err := meta.Parse(metaBytes)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading source meta: %w", err)
		}
		if m.Processor == nil {
			return m, metaBytes, nil, nil
		}
		plan, err := p.plans.Lookup(m.Loader, m.Processor.Saver, m.Processor.DestinationLoader)
		if err != nil {
			return nil, nil, nil, err
		}
		return m, metaBytes, plan, nil

	case errors.Is(err, bytestore.ErrNotFound):
		loader, err := p.loaders.ForPath(file)
		if err != nil {
			return nil, nil, nil, err
		}
		var m *meta.Meta
		plan := p.plans.Default(loader.Name())
		if plan != nil {
			m = plan.DefaultMeta()
		} else {
			m = asset.DefaultMeta(loader)
		}
		metaBytes, err := m.Marshal()
		if err != nil {
			return nil, nil, nil, err
		}
		if err := p.source.WriteMeta(ctx, file.Path(), metaBytes); err != nil {
			return nil, nil, nil, fmt.Errorf("writing default source meta: %w", err)
		}
		return m, metaBytes, plan, nil

	default:
		return nil, nil, nil, fmt.Errorf("reading source meta: %w", err)
	}
}

// unchanged reports whether path's last build used the same content
// hash and the same full hash of every load dependency.
func (p *Processor) unchanged(path string, hash contenthash.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := p.infos.get(path)
	if info == nil || info.processedInfo == nil || info.processedInfo.Hash != hash {
		return false
	}
	for _, dependency := range info.processedInfo.LoadDependencies {
		current := p.infos.get(dependency.Path)
		if current == nil || current.processedInfo == nil || current.processedInfo.FullHash != dependency.FullHash {
			return false
		}
	}
	return true
}

// writeProcessed writes the artifact and meta inside one transaction.
// The caller holds path's gate exclusively.
//
// When a write fails the partial output is removed and the
// transaction ended. If the cleanup fails too, the transaction stays
// open and the next startup treats the path as interrupted.
func (p *Processor) writeProcessed(ctx context.Context, path string, data, metaBytes []byte) error {
	if p.log == nil {
		return errors.New("transaction log not open: call ValidateAndRecover first")
	}
	if err := p.log.BeginPath(path); err != nil {
		return err
	}
	writeErr := p.destination.Write(ctx, path, data)
	if writeErr == nil {
		writeErr = p.destination.WriteMeta(ctx, path, metaBytes)
	}
	if writeErr != nil {
		if err := p.removeOutput(ctx, path); err != nil {
			p.logger.Error("removing partial output failed", "path", path, "error", err)
			return fmt.Errorf("writing processed asset: %w", writeErr)
		}
	}
	if err := p.log.EndPath(path); err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("writing processed asset: %w", writeErr)
	}
	return nil
}

// removeOutput removes path's artifact and meta from the destination.
// Missing files are not an error.
func (p *Processor) removeOutput(ctx context.Context, path string) error {
	if err := p.destination.Remove(ctx, path); err != nil && !errors.Is(err, bytestore.ErrNotFound) {
		return err
	}
	if err := p.destination.RemoveMeta(ctx, path); err != nil && !errors.Is(err, bytestore.ErrNotFound) {
		return err
	}
	return nil
}

// finishProcessing records the outcome of process in the registry.
func (p *Processor) finishProcessing(path string, result Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := p.infos.getOrInsert(path)
	var direct *asset.LoadDirectError
	switch {
	case err == nil && result.Skipped:
		p.logger.Debug("asset unchanged", "path", path)
		info.setStatus(Processed)

	case err == nil:
		p.infos.clearDependencies(path, info)
		for _, dependency := range result.Info.LoadDependencies {
			p.infos.addDependant(dependency.Path, path)
		}
		info.processedInfo = result.Info
		info.setStatus(Processed)
		for _, dependant := range sortedKeys(info.dependants) {
			p.infos.enqueue(dependant)
		}

	case errors.As(err, &direct):
		p.logger.Warn("asset processing failed on a dependency",
			"path", path, "dependency", direct.Dependency, "error", err)
		// Rebuild on the next attempt, and attempt again once the
		// dependency builds.
		p.infos.clearDependencies(path, info)
		if direct.Dependency != path {
			info.failedDependency = direct.Dependency
			p.infos.addDependant(direct.Dependency, path)
		}
		info.setStatus(Failed)

	case IsLoaderMismatch(err):
		p.logger.Debug("no loader or plan for asset", "path", path, "error", err)
		info.setStatus(Failed)

	default:
		p.logger.Error("asset processing failed", "path", path, "error", err)
		info.setStatus(Failed)
	}
}
