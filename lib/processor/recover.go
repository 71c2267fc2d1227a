// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/meta"
	"github.com/bureau-foundation/assetpipe/lib/txlog"
)

// ValidateAndRecover checks the transaction log left by the previous
// run, repairs the destination store, and opens a fresh log. It must
// run before Initialize.
//
// Paths with unfinished transactions lose their artifact and meta, so
// the next pass rebuilds them. A log that cannot be read or is
// structurally corrupt wipes the whole destination. Returns an error
// wrapping ErrUnrecoverable when the wipe or the new log fails.
func (p *Processor) ValidateAndRecover(ctx context.Context) error {
	valid := true
	var validation *txlog.ValidationError
	switch err := txlog.Validate(p.logPath); {
	case err == nil:
	case errors.As(err, &validation) && !validation.Corrupt():
		for _, path := range validation.Unfinished() {
			p.logger.Info("removing output of interrupted write", "path", path)
			if err := p.removeOutput(ctx, path); err != nil {
				p.logger.Error("removing interrupted output failed", "path", path, "error", err)
				valid = false
			}
		}
	default:
		p.logger.Error("transaction log invalid", "path", p.logPath, "error", err)
		valid = false
	}

	if !valid {
		p.logger.Warn("processed asset state is unrecoverable, removing all processed assets")
		if err := p.destination.RemoveAll(ctx, ""); err != nil {
			return fmt.Errorf("%w: removing processed assets: %v", ErrUnrecoverable, err)
		}
	}

	log, err := txlog.Open(p.logPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnrecoverable, err)
	}
	p.log = log
	return nil
}

type restoredInfo struct {
	path string
	info *meta.ProcessedInfo
}

// Initialize builds the registry from the stores: an entry for every
// source file, and for every destination artifact with a readable
// processed meta, its processed info and dependency edges. Artifacts
// whose source is gone or whose meta does not parse are deleted.
// Moves the processor to Processing.
func (p *Processor) Initialize(ctx context.Context) error {
	sourceFiles, err := files(ctx, p.source, "")
	if err != nil {
		return fmt.Errorf("listing source assets: %w", err)
	}
	destinationFiles, err := files(ctx, p.destination, "")
	if err != nil {
		return fmt.Errorf("listing processed assets: %w", err)
	}

	sources := make(map[string]struct{})
	for _, path := range sourceFiles {
		sources[path] = struct{}{}
	}

	var restored []restoredInfo
	for _, path := range destinationFiles {
		if _, ok := sources[path]; !ok {
			p.logger.Debug("removing processed asset without source", "path", path)
			p.removeOrphan(ctx, path)
			continue
		}
		metaBytes, err := p.destination.ReadMeta(ctx, path)
		if err != nil {
			p.logger.Debug("removing processed asset with unreadable meta", "path", path, "error", err)
			p.removeOrphan(ctx, path)
			continue
		}
		info, err := meta.ParseProcessedInfo(metaBytes)
		if err != nil {
			p.logger.Debug("removing processed asset with malformed meta", "path", path, "error", err)
			p.removeOrphan(ctx, path)
			continue
		}
		restored = append(restored, restoredInfo{path: path, info: info})
	}

	p.mu.Lock()
	for path := range sources {
		p.infos.getOrInsert(path)
	}
	for _, r := range restored {
		p.infos.get(r.path).processedInfo = r.info
		for _, dependency := range r.info.LoadDependencies {
			p.infos.addDependant(dependency.Path, r.path)
		}
	}
	p.mu.Unlock()

	p.logger.Info("processor initialized", "sources", len(sources), "restored", len(restored))
	p.setState(Processing)
	return nil
}

func (p *Processor) removeOrphan(ctx context.Context, path string) {
	if err := p.removeOutput(ctx, path); err != nil {
		p.logger.Warn("removing processed asset failed", "path", path, "error", err)
	}
}

// files returns every file below dir in reader, depth first.
func files(ctx context.Context, reader bytestore.Reader, dir string) ([]string, error) {
	var collected []string
	var walk func(dir string) error
	walk = func(dir string) error {
		children, err := reader.ReadDirectory(ctx, dir)
		if err != nil {
			return err
		}
		for child := range children {
			isDirectory, err := reader.IsDirectory(ctx, child)
			if err != nil {
				return err
			}
			if isDirectory {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			collected = append(collected, child)
		}
		return nil
	}
	if err := walk(dir); err != nil {
		return nil, err
	}
	return collected, nil
}
