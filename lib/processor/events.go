// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/assetpipe/lib/bytestore"
)

// Run recovers from the previous run, initializes the registry,
// processes every source asset, and drains the reprocess queue. The
// processor is Finished when Run returns nil.
func (p *Processor) Run(ctx context.Context) error {
	start := p.clock.Now()
	if err := p.ValidateAndRecover(ctx); err != nil {
		return err
	}
	if err := p.Initialize(ctx); err != nil {
		return err
	}
	if err := p.ProcessAll(ctx, ""); err != nil {
		return err
	}
	p.finish(ctx)
	p.logger.Info("processing finished", "duration", p.clock.Now().Sub(start))
	return nil
}

// ProcessAll processes every source file below dir concurrently and
// waits for all of them. Failures of individual paths are recorded in
// their status; only a listing failure or the end of ctx is returned.
func (p *Processor) ProcessAll(ctx context.Context, dir string) error {
	paths, err := files(ctx, p.source, dir)
	if err != nil {
		return fmt.Errorf("listing %q: %w", dir, err)
	}
	return p.processPaths(ctx, paths)
}

// processPaths builds paths concurrently. It returns ctx's error if
// any build was cut short by it.
func (p *Processor) processPaths(ctx context.Context, paths []string) error {
	var group errgroup.Group
	for _, path := range paths {
		group.Go(func() error {
			_, err := p.ProcessPath(ctx, path)
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return err
			}
			return nil
		})
	}
	return group.Wait()
}

// TryReprocessingQueued processes the reprocess queue until a pass
// leaves it empty.
func (p *Processor) TryReprocessingQueued(ctx context.Context) {
	for {
		p.mu.Lock()
		queue := p.infos.takeQueue()
		p.mu.Unlock()
		if len(queue) == 0 {
			return
		}
		p.logger.Debug("reprocessing queued assets", "count", len(queue))
		if err := p.processPaths(ctx, queue); err != nil {
			p.logger.Debug("reprocessing interrupted", "error", err)
			return
		}
	}
}

// finish drains the queue, reclaims loader storage, and marks the
// processor Finished.
func (p *Processor) finish(ctx context.Context) {
	p.TryReprocessingQueued(ctx)
	p.server.ProcessHandleDrops()
	p.setState(Finished)
}

// HandleEvent applies one source change.
func (p *Processor) HandleEvent(ctx context.Context, event bytestore.Event) {
	logger := p.logger.With("path", event.Path, "event", event.Kind)
	switch event.Kind {
	case bytestore.Added, bytestore.Modified,
		bytestore.AddedMeta, bytestore.ModifiedMeta, bytestore.RemovedMeta:
		// A removed meta is regenerated; the asset itself may still
		// exist.
		logger.Debug("reprocessing changed asset")
		p.ProcessPath(ctx, event.Path)

	case bytestore.Removed:
		logger.Debug("removing processed asset of removed source")
		p.removePath(ctx, event.Path)

	case bytestore.AddedFolder:
		logger.Debug("processing added folder")
		if err := p.ProcessAll(ctx, event.Path); err != nil {
			logger.Warn("processing added folder failed", "error", err)
		}

	case bytestore.RemovedFolder:
		logger.Debug("removing processed folder")
		p.removeFolder(ctx, event.Path)

	default:
		logger.Warn("ignoring unknown source event")
	}
}

// removePath forgets path and deletes its processed output. Dependants
// are queued so they notice the loss.
func (p *Processor) removePath(ctx context.Context, path string) {
	p.mu.Lock()
	info := p.infos.remove(path)
	p.mu.Unlock()

	if info != nil {
		info.gate.Lock()
		defer info.gate.Unlock()
	}
	if p.log == nil {
		p.removeOrphan(ctx, path)
		return
	}
	if err := p.log.BeginPath(path); err != nil {
		p.logger.Error("removing processed asset failed", "path", path, "error", err)
		return
	}
	if err := p.removeOutput(ctx, path); err != nil {
		// The transaction stays open: the next startup removes the
		// output again.
		p.logger.Error("removing processed asset failed", "path", path, "error", err)
		return
	}
	if err := p.log.EndPath(path); err != nil {
		p.logger.Error("removing processed asset failed", "path", path, "error", err)
	}
}

// removeFolder removes every known path below dir. The empty dir is
// the store root.
func (p *Processor) removeFolder(ctx context.Context, dir string) {
	prefix := dir + "/"
	p.mu.RLock()
	var removed []string
	for _, path := range p.infos.paths() {
		if dir == "" || strings.HasPrefix(path, prefix) {
			removed = append(removed, path)
		}
	}
	p.mu.RUnlock()

	for _, path := range removed {
		p.removePath(ctx, path)
	}
	if err := p.destination.RemoveAll(ctx, dir); err != nil && !errors.Is(err, bytestore.ErrNotFound) {
		p.logger.Warn("removing processed folder failed", "path", dir, "error", err)
	}
}

// Listen handles source events until ctx is done or events is closed.
// After the first event of a burst it waits EventSettle, takes every
// event that has arrived, handles them in order, and then drains the
// reprocess queue.
func (p *Processor) Listen(ctx context.Context, events <-chan bytestore.Event) error {
	p.logger.Info("listening for source changes")
	for {
		var batch []bytestore.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			batch = append(batch, event)
		}

		p.setState(Processing)
		if p.eventSettle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(p.eventSettle):
			}
		}

		closed := false
	drain:
		for {
			select {
			case event, ok := <-events:
				if !ok {
					closed = true
					break drain
				}
				batch = append(batch, event)
			default:
				break drain
			}
		}

		for _, event := range batch {
			p.HandleEvent(ctx, event)
		}
		p.finish(ctx)
		p.logger.Info("source changes processed", "events", len(batch))
		if closed {
			return nil
		}
	}
}
