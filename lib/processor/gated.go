// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/bureau-foundation/assetpipe/lib/bytestore"
)

// ErrNotProcessed is returned (wrapped) by GatedReader for a path
// whose latest processing attempt did not produce an artifact.
var ErrNotProcessed = errors.New("asset not processed")

// GatedReader reads processed artifacts from the destination store.
// Reads of a path wait until the processor has a status for it, and
// hold the path's gate shared while reading, so an artifact and its
// meta always come from the same build. Directory listings are not
// gated.
type GatedReader struct {
	processor   *Processor
	destination bytestore.Reader
}

var _ bytestore.PairReader = (*GatedReader)(nil)

// gate waits until path is processed and returns its gate.
func (g *GatedReader) gate(ctx context.Context, path string) (*sync.RWMutex, error) {
	status, err := g.processor.WaitUntilProcessed(ctx, path)
	if err != nil {
		return nil, err
	}
	switch status {
	case Processed:
	case NonExistent:
		return nil, fmt.Errorf("%w: %s", bytestore.ErrNotFound, path)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotProcessed, path, status)
	}

	g.processor.mu.RLock()
	defer g.processor.mu.RUnlock()
	info := g.processor.infos.get(path)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", bytestore.ErrNotFound, path)
	}
	return info.gate, nil
}

// ReadPair returns the artifact and meta of path from one build.
func (g *GatedReader) ReadPair(ctx context.Context, path string) (data, metaBytes []byte, err error) {
	gate, err := g.gate(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	gate.RLock()
	defer gate.RUnlock()

	metaBytes, err = g.destination.ReadMeta(ctx, path)
	if err != nil && !errors.Is(err, bytestore.ErrNotFound) {
		return nil, nil, err
	}
	data, err = g.destination.Read(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return data, metaBytes, nil
}

func (g *GatedReader) Read(ctx context.Context, path string) ([]byte, error) {
	gate, err := g.gate(ctx, path)
	if err != nil {
		return nil, err
	}
	gate.RLock()
	defer gate.RUnlock()
	return g.destination.Read(ctx, path)
}

func (g *GatedReader) ReadMeta(ctx context.Context, path string) ([]byte, error) {
	gate, err := g.gate(ctx, path)
	if err != nil {
		return nil, err
	}
	gate.RLock()
	defer gate.RUnlock()
	return g.destination.ReadMeta(ctx, path)
}

func (g *GatedReader) IsDirectory(ctx context.Context, path string) (bool, error) {
	return g.destination.IsDirectory(ctx, path)
}

func (g *GatedReader) ReadDirectory(ctx context.Context, dir string) (iter.Seq[string], error) {
	return g.destination.ReadDirectory(ctx, dir)
}
