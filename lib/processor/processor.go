// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/assetpipe/lib/asset"
	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/clock"
	"github.com/bureau-foundation/assetpipe/lib/txlog"
)

// ErrUnrecoverable is returned (wrapped) when the destination store is
// in an unknown state and could not be reset. Nothing can be processed
// safely; the caller should exit.
var ErrUnrecoverable = errors.New("processed assets unrecoverable")

// State is the processor's lifecycle state.
type State int

const (
	// Initializing: recovery and the initial scan have not finished.
	Initializing State = iota

	// Processing: a pass or event batch is in progress.
	Processing

	// Finished: the reprocess queue is empty and no events are being
	// handled.
	Finished
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Processing:
		return "processing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config configures a Processor.
type Config struct {
	// Source holds the source assets and their metas. Required.
	Source bytestore.Store

	// Destination receives processed artifacts. Required.
	Destination bytestore.Store

	// Loaders resolves loader names and extensions. Required.
	Loaders *asset.Loaders

	// Plans resolves process plans. Nil means no plans: every asset is
	// copied.
	Plans *Plans

	// LogPath is the transaction log file. Required.
	LogPath string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// MaxConcurrentBuilds bounds the builds running at once. Zero or
	// less means GOMAXPROCS.
	MaxConcurrentBuilds int

	// EventSettle is how long Listen waits after the first event of a
	// burst before handling it, so that related changes are handled
	// together.
	EventSettle time.Duration
}

// Processor processes a source store into a destination store.
type Processor struct {
	source      bytestore.Store
	destination bytestore.Store
	loaders     *asset.Loaders
	plans       *Plans
	logPath     string
	logger      *slog.Logger
	clock       clock.Clock
	eventSettle time.Duration

	// server loads source assets for plans. Its reader is the gated
	// destination, so LoadDirect waits for dependencies to be built.
	server *asset.Server
	reader *GatedReader
	slots  *semaphore.Weighted

	log *txlog.Log

	// mu guards infos. It is never held across store I/O.
	mu    sync.RWMutex
	infos *assetInfos

	stateMu     sync.Mutex
	state       State
	initialized chan struct{}
	finished    chan struct{}
}

// New returns a processor in the Initializing state.
func New(config Config) (*Processor, error) {
	if config.Source == nil || config.Destination == nil {
		return nil, errors.New("processor: source and destination stores are required")
	}
	if config.Loaders == nil {
		return nil, errors.New("processor: loaders are required")
	}
	if config.LogPath == "" {
		return nil, errors.New("processor: transaction log path is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	plans := config.Plans
	if plans == nil {
		plans = NewPlans(config.Loaders)
	}
	builds := config.MaxConcurrentBuilds
	if builds <= 0 {
		builds = runtime.GOMAXPROCS(0)
	}

	p := &Processor{
		source:      config.Source,
		destination: config.Destination,
		loaders:     config.Loaders,
		plans:       plans,
		logPath:     config.LogPath,
		logger:      logger,
		clock:       clk,
		eventSettle: config.EventSettle,
		slots:       semaphore.NewWeighted(int64(builds)),
		infos:       newAssetInfos(),
		state:       Initializing,
		initialized: make(chan struct{}),
		finished:    make(chan struct{}),
	}
	p.reader = &GatedReader{processor: p, destination: config.Destination}
	p.server = asset.NewServer(asset.ServerConfig{
		Reader:              p.reader,
		Loaders:             config.Loaders,
		Logger:              logger,
		SkipDependencyLoads: true,
	})
	return p, nil
}

// Reader returns a reader over the destination store that waits for
// each path to be processed before reading it. Applications load
// processed artifacts through it.
func (p *Processor) Reader() *GatedReader { return p.reader }

// Plans returns the processor's plan set.
func (p *Processor) Plans() *Plans { return p.plans }

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Processor) setState(state State) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == state {
		return
	}
	previous := p.state
	p.state = state
	if previous == Initializing {
		close(p.initialized)
	}
	switch state {
	case Processing:
		if previous == Finished {
			p.finished = make(chan struct{})
		}
	case Finished:
		close(p.finished)
	}
	p.logger.Debug("processor state changed", "from", previous, "to", state)
}

// WaitUntilInitialized blocks until the processor has left the
// Initializing state or ctx is done.
func (p *Processor) WaitUntilInitialized(ctx context.Context) error {
	p.stateMu.Lock()
	initialized := p.initialized
	p.stateMu.Unlock()
	select {
	case <-initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntilFinished blocks until the processor is Finished or ctx is
// done.
func (p *Processor) WaitUntilFinished(ctx context.Context) error {
	p.stateMu.Lock()
	if p.state == Finished {
		p.stateMu.Unlock()
		return nil
	}
	finished := p.finished
	p.stateMu.Unlock()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntilProcessed blocks until path has a status and returns it.
// A path the processor does not know is NonExistent.
func (p *Processor) WaitUntilProcessed(ctx context.Context, path string) (ProcessStatus, error) {
	if err := p.WaitUntilInitialized(ctx); err != nil {
		return 0, err
	}

	p.mu.RLock()
	info := p.infos.get(path)
	if info == nil {
		p.mu.RUnlock()
		return NonExistent, nil
	}
	if info.status != 0 {
		status := info.status
		p.mu.RUnlock()
		return status, nil
	}
	statusSet := info.statusSet
	p.mu.RUnlock()

	// Let the build this caller is blocking run in its place.
	slot := slotFrom(ctx)
	if slot != nil {
		slot.suspend()
	}
	var waitErr error
	select {
	case <-statusSet:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if slot != nil {
		if err := slot.resume(ctx); err != nil && waitErr == nil {
			waitErr = err
		}
	}
	if waitErr != nil {
		return 0, waitErr
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return info.status, nil
}

// Close closes the transaction log.
func (p *Processor) Close() error {
	if p.log == nil {
		return nil
	}
	return p.log.Close()
}

type slotKey struct{}

// buildSlot is one unit of the build semaphore, held by a running
// build. A build that waits for a dependency gives its slot up while
// it waits; with every slot held by waiting builds the dependencies
// could never run.
type buildSlot struct {
	semaphore *semaphore.Weighted

	mu      sync.Mutex
	held    bool
	waiters int
}

func (p *Processor) acquireSlot(ctx context.Context) (context.Context, *buildSlot, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return ctx, nil, err
	}
	slot := &buildSlot{semaphore: p.slots, held: true}
	return context.WithValue(ctx, slotKey{}, slot), slot, nil
}

func slotFrom(ctx context.Context) *buildSlot {
	slot, _ := ctx.Value(slotKey{}).(*buildSlot)
	return slot
}

func (s *buildSlot) suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters++
	if s.waiters == 1 && s.held {
		s.semaphore.Release(1)
		s.held = false
	}
}

func (s *buildSlot) resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters--
	if s.waiters > 0 || s.held {
		return nil
	}
	if err := s.semaphore.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held = true
	return nil
}

func (s *buildSlot) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		s.semaphore.Release(1)
		s.held = false
	}
}
