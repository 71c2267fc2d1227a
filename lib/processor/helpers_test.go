// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/assetpipe/lib/asset"
	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/meta"
)

// textLoader reads ".txt" files as strings.
type textLoader struct{}

func (textLoader) Name() string                     { return "text" }
func (textLoader) Extensions() []string             { return []string{"txt"} }
func (textLoader) DefaultSettings() json.RawMessage { return nil }

func (textLoader) Load(ctx context.Context, data []byte, settings json.RawMessage, lc *asset.LoadContext) (any, error) {
	return string(data), nil
}

// listLoader reads ".list" files. A line "include: <path>" is replaced
// by the loaded value of path; a line "fail" fails the load. Other
// lines are kept.
type listLoader struct{}

func (listLoader) Name() string                     { return "list" }
func (listLoader) Extensions() []string             { return []string{"list"} }
func (listLoader) DefaultSettings() json.RawMessage { return nil }

func (listLoader) Load(ctx context.Context, data []byte, settings json.RawMessage, lc *asset.LoadContext) (any, error) {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch {
		case line == "fail":
			return nil, errors.New("list marked as failing")
		case strings.HasPrefix(line, "include: "):
			loaded, err := lc.LoadDirect(ctx, strings.TrimPrefix(line, "include: "))
			if err != nil {
				return nil, err
			}
			lines = append(lines, fmt.Sprint(loaded.Value))
			loaded.Release()
		default:
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// concatSaver writes the loaded string.
type concatSaver struct{}

func (concatSaver) Name() string                     { return "concat" }
func (concatSaver) DefaultSettings() json.RawMessage { return nil }

func (concatSaver) Save(ctx context.Context, loaded *asset.LoadedAsset, settings json.RawMessage) ([]byte, error) {
	return []byte(fmt.Sprint(loaded.Value)), nil
}

// recordingStore records the order of artifact writes.
type recordingStore struct {
	*bytestore.MemoryStore

	mu      sync.Mutex
	written []string
}

func (s *recordingStore) Write(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	s.written = append(s.written, path)
	s.mu.Unlock()
	return s.MemoryStore.Write(ctx, path, data)
}

func (s *recordingStore) takeWritten() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	written := s.written
	s.written = nil
	return written
}

type harness struct {
	source      *bytestore.MemoryStore
	destination *recordingStore
	loaders     *asset.Loaders
	plans       *Plans
	logPath     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loaders := asset.NewLoaders()
	for _, loader := range []asset.Loader{textLoader{}, listLoader{}} {
		if err := loaders.Register(loader); err != nil {
			t.Fatalf("Register(%s): %v", loader.Name(), err)
		}
	}
	plans := NewPlans(loaders)
	if err := plans.Register("list", concatSaver{}, "text"); err != nil {
		t.Fatalf("registering plan: %v", err)
	}
	if err := plans.SetDefault("list", "concat", "text"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	return &harness{
		source:      bytestore.NewMemoryStore(),
		destination: &recordingStore{MemoryStore: bytestore.NewMemoryStore()},
		loaders:     loaders,
		plans:       plans,
		logPath:     filepath.Join(t.TempDir(), "state", "transactions.log"),
	}
}

// newProcessor returns a processor over the harness stores. configure
// may adjust the config before construction.
func (h *harness) newProcessor(t *testing.T, configure ...func(*Config)) *Processor {
	t.Helper()
	config := Config{
		Source:              h.source,
		Destination:         h.destination,
		Loaders:             h.loaders,
		Plans:               h.plans,
		LogPath:             h.logPath,
		Logger:              slog.New(slog.DiscardHandler),
		MaxConcurrentBuilds: 4,
	}
	for _, fn := range configure {
		fn(&config)
	}
	p, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// run returns a processor that has completed Run.
func (h *harness) run(t *testing.T, configure ...func(*Config)) *Processor {
	t.Helper()
	p := h.newProcessor(t, configure...)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return p
}

func (h *harness) write(t *testing.T, path, content string) {
	t.Helper()
	if err := h.source.Write(context.Background(), path, []byte(content)); err != nil {
		t.Fatalf("writing source %s: %v", path, err)
	}
}

func (h *harness) output(t *testing.T, path string) string {
	t.Helper()
	data, err := h.destination.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("reading output %s: %v", path, err)
	}
	return string(data)
}

func (h *harness) processedInfo(t *testing.T, path string) *meta.ProcessedInfo {
	t.Helper()
	metaBytes, err := h.destination.ReadMeta(context.Background(), path)
	if err != nil {
		t.Fatalf("reading output meta %s: %v", path, err)
	}
	info, err := meta.ParseProcessedInfo(metaBytes)
	if err != nil {
		t.Fatalf("parsing output meta %s: %v", path, err)
	}
	return info
}

func (h *harness) hasOutput(path string) bool {
	_, err := h.destination.Read(context.Background(), path)
	return err == nil
}

func requireStatus(t *testing.T, p *Processor, path string, want ProcessStatus) {
	t.Helper()
	got, err := p.WaitUntilProcessed(context.Background(), path)
	if err != nil {
		t.Fatalf("WaitUntilProcessed(%s): %v", path, err)
	}
	if got != want {
		t.Fatalf("status of %s = %v, want %v", path, got, want)
	}
}
