// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/assetpipe/lib/asset"
	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/processor"
)

func newLoaders(t *testing.T) (*asset.Loaders, *processor.Plans) {
	t.Helper()
	loaders := asset.NewLoaders()
	plans := processor.NewPlans(loaders)
	if err := Register(loaders, plans); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return loaders, plans
}

func writeAll(t *testing.T, store bytestore.Store, files map[string]string) {
	t.Helper()
	for path, content := range files {
		if err := store.Write(context.Background(), path, []byte(content)); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
}

func TestLoaderDirectives(t *testing.T) {
	store := bytestore.NewMemoryStore()
	writeAll(t, store, map[string]string{
		"main.bundle": strings.Join([]string{
			"# dropped",
			"@ref icon.txt",
			"intro",
			"@include part.txt",
			"@label notes",
			"@include part.txt",
			"note",
			"@end",
			"outro",
		}, "\n"),
		"part.txt": "shared\n",
		"icon.txt": "icon",
	})
	loaders, _ := newLoaders(t)
	server := asset.NewServer(asset.ServerConfig{Reader: store, Loaders: loaders})

	ctx := context.Background()
	handle := server.Load(ctx, "main.bundle")
	defer handle.Release()
	server.Wait()

	b, ok := asset.Get[*Bundle](server, handle)
	if !ok {
		t.Fatalf("bundle not loaded: state %v", server.LoadState(handle.ID()))
	}
	if b.Text != "intro\nshared\noutro" {
		t.Errorf("Text = %q", b.Text)
	}
	if !slices.Equal(b.Refs, []string{"icon.txt"}) {
		t.Errorf("Refs = %v", b.Refs)
	}
	if len(b.Sections) != 1 || b.Sections[0] != (Section{Label: "notes", Text: "shared\nnote"}) {
		t.Errorf("Sections = %+v", b.Sections)
	}

	notes := server.Load(ctx, "main.bundle#notes")
	defer notes.Release()
	server.Wait()
	if value, ok := asset.Get[string](server, notes); !ok || value != "shared\nnote" {
		t.Errorf("labeled section = %q, %v", value, ok)
	}
	if state := server.RecursiveDependencyLoadState(handle.ID()); state != asset.Loaded {
		t.Errorf("recursive state = %v, want loaded", state)
	}
}

func TestLoaderRejectsMalformedBundles(t *testing.T) {
	for name, content := range map[string]string{
		"unterminated section": "@label a\ntext",
		"nested section":       "@label a\n@label b\n@end\n@end",
		"stray end":            "@end",
		"unknown directive":    "@frobnicate x",
		"unnamed section":      "@label\n@end",
	} {
		t.Run(name, func(t *testing.T) {
			store := bytestore.NewMemoryStore()
			writeAll(t, store, map[string]string{"bad.bundle": content})
			loaders, _ := newLoaders(t)
			server := asset.NewServer(asset.ServerConfig{Reader: store, Loaders: loaders})
			if _, err := server.LoadDirect(context.Background(), "bad.bundle"); err == nil {
				t.Error("LoadDirect succeeded")
			}
		})
	}
}

func TestFormatRoundTrips(t *testing.T) {
	original := &Bundle{
		Text:     "line one\nline two",
		Refs:     []string{"a.txt", "b.txt"},
		Sections: []Section{{Label: "x", Text: "inside"}, {Label: "empty"}},
	}
	store := bytestore.NewMemoryStore()
	writeAll(t, store, map[string]string{"copy.bundle": string(original.Format())})
	loaders, _ := newLoaders(t)
	server := asset.NewServer(asset.ServerConfig{Reader: store, Loaders: loaders, SkipDependencyLoads: true})

	loaded, err := server.LoadDirect(context.Background(), "copy.bundle")
	if err != nil {
		t.Fatalf("LoadDirect: %v", err)
	}
	defer loaded.Release()
	got := loaded.Value.(*Bundle)
	if got.Text != original.Text || !slices.Equal(got.Refs, original.Refs) || !slices.Equal(got.Sections, original.Sections) {
		t.Errorf("round trip = %+v, want %+v", got, original)
	}
}

func TestProcessorFlattensBundles(t *testing.T) {
	source := bytestore.NewMemoryStore()
	destination := bytestore.NewMemoryStore()
	writeAll(t, source, map[string]string{
		"site/page.bundle":   "@include site/header.bundle\nbody",
		"site/header.bundle": "@include site/title.txt\n---",
		"site/title.txt":     "Title",
	})
	loaders, plans := newLoaders(t)
	p, err := processor.New(processor.Config{
		Source:      source,
		Destination: destination,
		Loaders:     loaders,
		Plans:       plans,
		LogPath:     filepath.Join(t.TempDir(), "log"),
		Logger:      slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx := context.Background()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	page, err := destination.Read(ctx, "site/page.bundle")
	if err != nil {
		t.Fatal(err)
	}
	if string(page) != "Title\n---\nbody\n" {
		t.Errorf("flattened page = %q", page)
	}

	writeAll(t, source, map[string]string{"site/title.txt": "New Title"})
	if _, err := p.ProcessPath(ctx, "site/title.txt"); err != nil {
		t.Fatal(err)
	}
	p.TryReprocessingQueued(ctx)
	page, err = destination.Read(ctx, "site/page.bundle")
	if err != nil {
		t.Fatal(err)
	}
	if string(page) != "New Title\n---\nbody\n" {
		t.Errorf("page after title change = %q", page)
	}
}
