// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/config"
	"github.com/bureau-foundation/assetpipe/lib/processor"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Root = root
	cfg.Paths.Source = filepath.Join(root, "assets")
	cfg.Paths.Destination = filepath.Join(root, "imported")
	cfg.Paths.State = filepath.Join(root, "state")
	cfg.Processor.Compression = "zstd"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	return cfg
}

func writeSource(t *testing.T, cfg *config.Config, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(cfg.Paths.Source, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestServeOnce(t *testing.T) {
	cfg := testConfig(t)
	writeSource(t, cfg, "page.bundle", "@include title.txt\nbody")
	writeSource(t, cfg, "title.txt", "Title")

	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()
	if err := serve(ctx, cfg, logger, true); err != nil {
		t.Fatalf("serve: %v", err)
	}

	destination, err := bytestore.NewFileStore(cfg.Paths.Destination, bytestore.CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	page, err := destination.Read(ctx, "page.bundle")
	if err != nil {
		t.Fatalf("reading processed page: %v", err)
	}
	if string(page) != "Title\nbody\n" {
		t.Errorf("page = %q, want flattened bundle", page)
	}
	if _, err := os.Stat(cfg.LogPath()); err != nil {
		t.Errorf("transaction log not created: %v", err)
	}

	// A second run over the same trees leaves failures as exit status 2.
	writeSource(t, cfg, "broken.bundle", "@bogus")
	err = serve(ctx, cfg, logger, true)
	var exit *exitError
	if !errors.As(err, &exit) || exit.ExitCode() != 2 {
		t.Fatalf("serve err = %v, want exit status 2", err)
	}
}

func TestNewLoggerAutoUsesJSONWhenPiped(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "auto"}, &buffer)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "path", "a.txt")

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buffer.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["msg"] != "kept" || record["path"] != "a.txt" {
		t.Errorf("record = %v", record)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger(config.LoggingConfig{Level: "loud", Format: "text"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRenderSummary(t *testing.T) {
	output := renderSummary(processor.Summary{
		Processed:   3,
		NonExistent: 1,
		Failed:      []string{"a.bundle", "b.bundle"},
	}, 1500*time.Millisecond, false)

	for _, want := range []string{
		"assetpipe finished in 1.5s",
		"processed 3",
		"missing 1",
		"failed 2",
		"    a.bundle\n",
		"    b.bundle\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("summary lacks %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "pending") {
		t.Errorf("summary mentions pending with none pending:\n%s", output)
	}
}
