// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// assetpipe builds a source asset tree into a processed tree and keeps
// it up to date.
//
// On start it validates the transaction log left by the previous run,
// repairs or wipes the processed tree as needed, and then processes
// every source asset whose content, settings, or dependencies changed.
// Unless --once is given (or the config disables watching) it then
// watches the source tree and reprocesses assets as they change,
// including every asset that depends on a changed one.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assetpipe/lib/asset"
	"github.com/bureau-foundation/assetpipe/lib/bundle"
	"github.com/bureau-foundation/assetpipe/lib/bytestore"
	"github.com/bureau-foundation/assetpipe/lib/config"
	"github.com/bureau-foundation/assetpipe/lib/processor"
	"github.com/bureau-foundation/assetpipe/lib/txlog"
	"github.com/bureau-foundation/assetpipe/lib/version"
)

// exitError carries a process exit code without a message.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		once        bool
		dumpLog     bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("assetpipe", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to assetpipe.yaml (default: $ASSETPIPE_CONFIG)")
	flagSet.BoolVar(&once, "once", false, "process once and exit instead of watching for changes")
	flagSet.BoolVar(&dumpLog, "dump-log", false, "print the transaction log in diagnostic notation and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		version.Print(os.Stdout, "assetpipe")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if dumpLog {
		return txlog.Dump(cfg.LogPath(), os.Stdout)
	}

	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, once)
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the processor over the configured trees. It returns after
// the initial pass when watching is off, and when ctx is done
// otherwise.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	compression, err := bytestore.ParseCompression(cfg.Processor.Compression)
	if err != nil {
		return err
	}
	settle, err := cfg.EventSettleDuration()
	if err != nil {
		return err
	}

	source, err := bytestore.NewFileStore(cfg.Paths.Source, bytestore.CompressionNone)
	if err != nil {
		return fmt.Errorf("opening source tree: %w", err)
	}
	destination, err := bytestore.NewFileStore(cfg.Paths.Destination, compression)
	if err != nil {
		return fmt.Errorf("opening destination tree: %w", err)
	}

	loaders := asset.NewLoaders()
	plans := processor.NewPlans(loaders)
	if err := bundle.Register(loaders, plans); err != nil {
		return fmt.Errorf("registering loaders: %w", err)
	}

	pipeline, err := processor.New(processor.Config{
		Source:              source,
		Destination:         destination,
		Loaders:             loaders,
		Plans:               plans,
		LogPath:             cfg.LogPath(),
		Logger:              logger,
		MaxConcurrentBuilds: cfg.Processor.MaxConcurrentBuilds,
		EventSettle:         settle,
	})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	// The watcher starts before the initial pass so that changes made
	// during the pass are not missed.
	var watcher bytestore.Watcher
	if cfg.Processor.Watch && !once {
		watcher, err = source.Watch(ctx)
		switch {
		case errors.Is(err, bytestore.ErrWatchUnsupported):
			logger.Warn("source tree cannot be watched; processing once", "source", cfg.Paths.Source)
		case err != nil:
			return fmt.Errorf("watching source tree: %w", err)
		default:
			defer watcher.Close()
		}
	}

	start := time.Now()
	if err := pipeline.Run(ctx); err != nil {
		return err
	}
	summary := pipeline.Summary()
	printSummary(os.Stdout, summary, time.Since(start), isTerminal(os.Stdout))

	if watcher == nil {
		if len(summary.Failed) > 0 {
			return &exitError{code: 2}
		}
		return nil
	}

	err = pipeline.Listen(ctx, watcher.Events())
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `assetpipe builds a source asset tree into a processed tree.

Configuration is read from the file named by --config or by the
ASSETPIPE_CONFIG environment variable.

Usage:
  assetpipe [flags]

Examples:
  # Process everything once and exit
  assetpipe --config assetpipe.yaml --once

  # Keep the processed tree up to date while editing
  ASSETPIPE_CONFIG=assetpipe.yaml assetpipe

  # Inspect the transaction log after a crash
  assetpipe --config assetpipe.yaml --dump-log

Exit status is 2 when a one-shot run leaves assets failed.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
