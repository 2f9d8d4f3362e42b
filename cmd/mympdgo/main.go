// Command mympdgo serves the myMPD style JSON-RPC API for one or more MPD
// partitions.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"mympdgo/internal/backend"
	"mympdgo/internal/cache"
	"mympdgo/internal/config"
	"mympdgo/internal/dispatch"
	"mympdgo/internal/logging"
	"mympdgo/internal/metrics"
	"mympdgo/internal/partition"
	"mympdgo/internal/statestore"
	"mympdgo/internal/transport"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("mympdgo", flag.ContinueOnError)
	config.Flags(fs)
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	showHelp := fs.BoolP("help", "h", false, "print help and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *showHelp {
		fmt.Fprintf(os.Stderr, "Usage: mympdgo [options]\n\n%s", fs.FlagUsages())
		return 0
	}
	if *showVersion {
		fmt.Println("mympdgo", version)
		return 0
	}

	boot := logging.Setup(logging.Options{Level: 5})
	cfg, err := config.Load(fs, nil, boot.Logger)
	if err != nil {
		boot.Error(err, "Invalid configuration")
		_ = boot.Sync()
		return 1
	}
	_ = boot.Sync()

	log := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	defer func() { _ = log.Sync() }()
	logger := log.Logger

	logger.Info("Starting mympdgo", "version", version, "workdir", cfg.Workdir, "firstStartup", cfg.FirstStartup)

	if err := os.MkdirAll(cfg.Workdir, 0o750); err != nil {
		logger.Error(err, "Creating workdir failed", "workdir", cfg.Workdir)
		return 1
	}
	store, err := statestore.Open(cfg.StateDBPath())
	if err != nil {
		logger.Error(err, "Opening state database failed")
		return 1
	}
	defer store.Close()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := dispatch.New(cfg.Worker.ResponseTTL, logger.WithName("dispatch"))
	pool := partition.NewPool(partition.Options{
		Dialer: &backend.MPDDialer{
			CommandTimeout: cfg.Worker.CommandTimeout,
			Logger:         logger.WithName("mpd"),
		},
		Shared:    backend.NewShared(),
		Config:    cfg,
		Albums:    cache.NewAlbumCache(),
		Stickers:  cache.NewStickerCache(),
		Store:     store,
		Responder: d,
		Levels:    log,
		Logger:    logger.WithName("partition"),
	}, d)
	srv := transport.New(d, cfg.Privileged, cfg.Worker.ResponseTTL, logger.WithName("http"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(ctx) })
	g.Go(func() error { return pool.Run(ctx, cfg.Partitions()) })
	g.Go(func() error { return srv.ListenAndServe(ctx, cfg.ListenAddr()) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err, "Exiting with error")
		return 1
	}
	logger.Info("Stopped")
	return 0
}
