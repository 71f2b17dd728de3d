// Command kvs-server runs the TCP front end over a selected backend.
// Grounded on the original source's src/bin/kvs-server.rs: resolves
// --basedir, refuses to start if it already belongs to the other backend,
// and wires SIGINT/SIGTERM to the same clean-shutdown path as a KILL
// request.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aether-kv/kvs/internal/backend"
	"github.com/aether-kv/kvs/internal/config"
	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/aether-kv/kvs/internal/server"
	"github.com/aether-kv/kvs/internal/workerpool"
	"github.com/urfave/cli/v2"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	app := &cli.App{
		Name:  "kvs-server",
		Usage: "key-value store TCP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides config.yml's ADDR)"},
			&cli.StringFlag{Name: "engine", Usage: "storage backend: kvs or sled (overrides config.yml's ENGINE)"},
			&cli.StringFlag{Name: "basedir", Usage: "directory the backend opens (overrides config.yml's BASEDIR)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}
}

// run loads config.yml (falling back to defaults when absent) and lets any
// explicitly-passed flag override the matching config field, per §1/§2's
// config component: config.yml drives the server when no flag overrides it.
func run(c *cli.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading config: %v", err), 255)
	}

	addr := cfg.ADDR
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	engineName := backend.Name(cfg.ENGINE)
	if c.IsSet("engine") {
		engineName = backend.Name(c.String("engine"))
	}

	baseDirFlag := cfg.BASEDIR
	if baseDirFlag == "" {
		baseDirFlag = cfg.DATA_DIR
	}
	if c.IsSet("basedir") {
		baseDirFlag = c.String("basedir")
	}
	baseDir, err := filepath.Abs(baseDirFlag)
	if err != nil {
		return cli.Exit(err.Error(), 255)
	}

	store, err := backend.OpenWithThreshold(engineName, baseDir, cfg.COMPACTION_THRESHOLD)
	if err != nil {
		if errors.Is(err, kvserrors.ErrUnsupportedEngine) {
			slog.Error("kvs-server: unsupported engine", "engine", engineName)
		} else {
			slog.Error("kvs-server: failed to open backend", "error", err, "path", baseDir, "engine", engineName)
			slog.Info("kvs-server: consider changing the working directory with --basedir")
		}
		return cli.Exit(err.Error(), 255)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("kvs-server: error closing backend", "error", err)
		}
	}()

	slog.Info("kvs-server: starting", "addr", addr, "basedir", baseDir, "engine", engineName)

	pool := workerpool.NewBoundedPool(8, int(cfg.BATCH_SIZE))
	defer pool.Close()

	srv := server.New(store, pool)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Warn("kvs-server: terminated by signal")
		srv.Stop()
	}()

	if err := srv.Start(addr); err != nil {
		return cli.Exit(err.Error(), 255)
	}

	slog.Info("kvs-server: shutdown gracefully")
	return nil
}
