package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alucardeht/hotcmd/internal/daemon"
	"github.com/alucardeht/hotcmd/internal/dispatch"
	"github.com/alucardeht/hotcmd/internal/logger"
	"github.com/alucardeht/hotcmd/internal/usage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var retain time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load command modules and serve invocations on the daemon socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags, retain)
		},
	}
	cmd.Flags().DurationVar(&retain, "retain", 0, "prune persisted usage older than this at startup (0 keeps everything)")
	return cmd
}

func runServe(parent context.Context, flags *globalFlags, retain time.Duration) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logger()); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	lifecycle := daemon.NewLifecycleManager(filepath.Dir(cfg.SocketPath), cfg.SocketPath)
	if err := lifecycle.Acquire(); err != nil {
		return err
	}
	defer lifecycle.Cleanup()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		dispatchOpts []dispatch.Option
		daemonOpts   []daemon.Option
		writer       *usage.Writer
		store        *usage.Store
	)
	if cfg.PersistUsage {
		store, err = usage.NewStore(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer store.Close()

		if retain > 0 {
			n, err := store.Prune(ctx, time.Now().Add(-retain))
			if err != nil {
				return fmt.Errorf("prune usage: %w", err)
			}
			logger.Info("pruned usage records", "count", n, "retain", retain)
		}

		writer = usage.NewWriter(store, usage.DefaultWriterConfig())
		writer.Start()
		defer writer.Stop()

		dispatchOpts = append(dispatchOpts, dispatch.WithUsageSink(writer))
		daemonOpts = append(daemonOpts, daemon.WithUsageStore(store))
	}

	dispatcher := dispatch.New(cfg.Dispatcher(), dispatchOpts...)
	if err := dispatcher.Initialize(ctx, ""); err != nil {
		return err
	}

	d := daemon.NewDaemon(cfg.SocketPath, dispatcher, daemonOpts...)
	if err := d.Start(ctx); err != nil {
		shutdownDispatcher(dispatcher)
		return err
	}

	logger.Info("hotcmd serving", "version", version, "socket", cfg.SocketPath, "root", cfg.RootDir)
	<-ctx.Done()

	d.Shutdown()
	return shutdownDispatcher(dispatcher)
}

func shutdownDispatcher(dispatcher *dispatch.Dispatcher) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return dispatcher.Shutdown(ctx)
}
