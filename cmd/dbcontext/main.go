// Command dbcontext serves the schema metadata cache over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbcontext-go/dbcontext/internal/config"
	"github.com/dbcontext-go/dbcontext/internal/database"
	"github.com/dbcontext-go/dbcontext/internal/database/mysql"
	"github.com/dbcontext-go/dbcontext/internal/database/postgres"
	"github.com/dbcontext-go/dbcontext/internal/logger"
	"github.com/dbcontext-go/dbcontext/internal/metadata"
	"github.com/dbcontext-go/dbcontext/internal/server"
	"github.com/dbcontext-go/dbcontext/internal/snapshot"
	snapminio "github.com/dbcontext-go/dbcontext/internal/snapshot/minio"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "dbcontext",
		Short:        "Schema metadata cache for AI database assistants",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	exec, err := openExecutor(ctx, cfg)
	if err != nil {
		return err
	}
	defer exec.Close()

	var mirror snapshot.Mirror
	if cfg.Mirror.Enabled {
		m, err := snapminio.New(ctx, &cfg.Mirror)
		if err != nil {
			// The mirror is an optimization; a broken one must not keep
			// the cache from serving.
			log.Warnf("snapshot mirror unavailable: %v", err)
		} else {
			mirror = m
		}
	}
	store := snapshot.New(cfg.Cache.Dir, mirror, log)

	manager, err := metadata.NewManager(ctx, metadata.Options{
		Executor: exec,
		Store:    store,
		Logger:   log,
		Policy: metadata.TTLPolicy{
			Structure:  cfg.Cache.StructureTTL,
			Statistics: cfg.Cache.StatisticsTTL,
		},
		SaveInterval: cfg.Cache.SaveInterval,
		LoadSnapshot: cfg.Cache.LoadSnapshotEnabled(),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(manager, log).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("server shutdown: %v", err)
		}
		if err := manager.Close(shutdownCtx); err != nil {
			log.Warnf("final snapshot save: %v", err)
		}
	}
	return nil
}

func openExecutor(ctx context.Context, cfg *config.Config) (database.Executor, error) {
	switch cfg.Database.Driver {
	case "mysql":
		return mysql.New(ctx, &cfg.Database)
	default:
		return postgres.New(ctx, &cfg.Database)
	}
}
