package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathakanu/medMemo/internal/config"
	"github.com/pathakanu/medMemo/internal/database"
	"github.com/pathakanu/medMemo/internal/logger"
	"github.com/pathakanu/medMemo/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "medmemo",
		Short:        "Medication reminder service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and, when enabled, the in-process scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var sched *scheduler.Scheduler
			if a.cfg.SchedulerEnabled {
				sched = scheduler.New(a.dispatcher, a.cfg.LocalTimezone, 5*time.Minute, a.log)
				if err := sched.Start(); err != nil {
					return fmt.Errorf("scheduler start: %w", err)
				}
			}

			server := a.httpServer()
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(":" + a.cfg.Port)
			}()

			return waitForShutdown(server, sched, errCh, a.log)
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one reminder dispatch cycle and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.dispatcher.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Env)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, log)
			if err != nil {
				return fmt.Errorf("database init failed: %w", err)
			}
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func waitForShutdown(server shutdowner, sched *scheduler.Scheduler, errCh <-chan error, log *zap.Logger) error {
	stopCtx := make(chan os.Signal, 1)
	signal.Notify(stopCtx, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-stopCtx:
		log.Info("shutting down...")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("server error", zap.Error(serveErr))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}
	return serveErr
}
