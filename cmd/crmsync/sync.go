package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfield/crmsync/internal/config"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the sync session until interrupted",
	Long: `Start a sync session: incremental pull, debounced push loops and
live listeners. Runs until SIGINT/SIGTERM. While running, edits to the
config file re-push the remote settings document.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		eng, cleanup, err := openEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.StartSync(ctx, cfg.Tenant); err != nil {
			return fmt.Errorf("sync failed to start: %w", err)
		}

		if cfg.File != "" {
			stop, err := config.Watch(ctx, cfg.File, logger, func(fresh *config.Config) {
				pctx, pcancel := context.WithTimeout(ctx, 15*time.Second)
				defer pcancel()
				if err := eng.PushConfig(pctx, cfg.Tenant, fresh.SettingsMap()); err != nil {
					logger.Printf("WARNING: settings push failed: %v", err)
					return
				}
				logger.Printf("settings re-pushed after config edit")
			})
			if err != nil {
				logger.Printf("WARNING: config watch unavailable: %v", err)
			} else {
				defer stop()
			}
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig
		logger.Printf("received %s, stopping", s)
		eng.StopSync()
		return nil
	},
}

var fullSyncCmd = &cobra.Command{
	Use:   "full-sync",
	Short: "Discard the watermark and rebuild local state from remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		eng, cleanup, err := openEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		done := make(chan error, 1)
		eng.ForceFullSync(ctx, cfg.Tenant, func(err error) { done <- err })
		if err := <-done; err != nil {
			return fmt.Errorf("full sync failed: %w", err)
		}
		fmt.Println("Full sync complete.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(fullSyncCmd)
}
