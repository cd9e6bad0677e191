package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the remote settings document",
}

var configPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the configured settings to the remote settings document",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		eng, cleanup, err := openEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.PushConfig(ctx, cfg.Tenant, cfg.SettingsMap()); err != nil {
			return fmt.Errorf("settings push failed: %w", err)
		}
		fmt.Println("Settings pushed.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configPushCmd)
	rootCmd.AddCommand(configCmd)
}
