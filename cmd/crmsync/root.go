package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openfield/crmsync/internal/config"
	"github.com/openfield/crmsync/internal/engine"
	"github.com/openfield/crmsync/internal/localstore"
	"github.com/openfield/crmsync/internal/remote"
)

var (
	flagConfig  string
	flagDB      string
	flagRemote  string
	flagTenant  string
	flagLogFile string
	flagOffline bool
)

var rootCmd = &cobra.Command{
	Use:   "crmsync",
	Short: "Offline-first CRM synchronization",
	Long: `crmsync keeps a local SQLite CRM database in sync with a remote
document store: incremental pull on startup, debounced push of dirty
records, live listeners for remote changes, and explicit cascade
deletes.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default crmsync.yaml)")
	pf.StringVar(&flagDB, "db", "", "local store path (overrides config)")
	pf.StringVar(&flagRemote, "remote-url", "", "remote store websocket URL (overrides config)")
	pf.StringVar(&flagTenant, "tenant", "", "tenant id (overrides config)")
	pf.StringVar(&flagLogFile, "log-file", "", "log to a rotated file instead of stderr")
	pf.BoolVar(&flagOffline, "offline", false, "use the in-process remote store")
}

// loadConfig merges the config file with flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagRemote != "" {
		cfg.RemoteURL = flagRemote
	}
	if flagTenant != "" {
		cfg.Tenant = flagTenant
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	if flagOffline {
		cfg.Offline = true
	}
	if cfg.Tenant == "" {
		return nil, fmt.Errorf("tenant is required (set --tenant or the config file)")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *log.Logger {
	if cfg.LogFile != "" {
		return log.New(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}, "[crmsync] ", log.LstdFlags)
	}
	return log.New(os.Stderr, "[crmsync] ", log.LstdFlags)
}

// openEngine builds a fully wired engine from the config. The returned
// cleanup closes the store and the remote connection.
func openEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engine.Engine, func(), error) {
	local, err := localstore.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := local.InitSchema(ctx); err != nil {
		_ = local.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	var (
		rem       remote.Store
		closeRem  func()
		remoteURL = cfg.RemoteURL
	)
	if cfg.Offline || remoteURL == "" {
		logger.Printf("running offline with the in-process remote store")
		rem = remote.NewMemoryStore()
		closeRem = func() {}
	} else {
		ccfg := remote.DefaultClientConfig(remoteURL)
		ccfg.Logger = logger
		client, err := remote.Dial(ctx, ccfg)
		if err != nil {
			_ = local.Close()
			return nil, nil, fmt.Errorf("failed to connect to %s: %w", remoteURL, err)
		}
		rem = client
		closeRem = func() { _ = client.Close() }
	}

	ecfg := engine.DefaultConfig()
	ecfg.Logger = logger
	eng := engine.New(local, rem, ecfg)

	cleanup := func() {
		eng.StopSync()
		closeRem()
		_ = local.Close()
	}
	return eng, cleanup, nil
}
