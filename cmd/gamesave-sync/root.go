// Command gamesave-sync is a thin demonstration CLI over EngineFacade. It
// exists to exercise the engine end-to-end, not as the product's
// end-user surface (that shell is out of scope here).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xavifortes/gamesave-sync/internal/config"
	"github.com/xavifortes/gamesave-sync/internal/engine"
	"github.com/xavifortes/gamesave-sync/internal/state"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
)

// appContext bundles the facade and logger built once in PersistentPreRunE,
// so RunE handlers don't repeat config/facade construction.
type appContext struct {
	Facade *engine.Facade
	Logger *slog.Logger
}

type appContextKey struct{}

func appContextFrom(ctx context.Context) *appContext {
	ac, _ := ctx.Value(appContextKey{}).(*appContext)
	return ac
}

func mustAppContext(ctx context.Context) *appContext {
	ac := appContextFrom(ctx)
	if ac == nil {
		panic("BUG: appContext not found in context — every command must go through PersistentPreRunE")
	}

	return ac
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gamesave-sync",
		Short:   "Versioned game save synchronization",
		Long:    "A demonstration CLI over the game save sync engine: upload/download save files, browse version history, restore, and watch for changes.",
		Version: version,

		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupAppContext(cmd)
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			ac := appContextFrom(cmd.Context())
			if ac == nil {
				return nil
			}

			return ac.Facade.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (defaults to the platform config dir)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory for local blobs, cache, and the runtime state database")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// setupAppContext resolves the config path/data dir, opens the state store,
// constructs the EngineFacade, and stores both in the command's context.
func setupAppContext(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	configPath := flagConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	holder, err := config.LoadHolder(configPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	store, err := state.Open(filepath.Join(dataDir, "state.db"), logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	facade, err := engine.New(holder, store, dataDir, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("constructing engine: %w", err)
	}

	ac := &appContext{Facade: facade, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, appContextKey{}, ac))

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
