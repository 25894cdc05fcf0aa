package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xavifortes/gamesave-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration, with secrets left sealed",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	ac := mustAppContext(cmd.Context())
	cfg := ac.Facade.Config()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cfg)
	}

	fmt.Printf("storage: %s\n", storageSummary(cfg))
	fmt.Printf("sync interval: %dm (auto: %t)\n", cfg.SyncIntervalMinutes, cfg.AutoSync)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "\nGAME\tSAVE PATHS\tSYNC ENABLED")

	for id, gc := range cfg.Games {
		fmt.Fprintf(w, "%s\t%v\t%t\n", id, gc.SavePaths, gc.SyncEnabled)
	}

	return w.Flush()
}

func storageSummary(cfg *config.Config) string {
	if cfg.UseLocalStorage {
		return fmt.Sprintf("local (%s)", cfg.LocalBasePath)
	}

	return fmt.Sprintf("s3 (bucket=%s region=%s)", cfg.S3Bucket, cfg.S3Region)
}
