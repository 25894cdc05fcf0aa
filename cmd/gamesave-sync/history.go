package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var flagPin, flagUnpin string
	var flagCleanup, flagGC bool

	cmd := &cobra.Command{
		Use:   "history <game> [relPath]",
		Short: "List version history for a file, pin/unpin a version, clean up old versions, or collect orphaned blobs for a game",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := mustAppContext(cmd.Context())
			gameID := args[0]

			if flagCleanup {
				results, err := ac.Facade.CleanupOldVersions(cmd.Context(), gameID)
				if err != nil {
					return fmt.Errorf("cleanup: %w", err)
				}

				for _, r := range results {
					fmt.Printf("%s: removed %d versions\n", r.RelPath, r.Removed)
				}

				return nil
			}

			if flagGC {
				result, err := ac.Facade.CollectOrphanedBlobs(cmd.Context(), gameID)
				if err != nil {
					return fmt.Errorf("gc: %w", err)
				}

				fmt.Printf("scanned %d version blobs, deleted %d orphaned\n", result.Scanned, result.Deleted)

				return nil
			}

			if len(args) != 2 {
				return fmt.Errorf("history: relPath is required unless --cleanup or --gc is set")
			}

			relPath := args[1]

			if flagPin != "" {
				if err := ac.Facade.PinVersion(cmd.Context(), gameID, relPath, flagPin, true); err != nil {
					return fmt.Errorf("pin: %w", err)
				}

				fmt.Printf("pinned %s\n", flagPin)

				return nil
			}

			if flagUnpin != "" {
				if err := ac.Facade.PinVersion(cmd.Context(), gameID, relPath, flagUnpin, false); err != nil {
					return fmt.Errorf("unpin: %w", err)
				}

				fmt.Printf("unpinned %s\n", flagUnpin)

				return nil
			}

			manifest, err := ac.Facade.ListVersionHistory(cmd.Context(), gameID, relPath)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(manifest)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION ID\tTIMESTAMP\tSIZE\tPINNED")

			for _, v := range manifest.Versions {
				pinned := ""
				if v.IsPinned {
					pinned = "yes"
				}

				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", v.VersionID, v.Timestamp.Format("2006-01-02 15:04:05"), v.SizeBytes, pinned)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&flagPin, "pin", "", "pin the given version ID")
	cmd.Flags().StringVar(&flagUnpin, "unpin", "", "unpin the given version ID")
	cmd.Flags().BoolVar(&flagCleanup, "cleanup", false, "apply retention policy across every file in the game, independent of a sync run")
	cmd.Flags().BoolVar(&flagGC, "gc", false, "delete version blobs for this game that no manifest references")

	return cmd
}
