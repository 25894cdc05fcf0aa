package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <game> <relPath> <versionId>",
		Short: "Restore a file to a previously stored version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := mustAppContext(cmd.Context())

			gameID, relPath, versionID := args[0], args[1], args[2]

			if err := ac.Facade.RestoreVersion(cmd.Context(), gameID, relPath, versionID); err != nil {
				return fmt.Errorf("restore: %w", err)
			}

			fmt.Printf("restored %s/%s to version %s\n", gameID, relPath, versionID)

			return nil
		},
	}

	return cmd
}
