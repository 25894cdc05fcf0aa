package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "sync [game]",
		Short: "Run a synchronization pass for one game, or all sync-enabled games with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			flagAll, _ := cmd.Flags().GetBool("all")
			if flagAll {
				return nil
			}

			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := mustAppContext(cmd.Context())

			if flagAll {
				results := ac.Facade.SyncAll(cmd.Context())

				for _, r := range results {
					if r.Err != nil {
						fmt.Printf("%s: error: %v\n", r.GameID, r.Err)
						continue
					}

					fmt.Printf("%s: uploaded=%d downloaded=%d conflicts=%d\n",
						r.GameID, r.Result.Uploaded, r.Result.Downloaded, r.Result.Conflicts)
				}

				return nil
			}

			result, err := ac.Facade.SyncGame(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			fmt.Printf("%s: uploaded=%d downloaded=%d conflicts=%d\n",
				result.Game, result.Uploaded, result.Downloaded, result.Conflicts)

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "sync every sync-enabled game")

	return cmd
}
