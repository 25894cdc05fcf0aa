package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <game>",
		Short: "Watch a game's save paths and sync on change until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac := mustAppContext(cmd.Context())
			gameID := args[0]

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := ac.Facade.WatchGame(ctx, gameID); err != nil {
				return fmt.Errorf("watch: %w", err)
			}

			fmt.Printf("watching %s, press Ctrl-C to stop\n", gameID)

			<-ctx.Done()

			ac.Facade.StopWatching(gameID)

			return nil
		},
	}

	return cmd
}
