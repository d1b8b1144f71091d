package main

import (
	"fmt"
	"time"

	"consensus-chat/client/internal/models"

	"github.com/spf13/cobra"
)

// historyCmd prints a stored session
var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the stored messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		container, err := newContainer()
		if err != nil {
			return err
		}
		defer container.Close()

		events, err := container.API.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "--- session %s (%d messages) ---\n", args[0], len(events))
		now := time.Now()
		for _, ev := range events {
			writeMessage(out, models.MessageFromEvent(ev, now))
		}
		return nil
	},
}
