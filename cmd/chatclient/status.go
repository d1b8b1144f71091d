package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// statusCmd checks that the API and push channel are reachable
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the chat API and the push channel",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	container, err := newContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if container.Push != nil {
		go container.Push.Run(ctx)
		waitFor(ctx, sendWaitPush, container.Push.Connected)
	}
	container.Health.RunChecks(ctx)

	status := container.Health.GetStatus()
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	for _, name := range names {
		c := status[name]
		fmt.Fprintf(out, "%-16s %-9s %s", name, c.Status, c.Description)
		if c.Error != "" {
			fmt.Fprintf(out, " (%s)", c.Error)
		}
		fmt.Fprintln(out)
	}

	if !container.Health.IsSystemHealthy() {
		return fmt.Errorf("chat API is unreachable at %s", container.Config.Client.APIBaseURL)
	}
	return nil
}
