package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/internal/service"

	"github.com/spf13/cobra"
)

var (
	sendSession  string
	sendAttach   []string
	sendWaitPush time.Duration
)

// sendCmd sends one message and prints the reply
var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendSession, "session", "", "Session to continue (default: start a new one)")
	sendCmd.Flags().StringSliceVar(&sendAttach, "attach", nil, "Files to attach")
	sendCmd.Flags().BoolVar(&useConsensus, "consensus", false, "Ask several models and show their consensus")
	sendCmd.Flags().StringSliceVar(&modelList, "models", nil, "Models to ask in consensus mode")
	sendCmd.Flags().DurationVar(&sendWaitPush, "wait-push", 2*time.Second, "How long to wait for the push channel before falling back")
}

func runSend(cmd *cobra.Command, args []string) error {
	container, err := newContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	go container.Run(ctx)
	conv := container.Conversation

	if container.Push != nil {
		waitFor(ctx, sendWaitPush, container.Push.Connected)
	}

	if sendSession != "" {
		if err := conv.SwitchSession(ctx, sendSession); err != nil {
			return err
		}
	}

	for _, path := range sendAttach {
		conv.Attach(ctx, models.LocalFile(path))
	}
	conv.Staging().Wait()
	for _, rec := range conv.Staging().Records() {
		switch {
		case !rec.Status.Settled():
			fmt.Fprintf(cmd.ErrOrStderr(), "attachment %s not sent: upload unfinished\n", rec.Name)
		case rec.Status == models.UploadError:
			fmt.Fprintf(cmd.ErrOrStderr(), "attachment %s not sent: %s\n", rec.Name, rec.Error)
		}
	}

	replies := make(chan models.View, 16)
	unsubscribe := conv.Subscribe(func(v models.View) {
		select {
		case replies <- v:
		default:
		}
	})
	defer unsubscribe()

	before := countAssistant(conv.View())
	result, err := conv.Submit(ctx, service.SubmitInput{
		Content:        strings.Join(args, " "),
		UseConsensus:   useConsensus,
		SelectedModels: modelList,
	})
	if err != nil {
		return err
	}

	view := conv.View()
	for countAssistant(view) <= before {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no answer within %s (sent via %s)", timeout, result.Transport)
		case view = <-replies:
		}
	}

	out := cmd.OutOrStdout()
	if view.SessionID != "" {
		fmt.Fprintf(out, "session %s (via %s)\n", view.SessionID, result.Transport)
	}
	writeMessage(out, lastAssistant(view))
	return nil
}

func countAssistant(v models.View) int {
	n := 0
	for _, m := range v.Messages {
		if m.Role == models.RoleAssistant {
			n++
		}
	}
	return n
}

func lastAssistant(v models.View) models.Message {
	for i := len(v.Messages) - 1; i >= 0; i-- {
		if v.Messages[i].Role == models.RoleAssistant {
			return v.Messages[i]
		}
	}
	return models.Message{}
}

// waitFor polls cond until it holds, d elapses or ctx ends
func waitFor(ctx context.Context, d time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !cond() {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
	return true
}
