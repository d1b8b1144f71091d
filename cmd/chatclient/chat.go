package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/internal/service"

	"github.com/spf13/cobra"
)

var (
	useConsensus bool
	modelList    []string
)

// chatCmd runs an interactive session
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat. Lines are sent as messages; lines starting
with a slash are commands:

  /attach <path>     stage a file for the next message
  /remove <id>       unstage a file
  /consensus on|off  toggle multi-model answers
  /models a,b,c      choose the models asked for a consensus
  /switch <id>       open a stored session
  /new               start a new draft session
  /quit              leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&useConsensus, "consensus", false, "Ask several models and show their consensus")
	chatCmd.Flags().StringSliceVar(&modelList, "models", nil, "Models to ask in consensus mode")
}

func runChat(cmd *cobra.Command, args []string) error {
	container, err := newContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go container.Run(ctx)

	out := cmd.OutOrStdout()
	r := newRenderer(out)
	unsubscribe := container.Conversation.Subscribe(r.Render)
	defer unsubscribe()
	r.Render(container.Conversation.View())

	repl := &chatREPL{
		conv:      container.Conversation,
		out:       out,
		consensus: useConsensus,
		models:    modelList,
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := repl.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// chatREPL interprets one input line at a time
type chatREPL struct {
	conv      *service.Conversation
	out       io.Writer
	consensus bool
	models    []string
}

func (c *chatREPL) handle(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		// Failures are reported through the view notice
		_, _ = c.conv.Submit(ctx, service.SubmitInput{
			Content:        line,
			UseConsensus:   c.consensus,
			SelectedModels: c.models,
		})
		return false
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true
	case "attach":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: /attach <path>")
			return false
		}
		rec := c.conv.Attach(ctx, models.LocalFile(arg))
		fmt.Fprintf(c.out, "  staged %s as %s\n", rec.Name, shortID(rec.ID))
	case "remove":
		if !c.removeAttachment(arg) {
			fmt.Fprintf(c.out, "  no staged attachment %q\n", arg)
		}
	case "consensus":
		c.consensus = arg != "off"
		fmt.Fprintf(c.out, "  consensus %s\n", onOff(c.consensus))
	case "models":
		c.models = splitList(arg)
		fmt.Fprintf(c.out, "  models: %s\n", strings.Join(c.models, ", "))
	case "switch":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: /switch <session id>")
			return false
		}
		// A failed history load still switches; the notice explains it
		_ = c.conv.SwitchSession(ctx, arg)
	case "new":
		c.conv.NewSession()
		fmt.Fprintln(c.out, "--- new session ---")
	default:
		fmt.Fprintf(c.out, "  unknown command /%s\n", name)
	}
	return false
}

// removeAttachment accepts a full id or the short prefix shown on screen
func (c *chatREPL) removeAttachment(prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, rec := range c.conv.Staging().Records() {
		if strings.HasPrefix(rec.ID, prefix) {
			return c.conv.RemoveAttachment(rec.ID)
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
