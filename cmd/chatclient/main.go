package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"consensus-chat/client/pkg/config"
	"consensus-chat/client/pkg/di"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"

	"github.com/spf13/cobra"
)

var (
	apiURL        string
	pushTransport string
	pushURL       string
	logLevel      string
	timeout       time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Terminal client for the multi-model consensus chat",
	Long: `chatclient talks to a consensus chat API. Messages go over the push
channel while it is connected and over the HTTP fallback otherwise.

Settings come from the environment (and .env); flags override them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Chat API base URL (or set API_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&pushTransport, "push", "", "Push transport: websocket, redis or none (or set PUSH_TRANSPORT)")
	rootCmd.PersistentFlags().StringVar(&pushURL, "push-url", "", "WebSocket push URL (or set PUSH_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (or set LOG_LEVEL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for a reply")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies command line overrides to the environment settings
func loadConfig() *config.Config {
	cfg := config.New()
	if apiURL != "" {
		cfg.Client.APIBaseURL = strings.TrimRight(apiURL, "/")
	}
	if pushTransport != "" {
		cfg.Client.PushTransport = strings.ToLower(pushTransport)
	}
	if pushURL != "" {
		cfg.Client.PushURL = pushURL
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg
}

// newContainer wires a conversation. Logs go to stderr so they do not mix
// with the transcript.
func newContainer() (*di.Container, error) {
	cfg := loadConfig()
	log := di.NewLogger(cfg)
	logger.SetGlobal(log)

	metrics, err := observability.NewInstruments()
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	return di.New(cfg, log, metrics)
}
