package cmd

import (
	"log/slog"
	"os"

	"github.com/biswajeet0192/locallm/internal/config"
	"github.com/biswajeet0192/locallm/internal/exitcode"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "locallm",
	Short: "Chat with a locally hosted LLM",
	Long: `locallm drives multi-turn conversations against a local inference
backend, streaming responses as they are generated.

Examples:
  locallm chat                          # interactive chat
  locallm chat "why is the sky blue?"   # one-shot prompt
  locallm chat --session <id>           # resume a session

  locallm sessions                      # list sessions
  locallm models                        # list available models
  locallm server status                 # check the inference server`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if flagDebug || config.EnvBool("LOCALLM_DEBUG", false) {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var (
	flagBaseURL string
	flagModel   string
	flagDebug   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "Backend base URL (default http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Model to use for new sessions")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Emit debug logs")
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	return cfg, nil
}

func Execute() {
	err := rootCmd.Execute()
	if code := exitcode.FromError(err); code != exitcode.Success {
		os.Exit(code)
	}
}
