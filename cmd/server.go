package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/biswajeet0192/locallm/internal/llm"
	"github.com/biswajeet0192/locallm/internal/ui"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the inference server",
	RunE:  runServerStatus, // Default to status
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the inference server is running",
	RunE:  runServerStatus,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the inference server",
	RunE:  runServerStart,
}

func init() {
	serverCmd.AddCommand(serverStatusCmd)
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)
}

func runServerStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := llm.NewClient(cfg.BaseURL)
	running, err := client.ServerStatus(context.Background())
	if err != nil {
		return fmt.Errorf("failed to check server status: %w", err)
	}

	styles := ui.NewStyles(os.Stdout)
	fmt.Println(styles.FormatRunning(running))
	return nil
}

func runServerStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := llm.NewClient(cfg.BaseURL)
	if err := client.StartServer(context.Background()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	fmt.Println("Inference server started.")
	return nil
}
