package cmd

import (
	"fmt"

	"github.com/biswajeet0192/locallm/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, _ := config.GetConfigPath()
	if config.Exists() {
		fmt.Printf("Config file: %s\n\n", path)
	} else {
		fmt.Printf("Config file: %s (not present, using defaults)\n\n", path)
	}

	fmt.Printf("base_url:             %s\n", cfg.BaseURL)
	fmt.Printf("model:                %s\n", cfg.Model)
	fmt.Printf("context.max_messages: %d\n", cfg.Context.MaxMessages)
	fmt.Printf("context.policy:       %s\n", cfg.Context.Policy)
	if cfg.Context.Policy == "tokens" {
		fmt.Printf("context.token_budget: %d\n", cfg.Context.TokenBudget)
	}
	fmt.Printf("mirror.enabled:       %v\n", cfg.Mirror.Enabled)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}
	path, _ := config.GetConfigPath()
	fmt.Printf("Wrote %s\n", path)
	return nil
}
