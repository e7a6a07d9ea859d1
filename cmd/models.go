package cmd

import (
	"context"
	"fmt"

	"github.com/biswajeet0192/locallm/internal/llm"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := llm.NewClient(cfg.BaseURL)
	models, err := client.Models(context.Background())
	if err != nil {
		return fmt.Errorf("failed to fetch models: %w", err)
	}

	if len(models) == 0 {
		fmt.Println("No models available.")
		return nil
	}
	for _, model := range models {
		marker := "  "
		if model == cfg.Model {
			marker = "* "
		}
		fmt.Println(marker + model)
	}
	return nil
}
