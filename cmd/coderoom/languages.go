package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coderoom/coderoom/internal/config"
	"github.com/coderoom/coderoom/internal/language"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the configured languages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		registry := language.NewRegistry()
		if cfg.Languages.File != "" {
			if err := registry.LoadFile(cfg.Languages.File); err != nil {
				return fmt.Errorf("loading language table: %w", err)
			}
		}

		for _, id := range registry.IDs() {
			spec, _ := registry.Resolve(id)
			fmt.Printf("%-12s %-6s %s\n", spec.ID, spec.Extension, spec.Image)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}
