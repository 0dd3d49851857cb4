package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coderoom/coderoom/internal/config"
	"github.com/coderoom/coderoom/internal/storage"
	"github.com/coderoom/coderoom/internal/storage/sqlite"
)

var (
	historySession string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded executions",
	Long: `List finished executions from the history database. Requires
storage.enabled: true in the server config.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySession, "session", "", "Only show executions for this session id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of records")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Storage.Enabled {
		return fmt.Errorf("execution history is disabled (set storage.enabled: true)")
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	records, err := store.ListExecutions(context.Background(), storage.ListOptions{
		SessionID: historySession,
		Limit:     historyLimit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No executions recorded.")
		return nil
	}

	for _, rec := range records {
		status := "ok"
		if rec.Failed {
			status = fmt.Sprintf("exit %d", rec.ExitCode)
		}
		fmt.Printf("%s  %-10s  %-8s  %s  (%s)\n",
			rec.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Language, status, rec.SessionID,
			rec.FinishedAt.Sub(rec.StartedAt).Round(10*time.Millisecond))
	}
	return nil
}
