package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coderoom/coderoom/internal/config"
	"github.com/coderoom/coderoom/internal/language"
	"github.com/coderoom/coderoom/internal/presence"
	"github.com/coderoom/coderoom/internal/sandbox"
	"github.com/coderoom/coderoom/internal/server"
	"github.com/coderoom/coderoom/internal/session"
	"github.com/coderoom/coderoom/internal/storage"
	"github.com/coderoom/coderoom/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coderoom server",
	Long: `Start the coderoom HTTP server with REST API and WebSocket support.

Examples:
  coderoom serve
  coderoom serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Language table
	languages := language.NewRegistry()
	if cfg.Languages.File != "" {
		if err := languages.LoadFile(cfg.Languages.File); err != nil {
			return fmt.Errorf("loading language table: %w", err)
		}
	}
	log.Printf("Languages: %v", languages.IDs())

	// Sandbox runner, images allowed per the language table
	policy := sandbox.Policy{
		MaxMemory: cfg.Sandbox.Memory,
		CPUs:      cfg.Sandbox.CPUs,
		PidsLimit: cfg.Sandbox.PidsLimit,
		Network:   cfg.Sandbox.Network,
		Images:    languages.Images(),
	}
	runner := sandbox.NewDockerRunner(policy, languages)
	supervisor := sandbox.NewSupervisor(runner)

	// Session workspaces
	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		return fmt.Errorf("creating workspace root: %w", err)
	}
	sessions := session.NewDirectory(cfg.Workspace.Root)

	// Presence and its sweeps
	rooms := presence.NewDirectory()
	sweeper := presence.NewSweeper(rooms)
	sweeper.FastInterval = cfg.Sweeper.FastInterval
	sweeper.DeepInterval = cfg.Sweeper.DeepInterval
	sweeper.IdleTimeout = cfg.Sweeper.IdleTimeout
	sweeper.StaleTimeout = cfg.Sweeper.StaleTimeout
	sweeper.Start()
	defer sweeper.Stop()

	// Optional execution history
	var store storage.Store
	if cfg.Storage.Enabled {
		s, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer s.Close()
		store = s
		log.Printf("Execution history: %s", cfg.Storage.DBPath)
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg, languages, sessions, supervisor, rooms, store)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
