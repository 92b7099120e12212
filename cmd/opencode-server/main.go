// Package main provides the entry point for the OpenCode core server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/core/internal/config"
	"github.com/opencode-ai/core/internal/formatter"
	"github.com/opencode-ai/core/internal/logging"
	"github.com/opencode-ai/core/internal/provider"
	"github.com/opencode-ai/core/internal/server"
	"github.com/opencode-ai/core/internal/storage"
	"github.com/opencode-ai/core/internal/tool"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	port      int
	directory string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:     "opencode-server",
	Short:   "Headless OpenCode core runtime",
	Long:    `opencode-server runs the OpenCode agent runtime as a headless HTTP+SSE server for GUI, TUI, and IDE clients.`,
	Version: fmt.Sprintf("%s (%s)", Version, BuildTime),
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: true,
		})
		return runServer()
	},
}

func init() {
	rootCmd.Flags().IntVar(&port, "port", 8080, "Server port")
	rootCmd.Flags().StringVar(&directory, "directory", "", "Working directory")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServer() error {
	log := logging.Logger

	workDir := directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	log.Info().Str("version", Version).Str("dir", workDir).Msg("starting opencode server")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	store := storage.New(paths.StoragePath())

	providerReg, err := provider.InitializeProviders(appConfig)
	if err != nil {
		log.Warn().Err(err).Msg("some providers failed to initialize")
	}

	fmtMgr := formatter.NewManager(workDir, appConfig)
	toolReg := tool.DefaultRegistry(workDir, store, fmtMgr)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	serverConfig.Directory = workDir

	srv := server.New(serverConfig, appConfig, store, providerReg, toolReg)

	ctx := context.Background()
	if err := srv.InitializeMCP(ctx); err != nil {
		log.Warn().Err(err).Msg("MCP initialization failed")
	}
	defer srv.CloseMCP()

	go func() {
		log.Info().Int("port", port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
