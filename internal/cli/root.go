// Package cli defines Cobra command definitions for the tinymem CLI.
// This file contains the root command, shared flags and config loading.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinymem-dev/tinymem/internal/config"
	tmlog "github.com/tinymem-dev/tinymem/internal/log"
)

var (
	configDir string
	logLevel  string
	version   = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "tinymem",
	Short: "Session coordination and shared memory for AI agents",
	Long: `tinymem tracks the sessions of coding agents, lets them ask the
operator questions and wait for answers, and keeps the memories, chains
and artifacts they share across sessions.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Config directory (default ~/.tinymem)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(chainsCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(configCmd)
}

// resolveConfigDir returns --config-dir or the default directory.
func resolveConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	return config.DefaultDir()
}

// loadConfig reads the config file and applies environment overrides.
// Command flags are applied by the caller before Validate.
func loadConfig() (*config.Config, string, error) {
	dir, err := resolveConfigDir()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, "", err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, dir, nil
}

// newLogger builds the process logger. Commands log to stderr so stdout stays
// free for command output and the MCP stdio transport.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := tmlog.New(w, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	return logger, nil
}
