package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/conduit/internal/config"
)

// Version information set at build time.
var (
	commit = "none"
	date   = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "Server-driven component runtime",
		Long: `Conduit hosts server-driven components.

Components are rendered on the server and kept live over one websocket
per instance. Commands:

  • serve     run the runtime
  • clean     delete expired sessions and orphaned user data
  • check     run the startup checks
  • discover  scan templates for component references`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Configuration file (default "+config.ConfigFileName+" if present)")

	load := func() (*config.Config, error) {
		return loadConfig(configPath)
	}
	rootCmd.AddCommand(
		serveCmd(load),
		cleanCmd(load),
		checkCmd(load),
		discoverCmd(load),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path, or conduit.yaml from the working directory when
// path is empty and the file exists.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.ConfigFileName); err == nil {
			path = config.ConfigFileName
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return config.Load(path)
}

// newLogger returns a JSON logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
