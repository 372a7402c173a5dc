// Package main provides the dynorm operator CLI: table provisioning, kind
// inspection and flushing against the configured backend.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/jacentio/dynorm/config"
)

var (
	// configFile is set by the --config flag.
	configFile string

	// settings is loaded by PersistentPreRunE.
	settings *config.Settings

	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dynorm",
	Short: "dynorm manages the document store behind a relational model",
	Long: `dynorm operates the storage a dynorm deployment runs on: it creates
DynamoDB tables, lists the kinds a store holds, reads single records and
flushes tables.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "settings file (default: ./dynorm.yaml)")

	rootCmd.AddCommand(createTablesCmd)
	rootCmd.AddCommand(kindsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(schemaCmd)
}

// setup loads settings and installs the process logger.
func setup(cmd *cobra.Command, args []string) error {
	s, err := config.Load(configFile)
	if err != nil {
		return err
	}
	settings = s

	level, err := s.LogLevel()
	if err != nil {
		return err
	}
	logger = newLogger(s.Log.Format, level)
	slog.SetDefault(logger)
	return nil
}

func newLogger(format string, level slog.Level) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
