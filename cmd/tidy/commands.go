// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidy/services/tidy/config"
	"github.com/AleutianAI/tidy/services/tidy/telemetry"
)

// errIssuesFound makes check exit non-zero under --fail-on-issues. main
// does not print it.
var errIssuesFound = errors.New("issues found")

// skipConfigAnnotation marks commands that must run without a valid config.
const skipConfigAnnotation = "tidy/skip-config"

// localConfigName is picked up from the working directory when --config is
// not given.
const localConfigName = ".tidy.yaml"

// --- Global Command Variables ---
var (
	configPath   string
	logLevel     string
	logJSON      bool
	logDir       string
	noColor      bool
	failOnIssues bool
	jsonOutput   bool
	forceInit    bool

	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File
)

var (
	rootCmd = &cobra.Command{
		Use:   "tidy",
		Short: "Run code analyzers and annotate their findings with git blame",
		Long: `tidy runs the analyzers configured for a file's extension, merges their
findings and tells you which of them sit on lines you wrote.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
	checkCmd = &cobra.Command{
		Use:   "check <file>...",
		Short: "Check files once and print their issues",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheckCommand,
	}
	watchCmd = &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-check a file every time it is saved",
		Long: `Watches a file on disk and re-checks it after every save. Commits and
checkouts in the enclosing repository refresh blame and trigger a re-check.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatchCommand,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve per-buffer checks to editor plugins over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}
	analyzersCmd = &cobra.Command{
		Use:   "analyzers",
		Short: "List configured analyzers and whether they are installed",
		Args:  cobra.NoArgs,
		RunE:  runAnalyzersCommand,
	}
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the tidy configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:         "init [path]",
		Short:       "Write the default configuration",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInitCommand,
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShowCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ./"+localConfigName+" or the user config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false,
		"log as JSON")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"also write JSON logs to a dated file in this directory")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")

	checkCmd.Flags().BoolVar(&failOnIssues, "fail-on-issues", false,
		"exit with status 1 when any issue is found")
	checkCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"print results as JSON")
	rootCmd.AddCommand(checkCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzersCmd)

	configInitCmd.Flags().BoolVar(&forceInit, "force", false,
		"overwrite an existing file")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// setup builds the logger and loads the configuration for every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if logDir != "" {
		if logFile, err = telemetry.OpenLogFile(logDir, "tidy"); err != nil {
			return err
		}
		logger, err = telemetry.NewTeeLogger(cmd.ErrOrStderr(), logFile, logLevel, logJSON)
	} else {
		logger, err = telemetry.NewLogger(cmd.ErrOrStderr(), logLevel, logJSON)
	}
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}
	path := resolveConfigPath(configPath)
	if path != "" {
		logger.Debug("Loading configuration", slog.String("path", path))
	}
	cfg, err = config.Load(path)
	return err
}

// teardown closes the log file, if any.
func teardown(cmd *cobra.Command, args []string) error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// resolveConfigPath returns explicit when set, otherwise the first default
// location that exists, otherwise "" for built-in defaults.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{localConfigName}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "tidy", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// userConfigFile is where config init writes by default.
func userConfigFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tidy", "config.yaml"), nil
}
