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
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidy/services/tidy/config"
	"github.com/AleutianAI/tidy/services/tidy/server"
)

const fakeBlameOutput = `3f2a9c1e (Jane Doe 2024-03-01  1) import os
00000000 (Not Committed Yet 2024-03-02  2) x = 1
`

// fixture is a directory with a source file, a fake style checker, a fake
// blame command and a config wiring them together.
type fixture struct {
	dir    string
	source string
	config string
}

func newFixture(t *testing.T, myName string) fixture {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()

	source := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(source, []byte("import os\nx = 1\n"), 0o644))

	checker := filepath.Join(dir, "fakestyle")
	require.NoError(t, os.WriteFile(checker, []byte("#!/bin/sh\n"+
		"echo 'a.py:1:1: E401 multiple imports on one line'\n"+
		"echo 'a.py:2:6: W291 trailing whitespace'\n"), 0o755))

	blamer := filepath.Join(dir, "fakeblame")
	require.NoError(t, os.WriteFile(blamer, []byte("#!/bin/sh\ncat <<'EOF'\n"+fakeBlameOutput+"EOF\n"), 0o755))

	cfgPath := filepath.Join(dir, "tidy.yaml")
	cfgText := "my_name_rex: " + myName + "\n" +
		"blame:\n" +
		"  command: " + blamer + "\n" +
		"  args: [\"{path}\"]\n" +
		"analyzers:\n" +
		"  - name: style-checker\n" +
		"    command: " + checker + "\n" +
		"    extensions: [\".py\"]\n" +
		"  - name: script-linter\n" +
		"    command: jshint\n" +
		"    extensions: [\".js\"]\n" +
		"    disabled: true\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgText), 0o644))

	return fixture{dir: dir, source: source, config: cfgPath}
}

// execute runs the root command in-process with fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, logJSON, logDir = "", "error", false, ""
	noColor, failOnIssues, jsonOutput, forceInit = true, false, false, false
	cfg = config.Config{}

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

// =============================================================================
// CHECK
// =============================================================================

func TestCheck_PrintsIssuesWithAuthors(t *testing.T) {
	fx := newFixture(t, "jane")

	out, err := execute(t, "--config", fx.config, "check", fx.source)
	require.NoError(t, err)

	assert.Contains(t, out, fx.source)
	assert.Contains(t, out, "* 1:1 [style-checker] E401 multiple imports on one line  (Jane Doe)")
	assert.Contains(t, out, "* 2:6 [style-checker] W291 trailing whitespace  (Not Committed Yet)")
}

func TestCheck_JSON(t *testing.T) {
	fx := newFixture(t, "bob")

	out, err := execute(t, "--config", fx.config, "check", "--json", fx.source)
	require.NoError(t, err)

	var results []struct {
		Path   string             `json:"path"`
		Issues []server.IssueView `json:"issues"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.Len(t, results[0].Issues, 2)

	first, second := results[0].Issues[0], results[0].Issues[1]
	assert.Equal(t, "Jane Doe", first.Author)
	assert.False(t, first.Mine, "Jane's line is not bob's")
	assert.Equal(t, 2, second.Line)
	assert.True(t, second.Mine, "uncommitted lines are always mine")
}

func TestCheck_FailOnIssues(t *testing.T) {
	fx := newFixture(t, "jane")

	_, err := execute(t, "--config", fx.config, "check", "--fail-on-issues", fx.source)
	assert.ErrorIs(t, err, errIssuesFound)
}

func TestCheck_MissingFileReported(t *testing.T) {
	fx := newFixture(t, "jane")
	missing := filepath.Join(fx.dir, "gone.py")

	out, err := execute(t, "--config", fx.config, "check", missing, fx.source)
	require.NoError(t, err)

	assert.Contains(t, out, missing)
	assert.Contains(t, out, "no such file")
	assert.Contains(t, out, "E401", "later files are still checked")
}

func TestCheck_UnknownExtension(t *testing.T) {
	fx := newFixture(t, "jane")
	other := filepath.Join(fx.dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("hello\n"), 0o644))

	out, err := execute(t, "--config", fx.config, "check", other)
	require.NoError(t, err)
	assert.Contains(t, out, "no issues")
}

func TestCheck_RequiresArgs(t *testing.T) {
	_, err := execute(t, "check")
	assert.Error(t, err)
}

func TestCheck_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delay: -1s\n"), 0o644))

	_, err := execute(t, "--config", path, "check", "a.py")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// =============================================================================
// ANALYZERS AND CONFIG
// =============================================================================

func TestAnalyzers_ListsAvailability(t *testing.T) {
	fx := newFixture(t, "jane")

	out, err := execute(t, "--config", fx.config, "analyzers")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "style-checker")
	assert.Contains(t, lines[0], "installed")
	assert.Contains(t, lines[1], "script-linter")
	assert.Contains(t, lines[1], "disabled")
}

func TestLogDir_WritesJSONLog(t *testing.T) {
	fx := newFixture(t, "jane")
	dir := filepath.Join(fx.dir, "logs")

	_, err := execute(t, "--config", fx.config, "--log-level", "info", "--log-dir", dir, "analyzers")
	require.NoError(t, err)
	assert.Nil(t, logFile, "log file is closed after the command")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Analyzer available"`)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tidy.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultYAML(), written)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing file is not overwritten")

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "style-checker")
	assert.Contains(t, out, "my_name_rex")
}

func TestConfigInit_SkipsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("delay: -1s\n"), 0o644))

	_, err := execute(t, "--config", bad, "config", "init", "--force")
	require.NoError(t, err, "init must work even when the current file is invalid")

	written, err := os.ReadFile(bad)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultYAML(), written)
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "explicit.yaml", resolveConfigPath("explicit.yaml"))

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	assert.Equal(t, "", resolveConfigPath(""))

	require.NoError(t, os.WriteFile(localConfigName, []byte("{}\n"), 0o644))
	assert.Equal(t, localConfigName, resolveConfigPath(""))
}

func TestTelemetryConfig(t *testing.T) {
	c := config.Default()
	c.Telemetry.TraceExporter = "otlp"
	c.Telemetry.OTLPEndpoint = "collector:4317"

	tc := telemetryConfig(c)
	assert.Equal(t, "tidy", tc.ServiceName)
	assert.Equal(t, server.ServiceVersion, tc.ServiceVersion)
	assert.Equal(t, "otlp", tc.TraceExporter)
	assert.Equal(t, "prometheus", tc.MetricExporter)
	assert.Equal(t, "collector:4317", tc.OTLPEndpoint)
}
