// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads tidy's configuration.
//
// Configuration is layered: the embedded defaults.yaml, then an optional
// user file, then TIDY_* environment variables. The result is validated
// before use.
//
// Thread Safety:
//
//	Config values are plain data. Load and Default are safe for concurrent
//	use.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/tidy/services/tidy/blame"
	"github.com/AleutianAI/tidy/services/tidy/lint"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TIDY"

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidConfig indicates a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("regexp", validateRegexp)
}

// validateRegexp accepts strings that compile as Go regular expressions.
func validateRegexp(fl validator.FieldLevel) bool {
	_, err := regexp.Compile(fl.Field().String())
	return err == nil
}

// =============================================================================
// TYPES
// =============================================================================

// Config is the complete tidy configuration.
type Config struct {
	// MyNameRex is matched case-insensitively against blamed authors.
	MyNameRex string `mapstructure:"my_name_rex" yaml:"my_name_rex" validate:"regexp"`

	// Delay is the debounce window for edit and focus triggers.
	Delay time.Duration `mapstructure:"delay" yaml:"delay" validate:"gt=0"`

	// AdapterTimeout bounds one analyzer invocation.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout" yaml:"adapter_timeout" validate:"gt=0"`

	Blame     BlameConfig      `mapstructure:"blame" yaml:"blame"`
	Analyzers []AnalyzerConfig `mapstructure:"analyzers" yaml:"analyzers" validate:"dive"`
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
}

// BlameConfig configures the blame resolver and its cache.
type BlameConfig struct {
	Command        string        `mapstructure:"command" yaml:"command" validate:"required"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	AuthorPattern  string        `mapstructure:"author_pattern" yaml:"author_pattern" validate:"omitempty,regexp"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	RemapLiveLines bool          `mapstructure:"remap_live_lines" yaml:"remap_live_lines"`
	CacheDir       string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
}

// AnalyzerConfig describes one analyzer. An empty Pattern on a built-in
// name selects the built-in pattern.
type AnalyzerConfig struct {
	Name       string        `mapstructure:"name" yaml:"name" validate:"required"`
	Command    string        `mapstructure:"command" yaml:"command" validate:"required"`
	Args       []string      `mapstructure:"args" yaml:"args,omitempty"`
	Extensions []string      `mapstructure:"extensions" yaml:"extensions" validate:"required,min=1,dive,required"`
	Pattern    string        `mapstructure:"pattern" yaml:"pattern,omitempty" validate:"omitempty,regexp"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" validate:"gte=0"`
	Disabled   bool          `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// ServerConfig configures the editor daemon.
type ServerConfig struct {
	Addr            string  `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	EventsPerSecond float64 `mapstructure:"events_per_second" yaml:"events_per_second" validate:"gt=0"`
	Burst           int     `mapstructure:"burst" yaml:"burst" validate:"gte=1"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	TraceExporter  string `mapstructure:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `mapstructure:"metric_exporter" yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns the embedded defaults.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// DefaultYAML returns the embedded defaults file.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultsYAML...)
}

// Load reads the configuration.
//
// Description:
//
//	Starts from the embedded defaults, merges the file at path when path
//	is non-empty, then applies TIDY_* environment overrides. Nested keys
//	map to underscores: blame.timeout is TIDY_BLAME_TIMEOUT. A list in
//	the user file replaces the default list.
//
// Inputs:
//
//	path - YAML file to merge. Empty uses defaults and environment only.
//
// Outputs:
//
//	Config - The validated configuration
//	error - Non-nil if the file cannot be read or validation fails
func Load(path string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return cfg, fmt.Errorf("reading embedded defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return cfg, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefaults writes the embedded defaults to path, creating parent
// directories. An existing file is left alone unless force is set.
func WriteDefaults(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, defaultsYAML, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks field constraints and cross-field rules.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig on failure
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(c.Analyzers))
	for _, a := range c.Analyzers {
		if seen[a.Name] {
			return fmt.Errorf("%w: analyzer %q listed twice", ErrInvalidConfig, a.Name)
		}
		seen[a.Name] = true
		if _, err := a.analyzer(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// analyzer converts the entry, filling a built-in pattern when needed, and
// checks the pattern names the required groups.
func (a AnalyzerConfig) analyzer() (lint.Analyzer, error) {
	pattern := a.Pattern
	if pattern == "" {
		pattern = builtinPattern(a.Name)
	}
	if pattern == "" {
		return lint.Analyzer{}, fmt.Errorf("analyzer %q: no pattern and no built-in of that name", a.Name)
	}
	if _, err := lint.NewPatternParser(pattern); err != nil {
		return lint.Analyzer{}, fmt.Errorf("analyzer %q: %w", a.Name, err)
	}
	return lint.Analyzer{
		Name:       a.Name,
		Command:    a.Command,
		Args:       append([]string(nil), a.Args...),
		Extensions: append([]string(nil), a.Extensions...),
		Pattern:    pattern,
		Timeout:    a.Timeout,
	}, nil
}

func builtinPattern(name string) string {
	for _, a := range lint.DefaultAnalyzers() {
		if a.Name == name {
			return a.Pattern
		}
	}
	return ""
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// MyName compiles MyNameRex case-insensitively. Returns nil when unset.
func (c Config) MyName() (*regexp.Regexp, error) {
	if c.MyNameRex == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + c.MyNameRex)
	if err != nil {
		return nil, fmt.Errorf("%w: my_name_rex: %v", ErrInvalidConfig, err)
	}
	return re, nil
}

// Registry builds an analyzer registry from the enabled analyzers, in the
// order listed.
func (c Config) Registry() (*lint.Registry, error) {
	reg := lint.NewRegistry()
	for _, ac := range c.Analyzers {
		if ac.Disabled {
			continue
		}
		a, err := ac.analyzer()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BlameOptions returns resolver options for the blame section.
func (c Config) BlameOptions(logger *slog.Logger) ([]blame.Option, error) {
	opts := []blame.Option{
		blame.WithTimeout(c.Blame.Timeout),
		blame.WithLogger(logger),
	}
	if c.Blame.Command != "" {
		opts = append(opts, blame.WithCommand(c.Blame.Command, c.Blame.Args...))
	}
	if c.Blame.AuthorPattern != "" {
		re, err := regexp.Compile(c.Blame.AuthorPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: blame.author_pattern: %v", ErrInvalidConfig, err)
		}
		opts = append(opts, blame.WithPattern(re))
	}
	return opts, nil
}
