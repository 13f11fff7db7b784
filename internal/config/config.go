// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/prompt"
	"github.com/jeranaias/sous/internal/retry"
	"github.com/jeranaias/sous/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sous configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Cloud (OpenRouter) configuration
	Cloud CloudConfig `toml:"cloud" json:"cloud"`

	// Tiers maps each model tier to its upstream model and limits.
	Tiers TiersConfig `toml:"tiers" json:"tiers"`

	// Routing configuration
	Routing RoutingConfig `toml:"routing" json:"routing"`

	// Server configuration for `sous serve`
	Server ServerConfig `toml:"server" json:"server"`

	// Telemetry configuration (usage ledger)
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// CloudConfig contains gateway (OpenRouter) configuration.
type CloudConfig struct {
	// OpenRouterKey is the OpenRouter API key
	OpenRouterKey string `toml:"openrouter_key" json:"openrouter_key"`
	// BaseURL is the chat-completions gateway base URL
	BaseURL string `toml:"base_url" json:"base_url"`
	// SiteURL is sent as HTTP-Referer for gateway attribution
	SiteURL string `toml:"site_url" json:"site_url"`
	// SiteName is sent as X-Title for gateway attribution
	SiteName string `toml:"site_name" json:"site_name"`
	// RequestsPerSecond caps outbound attempts (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// TierConfig is the file form of one model tier.
type TierConfig struct {
	Model                    string  `toml:"model" json:"model"`
	PromptCostPerMillion     float64 `toml:"prompt_cost_per_million" json:"prompt_cost_per_million"`
	CompletionCostPerMillion float64 `toml:"completion_cost_per_million" json:"completion_cost_per_million"`
	MaxContextTokens         int     `toml:"max_context_tokens" json:"max_context_tokens"`
	MaxOutputTokens          int     `toml:"max_output_tokens" json:"max_output_tokens"`
	Temperature              float64 `toml:"temperature" json:"temperature"`
	TimeoutSecs              int     `toml:"timeout_secs" json:"timeout_secs"`
}

// TiersConfig holds one TierConfig per tier.
type TiersConfig struct {
	Cheap TierConfig `toml:"cheap" json:"cheap"`
	Mid   TierConfig `toml:"mid" json:"mid"`
	Top   TierConfig `toml:"top" json:"top"`
}

// RoutingConfig contains prompt assembly and retry settings.
type RoutingConfig struct {
	// HistoryLimit is the number of recent turns sent upstream
	HistoryLimit int `toml:"history_limit" json:"history_limit"`
	// ContextPercent is the share of a tier's context window given to the context block
	ContextPercent int `toml:"context_percent" json:"context_percent"`
	// MaxAttempts is the total dispatch attempts including the first
	MaxAttempts int `toml:"max_attempts" json:"max_attempts"`
	// RetryBaseDelayMs is the first backoff delay; later delays double
	RetryBaseDelayMs int `toml:"retry_base_delay_ms" json:"retry_base_delay_ms"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	// Addr is the listen address
	Addr string `toml:"addr" json:"addr"`
	// AuthToken, when set, is required as a bearer token on /v1 routes
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// RateLimit is requests per second allowed per client IP (0 = unlimited)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the per-client burst size
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
}

// TelemetryConfig contains usage ledger settings.
type TelemetryConfig struct {
	// Enabled turns the SQLite usage ledger on
	Enabled bool `toml:"enabled" json:"enabled"`
	// DatabasePath is the ledger file; empty means ~/.sous/usage.db
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error
	Level string `toml:"level" json:"level"`
	// Format is "auto" (console on a terminal), "console", or "json"
	Format string `toml:"format" json:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Cloud: CloudConfig{
			BaseURL:  "https://openrouter.ai/api/v1",
			SiteName: "Sous",
		},

		Tiers: TiersConfig{
			Cheap: tierFromModel(model.DefaultTierConfigs()[0]),
			Mid:   tierFromModel(model.DefaultTierConfigs()[1]),
			Top:   tierFromModel(model.DefaultTierConfigs()[2]),
		},

		Routing: RoutingConfig{
			HistoryLimit:     6,
			ContextPercent:   40,
			MaxAttempts:      3,
			RetryBaseDelayMs: 1000,
		},

		Server: ServerConfig{
			Addr:      "127.0.0.1:8787",
			RateLimit: 5,
			RateBurst: 10,
		},

		Telemetry: TelemetryConfig{
			Enabled: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

func tierFromModel(c model.ModelTierConfig) TierConfig {
	return TierConfig{
		Model:                    c.ModelID,
		PromptCostPerMillion:     c.PromptCostPerMillion,
		CompletionCostPerMillion: c.CompletionCostPerMillion,
		MaxContextTokens:         c.MaxContextTokens,
		MaxOutputTokens:          c.MaxOutputTokens,
		Temperature:              c.Temperature,
		TimeoutSecs:              int(c.Timeout / time.Second),
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the sous configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("SOUS_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".sous"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// LedgerPath returns the usage ledger path, resolving the default location.
func (c *Config) LedgerPath() (string, error) {
	if c.Telemetry.DatabasePath != "" {
		return c.Telemetry.DatabasePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "usage.db"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.sous/config.toml, falling back to
// defaults when the file does not exist. Environment overrides are applied
// last.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not ensure secure permissions")
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	for _, key := range md.Undecoded() {
		log.Warn().Str("key", key.String()).Str("path", path).Msg("unknown config key")
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not ensure secure permissions")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Keys missing from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML atomically writes the configuration to a TOML file with 0600
// permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# sous configuration file\n")
	b.WriteString("# Generated by sous - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Cloud
	// ==========================================================================

	if u, err := url.Parse(c.Cloud.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "cloud.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[/path]", c.Cloud.BaseURL),
		})
	}
	if c.Cloud.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "cloud.requests_per_second", Message: "must not be negative"})
	}

	// ==========================================================================
	// Tiers
	// ==========================================================================

	for _, t := range model.AllTiers {
		tc := c.Tiers.For(t)
		if err := tc.toModel(t).Validate(); err != nil {
			errs = append(errs, ValidationError{
				Field:   "tiers." + t.String(),
				Message: strings.TrimPrefix(err.Error(), "tier "+t.String()+": "),
			})
		}
	}

	// ==========================================================================
	// Routing
	// ==========================================================================

	if c.Routing.HistoryLimit < 0 || c.Routing.HistoryLimit > prompt.DefaultHistoryLimit {
		errs = append(errs, ValidationError{
			Field:   "routing.history_limit",
			Message: fmt.Sprintf("must be between 0 and %d, got %d", prompt.DefaultHistoryLimit, c.Routing.HistoryLimit),
		})
	}
	if c.Routing.ContextPercent < 1 || c.Routing.ContextPercent > 100 {
		errs = append(errs, ValidationError{
			Field:   "routing.context_percent",
			Message: fmt.Sprintf("must be between 1 and 100, got %d", c.Routing.ContextPercent),
		})
	}
	if c.Routing.MaxAttempts < 1 || c.Routing.MaxAttempts > retry.DefaultMaxAttempts {
		errs = append(errs, ValidationError{
			Field:   "routing.max_attempts",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", retry.DefaultMaxAttempts, c.Routing.MaxAttempts),
		})
	}
	if c.Routing.RetryBaseDelayMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "routing.retry_base_delay_ms",
			Message: fmt.Sprintf("must be positive, got %d", c.Routing.RetryBaseDelayMs),
		})
	}

	// ==========================================================================
	// Server
	// ==========================================================================

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: fmt.Sprintf("invalid listen address '%s': %v", c.Server.Addr, err),
		})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, ValidationError{Field: "server.rate_burst", Message: "must be at least 1 when rate_limit is set"})
	}

	// ==========================================================================
	// Logging
	// ==========================================================================

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Logging.Level),
		})
	}
	switch strings.ToLower(c.Logging.Format) {
	case "auto", "console", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: auto, console, json", c.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero setting.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = defaults.Cloud.BaseURL
	}
	if c.Routing.ContextPercent == 0 {
		c.Routing.ContextPercent = defaults.Routing.ContextPercent
	}
	if c.Routing.MaxAttempts == 0 {
		c.Routing.MaxAttempts = defaults.Routing.MaxAttempts
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// For returns the TierConfig for t, or a zero value for an unknown tier.
func (t *TiersConfig) For(tier model.Tier) TierConfig {
	switch tier {
	case model.TierCheap:
		return t.Cheap
	case model.TierMid:
		return t.Mid
	case model.TierTop:
		return t.Top
	default:
		return TierConfig{}
	}
}

func (tc TierConfig) toModel(tier model.Tier) model.ModelTierConfig {
	return model.ModelTierConfig{
		Tier:                     tier,
		ModelID:                  tc.Model,
		PromptCostPerMillion:     tc.PromptCostPerMillion,
		CompletionCostPerMillion: tc.CompletionCostPerMillion,
		MaxContextTokens:         tc.MaxContextTokens,
		MaxOutputTokens:          tc.MaxOutputTokens,
		Temperature:              tc.Temperature,
		Timeout:                  time.Duration(tc.TimeoutSecs) * time.Second,
	}
}

// Registry builds the immutable tier registry from the [tiers] tables.
func (c *Config) Registry() (*model.Registry, error) {
	configs := make([]model.ModelTierConfig, 0, len(model.AllTiers))
	for _, t := range model.AllTiers {
		configs = append(configs, c.Tiers.For(t).toModel(t))
	}
	reg, err := model.NewRegistry(configs...)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return reg, nil
}

// RetryBaseDelay returns the first backoff delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Routing.RetryBaseDelayMs) * time.Millisecond
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - SOUS_OPENROUTER_KEY: overrides cloud.openrouter_key
//   - OPENROUTER_API_KEY: used when no key is configured
//   - SOUS_BASE_URL: overrides cloud.base_url
//   - SOUS_MODEL_CHEAP, SOUS_MODEL_MID, SOUS_MODEL_TOP: override tier models
//   - SOUS_SERVER_ADDR: overrides server.addr
//   - SOUS_SERVER_TOKEN: overrides server.auth_token
//   - SOUS_TELEMETRY: overrides telemetry.enabled
//   - SOUS_DB_PATH: overrides telemetry.database_path
//   - SOUS_LOG_LEVEL: overrides logging.level
//   - SOUS_LOG_FORMAT: overrides logging.format
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("SOUS_OPENROUTER_KEY"); key != "" {
		c.Cloud.OpenRouterKey = key
	} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" && c.Cloud.OpenRouterKey == "" {
		c.Cloud.OpenRouterKey = key
	}

	if u := os.Getenv("SOUS_BASE_URL"); u != "" {
		c.Cloud.BaseURL = u
	}

	if m := os.Getenv("SOUS_MODEL_CHEAP"); m != "" {
		c.Tiers.Cheap.Model = m
	}
	if m := os.Getenv("SOUS_MODEL_MID"); m != "" {
		c.Tiers.Mid.Model = m
	}
	if m := os.Getenv("SOUS_MODEL_TOP"); m != "" {
		c.Tiers.Top.Model = m
	}

	if addr := os.Getenv("SOUS_SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if token := os.Getenv("SOUS_SERVER_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}

	if v := os.Getenv("SOUS_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = v == "1" || strings.ToLower(v) == "true"
	}
	if p := os.Getenv("SOUS_DB_PATH"); p != "" {
		c.Telemetry.DatabasePath = p
	}

	if level := os.Getenv("SOUS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("SOUS_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "tiers.mid.model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "tiers.mid.model").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	keys := []string{
		"version",
		"cloud.openrouter_key",
		"cloud.base_url",
		"cloud.site_url",
		"cloud.site_name",
		"cloud.requests_per_second",
	}
	for _, t := range model.AllTiers {
		prefix := "tiers." + t.String() + "."
		keys = append(keys,
			prefix+"model",
			prefix+"prompt_cost_per_million",
			prefix+"completion_cost_per_million",
			prefix+"max_context_tokens",
			prefix+"max_output_tokens",
			prefix+"temperature",
			prefix+"timeout_secs",
		)
	}
	return append(keys,
		"routing.history_limit",
		"routing.context_percent",
		"routing.max_attempts",
		"routing.retry_base_delay_ms",
		"server.addr",
		"server.auth_token",
		"server.rate_limit",
		"server.rate_burst",
		"telemetry.enabled",
		"telemetry.database_path",
		"logging.level",
		"logging.format",
	)
}

// IsSecretKey reports whether a dot-notation key holds a credential.
func IsSecretKey(key string) bool {
	switch strings.ToLower(key) {
	case "cloud.openrouter_key", "server.auth_token":
		return true
	}
	return false
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone returns a copy of the config. Config holds no reference types, so a
// value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a JSON rendering of the config with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Cloud.OpenRouterKey != "" {
		safe.Cloud.OpenRouterKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("using default configuration")
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
