// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for sous.
//
// Configuration is TOML, with sensible defaults, environment variable
// overrides and validation. It is the only place tier settings enter the
// routing core: Config.Registry builds the immutable model.Registry.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - TierConfig: Model, pricing, limits and timeout for one tier
//   - ValidationError / ValidateErrors: Field-level validation failures
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SOUS_*, OPENROUTER_API_KEY)
//   - ~/.sous/config.toml (or $SOUS_HOME/config.toml)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	reg, err := cfg.Registry()
package config
