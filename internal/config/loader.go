// Package config provides configuration loading for researchd.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables before mapping them onto
// config keys.
const envPrefix = "RESEARCHD_"

// Load reads configuration from an optional YAML file, then overrides with
// environment variables, then fills defaults and validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (RESEARCHD_SERVER_PORT, RESEARCHD_NATS_URL, ...)
//  2. YAML config file (configPath; skipped when empty or missing)
//  3. Defaults
//
// Environment variables map onto keys by stripping the prefix, lowercasing,
// and splitting on the first underscore:
//
//	RESEARCHD_SERVER_PORT                 -> server.port
//	RESEARCHD_WORKFLOW_QUALITY_THRESHOLD  -> workflow.quality_threshold
//	RESEARCHD_NATS_URL                    -> nats.url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// RESEARCHD_WORKFLOW_QUALITY_THRESHOLD -> workflow.quality_threshold
		// Split on the first underscore only: section, then field name.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
