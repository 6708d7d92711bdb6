package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"llmratelimit/internal/ratelimit/core"
)

// tierFile is the on-disk shape of a tier-table YAML document, loaded
// once at startup so every node derives the same Resolver (§4.4).
type tierFile struct {
	InputTPM  []int64 `yaml:"input_tpm"`
	OutputTPM []int64 `yaml:"output_tpm"`
	RPM       []int64 `yaml:"rpm"`
}

// overrideFile is the on-disk shape of a static per-key override map.
type overrideFile map[string]struct {
	InputTPM  int64 `yaml:"input_tpm"`
	OutputTPM int64 `yaml:"output_tpm"`
	RPM       int64 `yaml:"rpm"`
}

// LoadResolver builds a core.Resolver from the config's TiersPath and
// OverridesPath, falling back to core's built-in defaults when a path is
// unset.
func (c *Config) LoadResolver() (*core.Resolver, error) {
	var opts []core.ResolverOption

	if c.TiersPath != "" {
		raw, err := os.ReadFile(c.TiersPath)
		if err != nil {
			return nil, fmt.Errorf("read tiers file: %w", err)
		}
		var tf tierFile
		if err := yaml.Unmarshal(raw, &tf); err != nil {
			return nil, fmt.Errorf("parse tiers file: %w", err)
		}
		opts = append(opts, core.WithTiers(tf.InputTPM, tf.OutputTPM, tf.RPM))
	}

	if c.OverridesPath != "" {
		raw, err := os.ReadFile(c.OverridesPath)
		if err != nil {
			return nil, fmt.Errorf("read overrides file: %w", err)
		}
		var of overrideFile
		if err := yaml.Unmarshal(raw, &of); err != nil {
			return nil, fmt.Errorf("parse overrides file: %w", err)
		}
		overrides := make(map[string]core.RateLimitConfig, len(of))
		for key, v := range of {
			overrides[key] = core.RateLimitConfig{InputTPM: v.InputTPM, OutputTPM: v.OutputTPM, RPM: v.RPM}
		}
		opts = append(opts, core.WithOverrides(overrides))
	}

	return core.NewResolver(opts...), nil
}
