package config

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

func applyEnvOverrides(cfg *Config, environ []string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	values := envMap(environ)
	if value, ok := values["RATELIMIT_STORE_BACKEND"]; ok {
		cfg.StoreBackend = StoreBackend(strings.TrimSpace(value))
	}
	if value, ok := values["RATELIMIT_REDIS_ADDR"]; ok {
		cfg.RedisAddr = value
	}
	if value, ok := values["RATELIMIT_REDIS_DB"]; ok {
		parsed, err := parseIntEnv("RATELIMIT_REDIS_DB", value)
		if err != nil {
			return err
		}
		cfg.RedisDB = int(parsed)
	}
	if value, ok := values["RATELIMIT_WINDOW_SECONDS"]; ok {
		parsed, err := parseIntEnv("RATELIMIT_WINDOW_SECONDS", value)
		if err != nil {
			return err
		}
		cfg.Window = time.Duration(parsed) * time.Second
	}
	if value, ok := values["RATELIMIT_TIERS_PATH"]; ok {
		cfg.TiersPath = value
	}
	if value, ok := values["RATELIMIT_OVERRIDES_PATH"]; ok {
		cfg.OverridesPath = value
	}
	if value, ok := values["RATELIMIT_MAX_INFLIGHT"]; ok {
		parsed, err := parseIntEnv("RATELIMIT_MAX_INFLIGHT", value)
		if err != nil {
			return err
		}
		cfg.MaxInflight = parsed
	}
	if value, ok := values["RATELIMIT_BREAKER_FAILURE_THRESHOLD"]; ok {
		parsed, err := parseIntEnv("RATELIMIT_BREAKER_FAILURE_THRESHOLD", value)
		if err != nil {
			return err
		}
		cfg.BreakerFailureThreshold = parsed
	}
	if value, ok := values["RATELIMIT_BREAKER_OPEN_MS"]; ok {
		parsed, err := parseIntEnv("RATELIMIT_BREAKER_OPEN_MS", value)
		if err != nil {
			return err
		}
		cfg.BreakerOpenDuration = time.Duration(parsed) * time.Millisecond
	}
	if value, ok := values["RATELIMIT_HTTP_ADDR"]; ok {
		cfg.HTTPListenAddr = value
	}
	if value, ok := values["RATELIMIT_ENABLE_AUTH"]; ok {
		parsed, err := parseBoolEnv("RATELIMIT_ENABLE_AUTH", value)
		if err != nil {
			return err
		}
		cfg.EnableAuth = parsed
	}
	if value, ok := values["RATELIMIT_API_KEYS"]; ok {
		cfg.APIKeys = parseAPIKeys(value)
	}
	if value, ok := values["RATELIMIT_MOCK_AVG_OUTPUT_TOKENS"]; ok {
		parsed, err := parseIntEnv("RATELIMIT_MOCK_AVG_OUTPUT_TOKENS", value)
		if err != nil {
			return err
		}
		cfg.MockAvgOutputTokens = parsed
	}
	if value, ok := values["RATELIMIT_LOG_LEVEL"]; ok {
		cfg.LogLevel = value
	}
	if value, ok := values["RATELIMIT_TRACE_SAMPLE_RATE"]; ok {
		parsed, err := parseIntEnv("RATELIMIT_TRACE_SAMPLE_RATE", value)
		if err != nil {
			return err
		}
		cfg.TraceSampleRate = int(parsed)
	}
	return nil
}

func parseAPIKeys(value string) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			keys[part] = struct{}{}
		}
	}
	return keys
}

func envMap(environ []string) map[string]string {
	values := make(map[string]string)
	for _, entry := range environ {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = parts[1]
	}
	return values
}

func parseBoolEnv(name, value string) (bool, error) {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseIntEnv(name, value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}
