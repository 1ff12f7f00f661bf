package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// FromEnv builds a [Config] from the defaults and environment variables
// alone, for deployments that run without a config file.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults, applies
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals. An empty document is valid;
// all values then come from defaults and the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg fields from environment variables. Each yaml key
// maps to its uppercased name.
func applyEnv(cfg *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: env %s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str("HOST", &cfg.Host)
	num("PORT", &cfg.Port)
	str("NEWAPI_BASE_URL", &cfg.NewAPIBaseURL)
	str("NEWAPI_API_KEY", &cfg.NewAPIAPIKey)
	num("NEWAPI_TIMEOUT", &cfg.NewAPITimeout)
	str("TTS_ENDPOINTS", &cfg.TTSEndpoints)
	str("TTS_DEFAULT_MODEL", &cfg.TTSDefaultModel)
	num("TTS_MAX_CONCURRENT_PER_ENDPOINT", &cfg.TTSMaxConcurrentPerEndpoint)
	num("TTS_REQUEST_TIMEOUT", &cfg.TTSRequestTimeout)
	num("TTS_RETRY_COUNT", &cfg.TTSRetryCount)
	num("TTS_HEALTH_CHECK_INTERVAL", &cfg.TTSHealthCheckInterval)
	num("CACHE_MAX_SIZE", &cfg.CacheMaxSize)
	num("CACHE_TTL", &cfg.CacheTTL)
	num("CACHE_CLEANUP_INTERVAL", &cfg.CacheCleanupInterval)
	num("SPLITTER_MAX_LEN", &cfg.SplitterMaxLen)
	num("SPLITTER_MIN_LEN", &cfg.SplitterMinLen)
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = LogLevel(v)
	}

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port))
	}

	if cfg.NewAPIBaseURL == "" {
		errs = append(errs, errors.New("newapi_base_url is required"))
	}
	if cfg.NewAPIAPIKey == "" {
		errs = append(errs, errors.New("newapi_api_key is required"))
	}
	if cfg.NewAPITimeout <= 0 {
		errs = append(errs, fmt.Errorf("newapi_timeout %d must be positive", cfg.NewAPITimeout))
	}

	eps := cfg.Endpoints()
	if len(eps) == 0 {
		errs = append(errs, errors.New("tts_endpoints is required (comma-separated base URLs)"))
	}
	for _, ep := range eps {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			slog.Warn("tts endpoint has no http(s) scheme; requests to it will fail", "endpoint", ep)
		}
	}
	if cfg.TTSDefaultModel == "" {
		errs = append(errs, errors.New("tts_default_model must not be empty"))
	}
	if cfg.TTSMaxConcurrentPerEndpoint <= 0 {
		errs = append(errs, fmt.Errorf("tts_max_concurrent_per_endpoint %d must be positive", cfg.TTSMaxConcurrentPerEndpoint))
	}
	if cfg.TTSRequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tts_request_timeout %d must be positive", cfg.TTSRequestTimeout))
	}
	if cfg.TTSRetryCount < 0 {
		errs = append(errs, fmt.Errorf("tts_retry_count %d must not be negative", cfg.TTSRetryCount))
	}
	if cfg.TTSHealthCheckInterval < 0 {
		errs = append(errs, fmt.Errorf("tts_health_check_interval %d must not be negative", cfg.TTSHealthCheckInterval))
	}

	if cfg.CacheMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_max_size %d must be positive", cfg.CacheMaxSize))
	}
	if cfg.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl %d must be positive", cfg.CacheTTL))
	}
	if cfg.CacheCleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache_cleanup_interval %d must be positive", cfg.CacheCleanupInterval))
	}

	if cfg.SplitterMinLen <= 0 {
		errs = append(errs, fmt.Errorf("splitter_min_len %d must be positive", cfg.SplitterMinLen))
	}
	if cfg.SplitterMaxLen <= cfg.SplitterMinLen {
		errs = append(errs, fmt.Errorf("splitter_max_len %d must be greater than splitter_min_len %d", cfg.SplitterMaxLen, cfg.SplitterMinLen))
	}

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
