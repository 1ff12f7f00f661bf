// Package config provides the configuration schema and loader for the presay
// proxy: server binding, upstream chat-provider credentials, TTS pool tuning,
// and cache/splitter parameters.
package config

import (
	"net"
	"strconv"
	"strings"
)

// LogLevel controls log verbosity for the presay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration for the presay server. It is loaded from a
// YAML file via [Load], from the process environment via [FromEnv], or both:
// an environment variable named after the uppercased key (newapi_base_url →
// NEWAPI_BASE_URL) overrides the file value.
//
// Timeout and interval fields are whole seconds.
type Config struct {
	// Host is the interface the HTTP server binds to.
	Host string `yaml:"host"`

	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port"`

	// NewAPIBaseURL is the base URL of the upstream chat-completion provider
	// (e.g. "https://api.example.com"). Required.
	NewAPIBaseURL string `yaml:"newapi_base_url"`

	// NewAPIAPIKey is the Bearer token sent with every upstream chat request.
	// Required.
	NewAPIAPIKey string `yaml:"newapi_api_key"`

	// NewAPITimeout bounds a non-streaming upstream chat request, in seconds.
	// Streaming requests are exempt; they run until the stream ends.
	NewAPITimeout int `yaml:"newapi_timeout"`

	// TTSEndpoints is the comma-separated list of TTS server base URLs.
	// Required. See [Config.Endpoints].
	TTSEndpoints string `yaml:"tts_endpoints"`

	// TTSDefaultModel is the model used when a chat request does not name
	// one, and the only model id the speech endpoint accepts.
	TTSDefaultModel string `yaml:"tts_default_model"`

	// TTSMaxConcurrentPerEndpoint caps in-flight synthesis requests per
	// endpoint.
	TTSMaxConcurrentPerEndpoint int `yaml:"tts_max_concurrent_per_endpoint"`

	// TTSRequestTimeout bounds one outbound synthesis attempt, in seconds.
	// The speech endpoint also waits at most this long for a pending entry.
	TTSRequestTimeout int `yaml:"tts_request_timeout"`

	// TTSRetryCount is the number of additional synthesis attempts after a
	// failed one.
	TTSRetryCount int `yaml:"tts_retry_count"`

	// TTSHealthCheckInterval is the period of the endpoint health monitor,
	// in seconds. 0 disables the monitor; demoted endpoints then recover
	// through organic traffic only.
	TTSHealthCheckInterval int `yaml:"tts_health_check_interval"`

	// CacheMaxSize caps the number of cache entries. A submit at the cap
	// evicts the oldest tenth first.
	CacheMaxSize int `yaml:"cache_max_size"`

	// CacheTTL is the cache entry lifetime, in seconds.
	CacheTTL int `yaml:"cache_ttl"`

	// CacheCleanupInterval is the sweeper period, in seconds.
	CacheCleanupInterval int `yaml:"cache_cleanup_interval"`

	// SplitterMaxLen is the length, in code points, at which the splitter
	// cuts a segment even without a sentence boundary.
	SplitterMaxLen int `yaml:"splitter_max_len"`

	// SplitterMinLen is the minimum segment length, in code points, required
	// for a cut at a sentence boundary.
	SplitterMinLen int `yaml:"splitter_min_len"`

	// LogLevel controls verbosity. Parsed case-insensitively.
	LogLevel LogLevel `yaml:"log_level"`
}

// Default returns a Config populated with the documented defaults. The
// required fields (newapi_base_url, newapi_api_key, tts_endpoints) are left
// empty and must come from the file or the environment.
func Default() *Config {
	return &Config{
		Host:                        "0.0.0.0",
		Port:                        8000,
		NewAPITimeout:               120,
		TTSDefaultModel:             "liang",
		TTSMaxConcurrentPerEndpoint: 3,
		TTSRequestTimeout:           60,
		TTSRetryCount:               2,
		CacheMaxSize:                1000,
		CacheTTL:                    3600,
		CacheCleanupInterval:        300,
		SplitterMaxLen:              40,
		SplitterMinLen:              5,
		LogLevel:                    LogInfo,
	}
}

// Addr returns the host:port address the HTTP server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Endpoints returns the parsed tts_endpoints list: split on commas, trimmed,
// trailing slashes stripped, empty items dropped. Order is preserved.
func (c *Config) Endpoints() []string {
	parts := strings.Split(c.TTSEndpoints, ",")
	eps := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimRight(p, "/")
		if p == "" {
			continue
		}
		eps = append(eps, p)
	}
	return eps
}

// normalize folds case-insensitive fields to canonical form.
func (c *Config) normalize() {
	c.LogLevel = LogLevel(strings.ToLower(string(c.LogLevel)))
}
