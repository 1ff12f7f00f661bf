package config

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running server; every other change is collected in
// RestartRequired so callers can tell the operator a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the yaml keys of changed fields that only take
	// effect on restart.
	RestartRequired []string
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("host", old.Host != new.Host)
	restart("port", old.Port != new.Port)
	restart("newapi_base_url", old.NewAPIBaseURL != new.NewAPIBaseURL)
	restart("newapi_api_key", old.NewAPIAPIKey != new.NewAPIAPIKey)
	restart("newapi_timeout", old.NewAPITimeout != new.NewAPITimeout)
	restart("tts_endpoints", old.TTSEndpoints != new.TTSEndpoints)
	restart("tts_default_model", old.TTSDefaultModel != new.TTSDefaultModel)
	restart("tts_max_concurrent_per_endpoint", old.TTSMaxConcurrentPerEndpoint != new.TTSMaxConcurrentPerEndpoint)
	restart("tts_request_timeout", old.TTSRequestTimeout != new.TTSRequestTimeout)
	restart("tts_retry_count", old.TTSRetryCount != new.TTSRetryCount)
	restart("tts_health_check_interval", old.TTSHealthCheckInterval != new.TTSHealthCheckInterval)
	restart("cache_max_size", old.CacheMaxSize != new.CacheMaxSize)
	restart("cache_ttl", old.CacheTTL != new.CacheTTL)
	restart("cache_cleanup_interval", old.CacheCleanupInterval != new.CacheCleanupInterval)
	restart("splitter_max_len", old.SplitterMaxLen != new.SplitterMaxLen)
	restart("splitter_min_len", old.SplitterMinLen != new.SplitterMinLen)

	return d
}
