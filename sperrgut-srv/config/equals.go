package config

// HasChanged returns true if reloading b in place of a requires restarting
// the proxy.
func HasChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	if a.Port != b.Port ||
		a.BufferSize != b.BufferSize ||
		a.CacheCapacity != b.CacheCapacity ||
		a.BlacklistFile != b.BlacklistFile ||
		a.CachePath != b.CachePath ||
		a.ListenAddress != b.ListenAddress ||
		a.TimeoutSeconds != b.TimeoutSeconds ||
		a.LogLevel != b.LogLevel {
		return true
	}
	if a.Upstream != b.Upstream || a.Statistics != b.Statistics {
		return true
	}
	return !a.DNS.Equal(b.DNS)
}
