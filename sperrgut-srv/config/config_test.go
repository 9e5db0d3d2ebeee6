package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// Helper function to create a temporary config file
func createTempConfigFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	tempFilePath := filepath.Join(dir, filename)
	err := os.WriteFile(tempFilePath, []byte(content), 0644)
	if err != nil {
		t.Fatalf("Failed to create temp config file %s: %v", tempFilePath, err)
	}
	return tempFilePath
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.BufferSize != 8192 {
		t.Errorf("BufferSize = %d, want 8192", cfg.BufferSize)
	}
	if cfg.CacheCapacity != 10 {
		t.Errorf("CacheCapacity = %d, want 10", cfg.CacheCapacity)
	}
	if cfg.BlacklistFile != "config/blocked_domains.txt" {
		t.Errorf("BlacklistFile = %q", cfg.BlacklistFile)
	}
	if cfg.CachePath != "" {
		t.Errorf("CachePath = %q, want empty", cfg.CachePath)
	}
	if cfg.TimeoutSeconds != 5 {
		t.Errorf("TimeoutSeconds = %d, want 5", cfg.TimeoutSeconds)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.Statistics.Enabled {
		t.Errorf("statistics should be disabled by default")
	}
}

func TestLoadConfigKeyValue(t *testing.T) {
	content := `# proxy settings
port=9090
buffer_size = 4096
  cache_capacity =  3
blacklist_file = "/etc/sperrgut/blocked.txt"
cache_path=/var/cache/sperrgut

# lines without an equals sign are ignored
just some text
unknown_key = 1
`
	path := createTempConfigFile(t, t.TempDir(), "proxy.conf", content)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load key=value config: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.BufferSize != 4096 {
		t.Errorf("BufferSize = %d, want 4096", cfg.BufferSize)
	}
	if cfg.CacheCapacity != 3 {
		t.Errorf("CacheCapacity = %d, want 3", cfg.CacheCapacity)
	}
	if cfg.BlacklistFile != "/etc/sperrgut/blocked.txt" {
		t.Errorf("BlacklistFile = %q", cfg.BlacklistFile)
	}
	if cfg.CachePath != "/var/cache/sperrgut" {
		t.Errorf("CachePath = %q", cfg.CachePath)
	}
}

func TestLoadConfigKeyValueInvalidNumber(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "bad.conf", "port=eighty\n")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected an error for a non-numeric port")
	}
	if !strings.Contains(err.Error(), "bad.conf:1") {
		t.Errorf("error %q should name the file and line", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadConfigJSON(t *testing.T) {
	t.Setenv("SPERRGUT_TEST_DSN", "postgres://proxy@localhost/stats")

	content := `{
		"port": 3128,
		"buffer-size": 16384,
		"cache-capacity": 50,
		"timeout-seconds": 10,
		"upstream": {
			"socks5-address": "127.0.0.1:1080",
			"username": "alice",
			"password": "secret"
		},
		"statistics": {
			"enabled": true,
			"backend": "postgres",
			"postgres-dsn": {"_secret": "SPERRGUT_TEST_DSN"}
		},
		"dns": {
			"servers": [
				{"address": "9.9.9.9:853", "type": "dot", "tls-host": "dns.quad9.net", "timeout-seconds": 3}
			]
		}
	}`
	path := createTempConfigFile(t, t.TempDir(), "proxy.json", content)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load JSON config: %v", err)
	}

	if cfg.Port != 3128 || cfg.BufferSize != 16384 || cfg.CacheCapacity != 50 || cfg.TimeoutSeconds != 10 {
		t.Errorf("unexpected numeric settings: %+v", cfg)
	}
	wantUpstream := UpstreamConfig{SOCKS5Address: "127.0.0.1:1080", Username: "alice", Password: "secret"}
	if cfg.Upstream != wantUpstream {
		t.Errorf("Upstream = %+v, want %+v", cfg.Upstream, wantUpstream)
	}
	if !cfg.Statistics.Enabled || cfg.Statistics.Backend != StatsBackendPostgres {
		t.Errorf("Statistics = %+v", cfg.Statistics)
	}
	if cfg.Statistics.PostgresDSN != "postgres://proxy@localhost/stats" {
		t.Errorf("PostgresDSN = %q, want secret from env", cfg.Statistics.PostgresDSN)
	}
	wantDNS := DNSConfig{
		Enabled: true,
		Servers: []DNSServerConfig{{Address: "9.9.9.9:853", Type: DNSTypeDoT, TLSHost: "dns.quad9.net", TimeoutSeconds: 3}},
	}
	if !reflect.DeepEqual(cfg.DNS, wantDNS) {
		t.Errorf("DNS = %+v, want %+v", cfg.DNS, wantDNS)
	}
}

func TestLoadConfigJSONMissingSecret(t *testing.T) {
	content := `{"socks5-password": {"_secret": "SPERRGUT_TEST_UNSET_SECRET"}}`
	path := createTempConfigFile(t, t.TempDir(), "secret.json", content)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for an unset secret")
	}
}

func TestLoadConfigHCL(t *testing.T) {
	t.Setenv("SPERRGUT_TEST_BLOCKLIST_DIR", "/srv/lists")

	content := `
port           = 8181
cache-capacity = 25
blacklist-file = "${env.SPERRGUT_TEST_BLOCKLIST_DIR}/blocked.txt"
statistics = {
  enabled     = true
  backend     = "sqlite"
  sqlite-path = "/tmp/stats.db"
}
dns = {
  servers = ["udp://8.8.8.8:53", "tcp://1.1.1.1:53"]
}
`
	path := createTempConfigFile(t, t.TempDir(), "proxy.hcl", content)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load HCL config: %v", err)
	}

	if cfg.Port != 8181 {
		t.Errorf("Port = %d, want 8181", cfg.Port)
	}
	if cfg.CacheCapacity != 25 {
		t.Errorf("CacheCapacity = %d, want 25", cfg.CacheCapacity)
	}
	if cfg.BlacklistFile != "/srv/lists/blocked.txt" {
		t.Errorf("BlacklistFile = %q", cfg.BlacklistFile)
	}
	if cfg.Statistics.SQLitePath != "/tmp/stats.db" || !cfg.Statistics.Enabled {
		t.Errorf("Statistics = %+v", cfg.Statistics)
	}
	if len(cfg.DNS.Servers) != 2 || !cfg.DNS.Enabled {
		t.Fatalf("DNS = %+v", cfg.DNS)
	}
	if cfg.DNS.Servers[1].Type != DNSTypeTCP || cfg.DNS.Servers[1].Address != "1.1.1.1:53" {
		t.Errorf("second DNS server = %+v", cfg.DNS.Servers[1])
	}
}

func TestLoadConfigHCLSyntaxError(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "broken.hcl", "port = \n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for invalid HCL")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	content := `
port: 3129
buffer_size: 4096
log-level: debug
upstream:
  socks5-address: 127.0.0.1:1080
dns:
  servers:
    - address: 1.1.1.1:853
      type: dot
      tls-host: cloudflare-dns.com
`
	for _, name := range []string{"proxy.yaml", "proxy.yml"} {
		t.Run(name, func(t *testing.T) {
			path := createTempConfigFile(t, t.TempDir(), name, content)
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("Failed to load YAML config: %v", err)
			}
			if cfg.Port != 3129 || cfg.BufferSize != 4096 {
				t.Errorf("Port = %d, BufferSize = %d", cfg.Port, cfg.BufferSize)
			}
			if cfg.LogLevel != "debug" {
				t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
			}
			if cfg.Upstream.SOCKS5Address != "127.0.0.1:1080" {
				t.Errorf("Upstream = %+v", cfg.Upstream)
			}
			if len(cfg.DNS.Servers) != 1 || cfg.DNS.Servers[0].Type != DNSTypeDoT || cfg.DNS.Servers[0].TLSHost != "cloudflare-dns.com" {
				t.Errorf("DNS = %+v", cfg.DNS)
			}
		})
	}
}

func TestLoadConfigYAMLInvalid(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "broken.yaml", "port: [1, 2\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for invalid YAML")
	}
}

func TestLoadConfigTOML(t *testing.T) {
	content := `
port = 3130
cache_capacity = 12
blacklist_file = "lists/blocked.txt"

[statistics]
enabled = true
backend = "memory"

[[dns.servers]]
address = "8.8.8.8:53"
type = "tcp"
timeout_seconds = 2
`
	path := createTempConfigFile(t, t.TempDir(), "proxy.toml", content)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Port != 3130 || cfg.CacheCapacity != 12 || cfg.BlacklistFile != "lists/blocked.txt" {
		t.Errorf("unexpected settings: %+v", cfg)
	}
	if !cfg.Statistics.Enabled || cfg.Statistics.Backend != StatsBackendMemory {
		t.Errorf("Statistics = %+v", cfg.Statistics)
	}
	want := []DNSServerConfig{{Address: "8.8.8.8:53", Type: DNSTypeTCP, TimeoutSeconds: 2}}
	if !reflect.DeepEqual(cfg.DNS.Servers, want) {
		t.Errorf("DNS servers = %+v, want %+v", cfg.DNS.Servers, want)
	}
}

func TestNormalizeDecoded(t *testing.T) {
	in := map[string]any{
		"n":      int64(3),
		"nested": map[any]any{"k": 1},
		"list":   []map[string]any{{"x": uint64(7)}},
	}
	want := map[string]any{
		"n":      float64(3),
		"nested": map[string]any{"k": float64(1)},
		"list":   []any{map[string]any{"x": float64(7)}},
	}
	if got := normalizeDecoded(in); !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeDecoded = %#v, want %#v", got, want)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SPERRGUT_PORT", "7000")
	t.Setenv("SPERRGUT_CACHE_CAPACITY", "4")
	t.Setenv("SPERRGUT_SOCKS5_ADDRESS", "10.0.0.1:1080")
	t.Setenv("SPERRGUT_BUFFER_SIZE", "not-a-number")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
	if cfg.CacheCapacity != 4 {
		t.Errorf("CacheCapacity = %d, want 4", cfg.CacheCapacity)
	}
	if !cfg.Upstream.Enabled() {
		t.Errorf("upstream should be enabled from env")
	}
	if cfg.BufferSize != DefaultBufferSize {
		t.Errorf("invalid env value should keep default, got %d", cfg.BufferSize)
	}
}

func TestConfigFileOverridesEnv(t *testing.T) {
	t.Setenv("SPERRGUT_PORT", "7000")
	path := createTempConfigFile(t, t.TempDir(), "proxy.conf", "port=7001\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("Port = %d, want file value 7001", cfg.Port)
	}
}

func TestLoadConfigCacheCapacityFallback(t *testing.T) {
	path := createTempConfigFile(t, t.TempDir(), "proxy.conf", "cache_capacity=0\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.CacheCapacity != DefaultCacheCapacity {
		t.Errorf("CacheCapacity = %d, want %d", cfg.CacheCapacity, DefaultCacheCapacity)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"buffer too small", func(c *Config) { c.BufferSize = 1 }, "buffer_size"},
		{"timeout zero", func(c *Config) { c.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"ipv6 listen address", func(c *Config) { c.ListenAddress = "::1" }, "IPv4"},
		{"unknown stats backend", func(c *Config) {
			c.Statistics.Enabled = true
			c.Statistics.Backend = "mongo"
		}, "unsupported stats backend"},
		{"postgres without dsn", func(c *Config) {
			c.Statistics.Enabled = true
			c.Statistics.Backend = StatsBackendPostgres
		}, "stats_postgres_dsn"},
		{"dns without servers", func(c *Config) { c.DNS.Enabled = true }, "without servers"},
		{"dns bad type", func(c *Config) {
			c.DNS = DNSConfig{Enabled: true, Servers: []DNSServerConfig{{Address: "1.1.1.1:53", Type: "doh"}}}
		}, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHasChanged(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if HasChanged(a, b) {
		t.Error("identical configs reported as changed")
	}

	b.CacheCapacity = 20
	if !HasChanged(a, b) {
		t.Error("cache capacity change not detected")
	}

	c := DefaultConfig()
	c.DNS = DNSConfig{Enabled: true, Servers: []DNSServerConfig{{Address: "8.8.8.8:53", Type: DNSTypeUDP}}}
	if !HasChanged(a, c) {
		t.Error("dns change not detected")
	}

	if !HasChanged(a, nil) || HasChanged(nil, nil) {
		t.Error("nil handling is wrong")
	}
}
