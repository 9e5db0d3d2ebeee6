package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
)

// Defaults applied before the environment and the config file.
const (
	DefaultPort           = 8080
	DefaultBufferSize     = 8192
	DefaultCacheCapacity  = 10
	DefaultBlacklistFile  = "config/blocked_domains.txt"
	DefaultListenAddress  = "0.0.0.0"
	DefaultTimeoutSeconds = 5
	DefaultStatsSQLite    = "sperrgut_stats.db"

	envPrefix = "SPERRGUT_"
)

// Statistics backends understood by the stats package.
const (
	StatsBackendDummy    = "dummy"
	StatsBackendMemory   = "memory"
	StatsBackendSQLite   = "sqlite"
	StatsBackendPostgres = "postgres"
)

// errUnknownKey marks configuration keys that no field consumes.
var errUnknownKey = errors.New("unknown configuration key")

// UpstreamConfig chains every outbound connection through a SOCKS5 proxy.
type UpstreamConfig struct {
	SOCKS5Address string
	Username      string
	Password      string
}

// Enabled reports whether an upstream SOCKS5 proxy is configured.
func (u UpstreamConfig) Enabled() bool {
	return u.SOCKS5Address != ""
}

// StatisticsConfig selects where connection statistics are recorded.
type StatisticsConfig struct {
	Enabled     bool
	Backend     string
	SQLitePath  string
	PostgresDSN string
}

// Config represents the configuration of one proxy process. It is built once
// at startup and shared read-only by every connection handler.
type Config struct {
	Port          int    // Listening port
	BufferSize    int    // Size of relay buffers and of the request head limit
	CacheCapacity int    // Number of responses kept by the LRU cache
	BlacklistFile string // Path of the blocked domains list
	CachePath     string // Stored for tooling; responses are only cached in memory
	ListenAddress string // IPv4 address to bind
	// TimeoutSeconds bounds every socket read, write and dial.
	TimeoutSeconds int
	LogLevel       string
	Upstream       UpstreamConfig
	DNS            DNSConfig
	Statistics     StatisticsConfig
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Port:           DefaultPort,
		BufferSize:     DefaultBufferSize,
		CacheCapacity:  DefaultCacheCapacity,
		BlacklistFile:  DefaultBlacklistFile,
		CachePath:      "",
		ListenAddress:  DefaultListenAddress,
		TimeoutSeconds: DefaultTimeoutSeconds,
		LogLevel:       "INFO",
		Statistics: StatisticsConfig{
			Backend:    StatsBackendSQLite,
			SQLitePath: DefaultStatsSQLite,
		},
	}
}

// Timeout returns TimeoutSeconds as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Addr returns the address the acceptor binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(c.Port))
}

// Validate reports the first setting the proxy cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.BufferSize < 2 {
		return fmt.Errorf("buffer_size must be at least 2, got %d", c.BufferSize)
	}
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1, got %d", c.TimeoutSeconds)
	}
	if ip := net.ParseIP(c.ListenAddress); ip == nil || ip.To4() == nil {
		return fmt.Errorf("listen_address %q is not an IPv4 address", c.ListenAddress)
	}
	if err := c.DNS.Validate(); err != nil {
		return err
	}
	if c.Statistics.Enabled {
		switch c.Statistics.Backend {
		case StatsBackendDummy, StatsBackendMemory, StatsBackendSQLite:
		case StatsBackendPostgres:
			if c.Statistics.PostgresDSN == "" {
				return fmt.Errorf("stats_postgres_dsn is required for the postgres backend")
			}
		default:
			return fmt.Errorf("unsupported stats backend: %s", c.Statistics.Backend)
		}
	}
	return nil
}

// LoadConfig loads configuration from the specified file path. The format is
// chosen by extension: .json, .hcl, .yaml/.yml, .toml; anything else is read
// as key=value lines.
// An empty path yields defaults plus environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	loadConfigFromEnv(cfg)

	if configPath != "" {
		var err error

		switch strings.ToLower(filepath.Ext(configPath)) {
		case ".json":
			err = loadJSONConfig(configPath, cfg)
		case ".hcl":
			err = loadHCLConfig(configPath, cfg)
		case ".yaml", ".yml":
			err = loadYAMLConfig(configPath, cfg)
		case ".toml":
			err = loadTOMLConfig(configPath, cfg)
		default:
			err = loadKeyValueConfig(configPath, cfg)
		}

		if err != nil {
			return nil, err
		}
	}

	if cfg.CacheCapacity < 1 {
		logger.Warn("cache_capacity %d is not positive, using %d", cfg.CacheCapacity, DefaultCacheCapacity)
		cfg.CacheCapacity = DefaultCacheCapacity
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func openConfigFile(configPath string) (*os.File, error) {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return file, nil
}

// loadKeyValueConfig reads "key = value" lines. Lines starting with # and
// lines without '=' are skipped.
func loadKeyValueConfig(configPath string, cfg *Config) error {
	file, err := openConfigFile(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if err := applyValue(cfg, key, value); err != nil {
			if errors.Is(err, errUnknownKey) {
				logger.Warn("%s:%d: ignoring unknown key %q", configPath, lineNo, key)
				continue
			}
			return fmt.Errorf("%s:%d: %w", configPath, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func loadJSONConfig(configPath string, cfg *Config) error {
	file, err := openConfigFile(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	var data map[string]any
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return applyMap(cfg, configPath, data)
}

// applyMap applies decoded JSON or HCL attributes in key order.
func applyMap(cfg *Config, source string, data map[string]any) error {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := applyValue(cfg, key, data[key]); err != nil {
			if errors.Is(err, errUnknownKey) {
				logger.Warn("%s: ignoring unknown key %q", source, key)
				continue
			}
			return fmt.Errorf("%s: %w", source, err)
		}
	}
	return nil
}

// normalizeKey makes "buffer-size", "Buffer_Size" and "buffer_size" equal.
func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

// applyValue assigns one configuration value. Values arrive as strings from
// key=value files and the environment, and as JSON-like values from JSON and
// HCL.
func applyValue(cfg *Config, key string, value any) error {
	key = normalizeKey(key)

	setInt := func(dst *int) error {
		v, err := parseValue[int](value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = *v
		return nil
	}
	setString := func(dst *string) error {
		v, err := parseValue[string](value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = strings.TrimSpace(*v)
		return nil
	}
	setBool := func(dst *bool) error {
		v, err := parseValue[bool](value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = *v
		return nil
	}

	switch key {
	case "port":
		return setInt(&cfg.Port)
	case "buffer_size":
		return setInt(&cfg.BufferSize)
	case "cache_capacity":
		return setInt(&cfg.CacheCapacity)
	case "timeout_seconds":
		return setInt(&cfg.TimeoutSeconds)
	case "blacklist_file":
		return setString(&cfg.BlacklistFile)
	case "cache_path":
		return setString(&cfg.CachePath)
	case "listen_address", "bind_address":
		return setString(&cfg.ListenAddress)
	case "log_level":
		return setString(&cfg.LogLevel)
	case "socks5_address":
		return setString(&cfg.Upstream.SOCKS5Address)
	case "socks5_username":
		return setString(&cfg.Upstream.Username)
	case "socks5_password":
		return setString(&cfg.Upstream.Password)
	case "stats_enabled":
		return setBool(&cfg.Statistics.Enabled)
	case "stats_backend":
		return setString(&cfg.Statistics.Backend)
	case "stats_sqlite_path":
		return setString(&cfg.Statistics.SQLitePath)
	case "stats_postgres_dsn":
		return setString(&cfg.Statistics.PostgresDSN)
	case "dns_enabled":
		return setBool(&cfg.DNS.Enabled)
	case "dns_servers":
		servers, err := parseDNSServers(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.DNS.Servers = servers
		if len(servers) > 0 {
			cfg.DNS.Enabled = true
		}
		return nil
	case "upstream":
		return applySection(cfg, key, "socks5_", value)
	case "statistics":
		return applySection(cfg, key, "stats_", value)
	case "dns":
		return applySection(cfg, key, "dns_", value)
	default:
		return fmt.Errorf("%w: %s", errUnknownKey, key)
	}
}

// applySection flattens a nested object such as statistics = { backend = ... }
// onto the prefixed flat keys.
func applySection(cfg *Config, section, prefix string, value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("%s: expected an object, got %T", section, value)
	}
	for key, v := range m {
		flat := normalizeKey(key)
		if !strings.HasPrefix(flat, prefix) {
			flat = prefix + flat
		}
		if err := applyValue(cfg, flat, v); err != nil {
			return fmt.Errorf("%s: %w", section, err)
		}
	}
	return nil
}

// parseDNSServers accepts "udp://8.8.8.8:53, tcp://1.1.1.1:53", a list of such
// strings, or a list of objects with address/type/timeout-seconds/tls-host.
func parseDNSServers(value any) ([]DNSServerConfig, error) {
	var items []any
	switch v := value.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("expected a list of servers, got %T", value)
	}

	servers := make([]DNSServerConfig, 0, len(items))
	for i, item := range items {
		switch it := item.(type) {
		case string:
			servers = append(servers, parseDNSServerURL(it))
		case map[string]any:
			server := DNSServerConfig{Type: DNSTypeUDP}
			for key, v := range it {
				var err error
				switch normalizeKey(key) {
				case "address":
					var s *string
					if s, err = parseValue[string](v); err == nil {
						server.Address = *s
					}
				case "type":
					var s *string
					if s, err = parseValue[string](v); err == nil {
						server.Type = DNSType(strings.ToLower(*s))
					}
				case "timeout_seconds":
					var n *int
					if n, err = parseValue[int](v); err == nil {
						server.TimeoutSeconds = *n
					}
				case "tls_host":
					var s *string
					if s, err = parseValue[string](v); err == nil {
						server.TLSHost = *s
					}
				default:
					err = fmt.Errorf("%w: %s", errUnknownKey, key)
				}
				if err != nil {
					return nil, fmt.Errorf("server %d: %w", i, err)
				}
			}
			servers = append(servers, server)
		default:
			return nil, fmt.Errorf("server %d: unsupported value %T", i, item)
		}
	}
	return servers, nil
}

// parseDNSServerURL splits an optional "type://" prefix off a server address.
func parseDNSServerURL(raw string) DNSServerConfig {
	server := DNSServerConfig{Type: DNSTypeUDP, Address: raw}
	if scheme, addr, ok := strings.Cut(raw, "://"); ok {
		server.Type = DNSType(strings.ToLower(scheme))
		server.Address = addr
	}
	return server
}

func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	// Secret-case: retrieve env var
	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		case reflect.String:
			elem.SetString(strconv.FormatFloat(v, 'f', -1, 64))
		default:
			return nil, fmt.Errorf("expected %T, got number", zero)
		}
	case string:
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(v)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse int: %w", err)
			}
			elem.SetInt(i)
		case reflect.Float32, reflect.Float64:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), elem.Type().Bits())
			if err != nil {
				return nil, fmt.Errorf("failed to parse float: %w", err)
			}
			elem.SetFloat(f)
		case reflect.Bool:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			elem.SetBool(b)
		default:
			return nil, fmt.Errorf("expected %T, got string", zero)
		}
	case bool:
		if elem.Kind() == reflect.Bool {
			elem.SetBool(v)
		} else {
			return nil, fmt.Errorf("expected %T, got bool", zero)
		}
	default:
		// direct-case: cast
		if rv, ok := value.(T); ok {
			return &rv, nil
		}
		return nil, fmt.Errorf("expected %T, got %T", zero, value)
	}
	return ptr.Interface().(*T), nil
}

// envKeys lists the flat keys that can be overridden as SPERRGUT_<KEY>.
var envKeys = []string{
	"port",
	"buffer_size",
	"cache_capacity",
	"timeout_seconds",
	"blacklist_file",
	"cache_path",
	"listen_address",
	"log_level",
	"socks5_address",
	"socks5_username",
	"socks5_password",
	"stats_enabled",
	"stats_backend",
	"stats_sqlite_path",
	"stats_postgres_dsn",
	"dns_servers",
}

func loadConfigFromEnv(cfg *Config) {
	for _, key := range envKeys {
		name := envPrefix + strings.ToUpper(key)
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if err := applyValue(cfg, key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Invalid format for %s: %s\n", name, value)
		}
	}
}
