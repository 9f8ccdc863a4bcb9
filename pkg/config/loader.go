// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "JJ_"
	configEnvVar = "JJ_SETTINGS_FILE"
)

// Loader assembles a Config from layered sources.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/job-judge/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the list of config file search paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load assembles configuration with priority, lowest to highest:
//  1. Defaults
//  2. Config file (yaml), optional
//  3. Environment variables nested by underscore (JJ_GRPC_KEEPALIVE_TIME -> grpc.keepalive.time)
//  4. The exact flat JJ_* names from the external interface, applied last so
//     they always win regardless of how they happen to nest.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyExternalInterfaceEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults seeds the koanf tree with the library's built-in defaults.
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// Service
		"service.module":    "UNKNOWN",
		"service.name":      "UNKNOWN",
		"service.ip":        "localhost",
		"service.level":     "prod",
		"service.bind_port": 11100,
		"service.node_port": 0,

		// GRPC
		"grpc.max_recv_msg_size":                  16 * 1024 * 1024,
		"grpc.max_send_msg_size":                  16 * 1024 * 1024,
		"grpc.max_concurrent_conn":                1000,
		"grpc.keepalive.max_connection_idle":      15 * time.Minute,
		"grpc.keepalive.max_connection_age":       30 * time.Minute,
		"grpc.keepalive.max_connection_age_grace": 5 * time.Minute,
		"grpc.keepalive.time":                     5 * time.Minute,
		"grpc.keepalive.timeout":                  20 * time.Second,
		"grpc.tls.enabled":                        false,

		// HTTP
		"http.port":                   8080,
		"http.read_timeout":           30 * time.Second,
		"http.write_timeout":          30 * time.Second,
		"http.shutdown_timeout":       10 * time.Second,
		"http.cors.enabled":           true,
		"http.cors.allowed_origins":   []string{"*"},
		"http.cors.allowed_methods":   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		"http.cors.allowed_headers":   []string{"*"},
		"http.cors.allow_credentials": false,
		"http.cors.max_age":           86400,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,
		"log.queue_size":  10000,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "jobjudge",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "job-judge",
		"tracing.sample_rate":  0.1,

		// Database
		"database.url":                "",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.auto_migrate":       true,

		// Cache
		"cache.enabled":     false,
		"cache.driver":      "memory",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 5 * time.Minute,
		"cache.max_entries": 10000,

		// Rate Limit
		"rate_limit.enabled":          true,
		"rate_limit.requests":         100,
		"rate_limit.window":           time.Minute,
		"rate_limit.strategy":         "sliding_window",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       10,
		"rate_limit.cleanup_interval": 5 * time.Minute,

		// Audit
		"audit.enabled":      true,
		"audit.backend":      "stdout",
		"audit.buffer_size":  1000,
		"audit.flush_period": 5 * time.Second,

		// Swagger
		"swagger.enabled": true,
		"swagger.port":    8081,
		"swagger.title":   "job-judge API",

		// Retry
		"retry.max_attempts":       3,
		"retry.initial_backoff":    100 * time.Millisecond,
		"retry.max_backoff":        10 * time.Second,
		"retry.backoff_multiplier": 2.0,

		// Discovery
		"discovery.ttl":         60 * time.Second,
		"discovery.file":        "",
		"discovery.suffix":      "cluster.local",
		"discovery.name_server": "",

		// Registrar
		"registrar.endpoints":    []string{},
		"registrar.prefix":       "/job-judge",
		"registrar.ttl":          30 * time.Second,
		"registrar.retries":      5,
		"registrar.dial_timeout": 5 * time.Second,

		// Session
		"session.key": "",

		// Container
		"container.config_file": "containers.yaml",
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile loads a YAML config file, if one can be found.
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv loads nested overrides of the form JJ_SECTION_FIELD -> section.field.
// A name that equals a known key with its dots written as underscores maps to
// that key, so fields whose names contain underscores are reachable too
// (JJ_SERVICE_BIND_PORT -> service.bind_port).
func (l *Loader) loadEnv() error {
	known := l.k.Keys()
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		if s == "JJ_REGISTRAR_TTL" {
			// Whole seconds, applied by applyExternalInterfaceEnv.
			return ""
		}
		key := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		for _, k := range known {
			if strings.ReplaceAll(k, ".", "_") == key {
				return k
			}
		}
		return strings.ReplaceAll(key, "_", ".")
	}), nil)
}

// applyExternalInterfaceEnv overlays the exact flat JJ_* variable names from
// the external interface, so their documented names take effect regardless
// of whether they happen to nest the way the generic env provider expects.
func applyExternalInterfaceEnv(cfg *Config) {
	if v := os.Getenv("JJ_SERVICE_MODULE"); v != "" {
		cfg.Service.Module = v
	}
	if v := os.Getenv("JJ_SERVICE_NAME"); v != "" {
		cfg.Service.Name = v
	}
	if v := os.Getenv("JJ_SERVICE_IP"); v != "" {
		cfg.Service.IP = v
	}
	if v := os.Getenv("JJ_SERVICE_LEVEL"); v != "" {
		cfg.Service.Level = v
	}
	if v := os.Getenv("JJ_BIND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.BindPort = port
		}
	}
	if v := os.Getenv("JJ_NODE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.NodePort = port
		}
	}
	if v := os.Getenv("JJ_COMM_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("JJ_DISCOVER_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.TTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("JJ_DISCOVER_FILE"); v != "" {
		cfg.Discovery.File = v
	}
	if v := os.Getenv("JJ_DISCOVER_SUFFIX"); v != "" {
		cfg.Discovery.Suffix = v
	}
	if v := os.Getenv("JJ_DISCOVER_NAME_SERVER"); v != "" {
		cfg.Discovery.NameServer = v
	}
	if v := os.Getenv("JJ_REGISTRAR_ENDPOINTS"); v != "" {
		cfg.Registrar.Endpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("JJ_REGISTRAR_PREFIX"); v != "" {
		cfg.Registrar.Prefix = v
	}
	if v := os.Getenv("JJ_REGISTRAR_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Registrar.TTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("JJ_SESSION_KEY"); v != "" {
		cfg.Session.Key = v
	}
	if v := os.Getenv("JJ_REPLICA_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Service.Replica = id
		}
	} else if cfg.Service.Replica == 0 {
		cfg.Service.Replica = trailingInt(cfg.Service.Name)
	}
	if v := os.Getenv("JJ_CONFIG_FILE"); v != "" {
		cfg.Container.ConfigFile = v
	}
}

// trailingInt extracts the trailing run of digits from a name, e.g.
// "judgesvr-3" -> 3. Returns 0 when the name has no trailing digits.
func trailingInt(name string) int {
	end := len(name)
	start := end
	for start > 0 && name[start-1] >= '0' && name[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil {
		return 0
	}
	return n
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load loads configuration with default loader settings.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// LoadWithServiceDefaults loads configuration, falling back to the given
// module name and bind port when the caller hasn't set them explicitly.
func LoadWithServiceDefaults(module string, defaultPort int) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.Service.BindPort == 11100 && defaultPort != 0 {
		cfg.Service.BindPort = defaultPort
	}

	if cfg.Service.Module == "UNKNOWN" {
		cfg.Service.Module = module
	}

	return cfg, nil
}
