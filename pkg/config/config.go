// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure shared by every job-judge service.
type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	GRPC      GRPCConfig      `koanf:"grpc"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Audit     AuditConfig     `koanf:"audit"`
	Swagger   SwaggerConfig   `koanf:"swagger"`
	Retry     RetryConfig     `koanf:"retry"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Registrar RegistrarConfig `koanf:"registrar"`
	Session   SessionConfig   `koanf:"session"`
	Container ContainerConfig `koanf:"container"`
}

// ServiceConfig identifies this instance to the rest of the mesh.
type ServiceConfig struct {
	Module   string `koanf:"module"`    // JJ_SERVICE_MODULE
	Name     string `koanf:"name"`      // JJ_SERVICE_NAME
	IP       string `koanf:"ip"`        // JJ_SERVICE_IP
	Level    string `koanf:"level"`     // JJ_SERVICE_LEVEL: test/pre/prod
	BindPort int    `koanf:"bind_port"` // JJ_BIND_PORT
	NodePort int    `koanf:"node_port"` // JJ_NODE_PORT, 0 = same as BindPort
	Replica  int    `koanf:"replica"`   // JJ_REPLICA_ID, else trailing int of Name
}

// AdvertisedPort returns the port other instances should dial.
func (s ServiceConfig) AdvertisedPort() int {
	if s.NodePort != 0 {
		return s.NodePort
	}
	return s.BindPort
}

// GRPCConfig holds gRPC server tuning knobs.
type GRPCConfig struct {
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"` // bytes
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"` // bytes
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
	TLS               TLSConfig       `koanf:"tls"`
}

// KeepAliveConfig configures gRPC keepalive enforcement.
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// TLSConfig configures transport security, when enabled.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// HTTPConfig configures the HTTP bridge (C6) exposed by gatewaysvr/cgisvr.
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORS            CORSConfig    `koanf:"cors"`
}

// CORSConfig configures cross-origin access to the HTTP bridge.
type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// LogConfig configures the C1 async log sink.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text (file/stderr handler)
	Output     string `koanf:"output"`      // stdout, stderr, file, tcp
	FilePath   string `koanf:"file_path"`   // used when Output == file
	TCPAddr    string `koanf:"tcp_addr"`    // used when Output == tcp
	MaxSize    int    `koanf:"max_size"`    // MB, file rotation
	MaxBackups int    `koanf:"max_backups"` // rotation backlog
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
	QueueSize  int    `koanf:"queue_size"` // bounded async queue capacity
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// DatabaseConfig configures the Postgres connection backing C7's segmented
// counter table and any service-owned persistent state.
type DatabaseConfig struct {
	URL             string        `koanf:"url"` // JJ_COMM_DATABASE_URL, full DSN
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// CacheConfig configures the Redis/memory backend used by C8's revocation
// set.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // in-memory backend only
}

// Address returns the cache backend's dial address.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig configures the interceptor chain's rate limiter.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// AuditConfig configures the audit trail sink.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend"`
	FilePath        string        `koanf:"file_path"`
	BufferSize      int           `koanf:"buffer_size"`
	FlushPeriod     time.Duration `koanf:"flush_period"`
	ExcludeMethods  []string      `koanf:"exclude_methods"`
	IncludeRequest  bool          `koanf:"include_request"`
	IncludeResponse bool          `koanf:"include_response"`
}

// SwaggerConfig configures the introspection UI.
type SwaggerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Port    int    `koanf:"port"`
	Title   string `koanf:"title"`
}

// RetryConfig configures the grpc-middleware retry interceptor used by
// outgoing module channels.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// DiscoveryConfig configures C2's file/DNS instance discovery.
type DiscoveryConfig struct {
	TTL        time.Duration `koanf:"ttl"`         // JJ_DISCOVER_TTL, watcher period
	File       string        `koanf:"file"`        // JJ_DISCOVER_FILE, bypasses DNS when set
	Suffix     string        `koanf:"suffix"`      // JJ_DISCOVER_SUFFIX
	NameServer string        `koanf:"name_server"` // JJ_DISCOVER_NAME_SERVER, empty = system resolver
}

// RegistrarConfig configures C4's coordination-store service registration.
type RegistrarConfig struct {
	Endpoints   []string      `koanf:"endpoints"` // JJ_REGISTRAR_ENDPOINTS, comma-separated
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	Prefix      string        `koanf:"prefix"`  // JJ_REGISTRAR_PREFIX
	TTL         time.Duration `koanf:"ttl"`     // lease TTL, floor 30s
	Retries     int           `koanf:"retries"` // connect retries before giving up
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// SessionConfig configures C8's HMAC-signed session tokens.
type SessionConfig struct {
	Key string `koanf:"key"` // JJ_SESSION_KEY
}

// ContainerConfig configures C9/C10's container template and workflow.
type ContainerConfig struct {
	ConfigFile string `koanf:"config_file"` // JJ_CONFIG_FILE
}

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.Module == "" {
		errs = append(errs, "service.module is required")
	}

	if c.Service.BindPort <= 0 || c.Service.BindPort > 65535 {
		errs = append(errs, fmt.Sprintf("service.bind_port must be between 1 and 65535, got %d", c.Service.BindPort))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	validLevelsSvc := map[string]bool{"test": true, "pre": true, "prod": true, "0": true, "1": true, "2": true}
	if c.Service.Level != "" && !validLevelsSvc[strings.ToLower(c.Service.Level)] {
		errs = append(errs, fmt.Sprintf("service.level must be one of: test, pre, prod, got %s", c.Service.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProd reports whether the service is running at production criticality.
func (c *Config) IsProd() bool {
	level := strings.ToLower(c.Service.Level)
	return level == "prod" || level == "2" || level == ""
}
