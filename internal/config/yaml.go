package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Receiver  ReceiverYAMLConfig  `yaml:"receiver"`
	Uploader  UploaderYAMLConfig  `yaml:"uploader"`
	Encoding  EncodingYAMLConfig  `yaml:"encoding"`
	Node      NodeYAMLConfig      `yaml:"node"`
	Stats     StatsYAMLConfig     `yaml:"stats"`
	Memory    MemoryYAMLConfig    `yaml:"memory"`
	Telemetry TelemetryYAMLConfig `yaml:"telemetry"`
	Logging   LoggingYAMLConfig   `yaml:"logging"`
}

// ReceiverYAMLConfig holds receiver configuration.
type ReceiverYAMLConfig struct {
	Address string               `yaml:"address"`
	Path    string               `yaml:"path"`
	Server  HTTPServerYAMLConfig `yaml:"server"`
}

// HTTPServerYAMLConfig holds HTTP server timeout settings.
type HTTPServerYAMLConfig struct {
	MaxRequestBodySize ByteSize `yaml:"max_request_body_size"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	ReadHeaderTimeout  Duration `yaml:"read_header_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
}

// UploaderYAMLConfig holds upload client configuration.
type UploaderYAMLConfig struct {
	Endpoint    string                `yaml:"endpoint"`
	Protocol    string                `yaml:"protocol"`
	Insecure    *bool                 `yaml:"insecure"`
	Timeout     Duration              `yaml:"timeout"`
	DefaultPath string                `yaml:"default_path"`
	TLS         TLSClientYAMLConfig   `yaml:"tls"`
	Auth        AuthClientYAMLConfig  `yaml:"auth"`
	Compression CompressionYAMLConfig `yaml:"compression"`
	HTTPClient  HTTPClientYAMLConfig  `yaml:"http_client"`
	Retry       RetryYAMLConfig       `yaml:"retry"`
}

// RetryYAMLConfig holds per-batch upload retry configuration.
type RetryYAMLConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	MaxRetries      *uint32  `yaml:"max_retries"`
	InitialInterval Duration `yaml:"initial_interval"`
	// MaxInterval is a pointer so an explicit zero (uncapped backoff)
	// survives defaulting.
	MaxInterval *Duration `yaml:"max_interval"`
	Multiplier  float64   `yaml:"multiplier"`
}

// TLSClientYAMLConfig holds TLS client configuration.
type TLSClientYAMLConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	SkipVerify bool   `yaml:"skip_verify"`
	ServerName string `yaml:"server_name"`
}

// AuthClientYAMLConfig holds client authentication configuration.
type AuthClientYAMLConfig struct {
	BearerToken   string            `yaml:"bearer_token"`
	BasicUsername string            `yaml:"basic_username"`
	BasicPassword string            `yaml:"basic_password"`
	Headers       map[string]string `yaml:"headers"`
}

// CompressionYAMLConfig holds compression settings.
type CompressionYAMLConfig struct {
	Type  string `yaml:"type"`
	Level int    `yaml:"level"`
}

// HTTPClientYAMLConfig holds HTTP client connection pool settings.
type HTTPClientYAMLConfig struct {
	MaxIdleConns         int      `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost  int      `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost      int      `yaml:"max_conns_per_host"`
	IdleConnTimeout      Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives    bool     `yaml:"disable_keep_alives"`
	ForceHTTP2           bool     `yaml:"force_http2"`
	HTTP2ReadIdleTimeout Duration `yaml:"http2_read_idle_timeout"`
	HTTP2PingTimeout     Duration `yaml:"http2_ping_timeout"`
}

// EncodingYAMLConfig holds payload encoding configuration.
type EncodingYAMLConfig struct {
	MaxBatchRecords  int    `yaml:"max_batch_records"`
	DefaultEventName string `yaml:"default_event_name"`
}

// NodeYAMLConfig holds export node configuration.
type NodeYAMLConfig struct {
	QueueSize       int      `yaml:"queue_size"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StatsYAMLConfig holds stream statistics configuration.
type StatsYAMLConfig struct {
	Address        string   `yaml:"address"`
	ReportInterval Duration `yaml:"report_interval"`
}

// MemoryYAMLConfig holds memory limit configuration.
type MemoryYAMLConfig struct {
	// LimitRatio is the ratio of container memory to use for GOMEMLIMIT (0.0-1.0)
	LimitRatio float64 `yaml:"limit_ratio"`
}

// TelemetryYAMLConfig holds OTLP self-monitoring telemetry configuration.
type TelemetryYAMLConfig struct {
	Endpoint        string            `yaml:"endpoint"`         // OTLP endpoint (empty = disabled)
	Protocol        string            `yaml:"protocol"`         // "grpc" or "http" (default: "grpc")
	Insecure        *bool             `yaml:"insecure"`         // Use insecure connection (default: true)
	Timeout         Duration          `yaml:"timeout"`          // Per-export timeout (0 = SDK default 10s)
	PushInterval    Duration          `yaml:"push_interval"`    // Metric push interval (default: 30s)
	Compression     string            `yaml:"compression"`      // "gzip" or "" (default: "")
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // Shutdown grace period (default: 5s)
	Headers         map[string]string `yaml:"headers"`          // Custom headers (auth, etc.)
}

// LoggingYAMLConfig holds logging configuration.
type LoggingYAMLConfig struct {
	Level string `yaml:"level"`
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize is a wrapper for int64 that supports human-readable YAML values.
// Accepted formats: raw integer (bytes), or suffixed: Ki, Mi, Gi, Ti.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	// Try integer first
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	// Try string with unit suffix
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*b = 0
		return nil
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses a human-readable byte size string.
// Accepted suffixes: Ki (1024), Mi (1048576), Gi (1073741824), Ti (1099511627776).
// Plain integers are treated as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	type suffix struct {
		name string
		mult int64
	}
	suffixes := []suffix{
		{"Ti", 1099511627776},
		{"Gi", 1073741824},
		{"Mi", 1048576},
		{"Ki", 1024},
	}
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.name) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.name))
			// Support float values like "1.5Gi"
			var f float64
			if _, err := fmt.Sscanf(numStr, "%f", &f); err != nil {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	var n int64
	var trail string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &trail); err == nil && trail != "" {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi, Gi, or Ti suffixes)", s)
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return n, nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults sets default values for unspecified fields.
func (y *YAMLConfig) ApplyDefaults() {
	// Receiver defaults
	if y.Receiver.Address == "" {
		y.Receiver.Address = ":4319"
	}
	if y.Receiver.Path == "" {
		y.Receiver.Path = "/v1/arrow/logs"
	}
	if y.Receiver.Server.MaxRequestBodySize == 0 {
		y.Receiver.Server.MaxRequestBodySize = 64 * 1048576 // 64Mi
	}
	if y.Receiver.Server.ReadHeaderTimeout == 0 {
		y.Receiver.Server.ReadHeaderTimeout = Duration(1 * time.Minute)
	}
	if y.Receiver.Server.WriteTimeout == 0 {
		y.Receiver.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if y.Receiver.Server.IdleTimeout == 0 {
		y.Receiver.Server.IdleTimeout = Duration(1 * time.Minute)
	}

	// Uploader defaults
	if y.Uploader.Endpoint == "" {
		y.Uploader.Endpoint = "localhost:4317"
	}
	if y.Uploader.Protocol == "" {
		y.Uploader.Protocol = "grpc"
	}
	if y.Uploader.Insecure == nil {
		insecure := true
		y.Uploader.Insecure = &insecure
	}
	if y.Uploader.Timeout == 0 {
		y.Uploader.Timeout = Duration(30 * time.Second)
	}
	if y.Uploader.DefaultPath == "" {
		y.Uploader.DefaultPath = "/v1/logs"
	}
	if y.Uploader.Compression.Type == "" {
		y.Uploader.Compression.Type = "none"
	}
	if y.Uploader.HTTPClient.MaxIdleConns == 0 {
		y.Uploader.HTTPClient.MaxIdleConns = 100
	}
	if y.Uploader.HTTPClient.MaxIdleConnsPerHost == 0 {
		y.Uploader.HTTPClient.MaxIdleConnsPerHost = 100
	}
	if y.Uploader.HTTPClient.IdleConnTimeout == 0 {
		y.Uploader.HTTPClient.IdleConnTimeout = Duration(90 * time.Second)
	}

	// Retry defaults
	if y.Uploader.Retry.Enabled == nil {
		enabled := true
		y.Uploader.Retry.Enabled = &enabled
	}
	if y.Uploader.Retry.MaxRetries == nil {
		retries := uint32(3)
		y.Uploader.Retry.MaxRetries = &retries
	}
	if y.Uploader.Retry.InitialInterval == 0 {
		y.Uploader.Retry.InitialInterval = Duration(100 * time.Millisecond)
	}
	if y.Uploader.Retry.MaxInterval == nil {
		d := Duration(5 * time.Second)
		y.Uploader.Retry.MaxInterval = &d
	}
	if y.Uploader.Retry.Multiplier == 0 {
		y.Uploader.Retry.Multiplier = 2.0
	}

	// Encoding defaults
	if y.Encoding.DefaultEventName == "" {
		y.Encoding.DefaultEventName = "Log"
	}

	// Node defaults
	if y.Node.QueueSize == 0 {
		y.Node.QueueSize = 64
	}
	if y.Node.ShutdownTimeout == 0 {
		y.Node.ShutdownTimeout = Duration(30 * time.Second)
	}

	// Stats defaults
	if y.Stats.Address == "" {
		y.Stats.Address = ":9090"
	}
	if y.Stats.ReportInterval == 0 {
		y.Stats.ReportInterval = Duration(60 * time.Second)
	}

	// Memory defaults
	if y.Memory.LimitRatio == 0 {
		y.Memory.LimitRatio = 0.85
	}

	// Telemetry defaults
	if y.Telemetry.Protocol == "" {
		y.Telemetry.Protocol = "grpc"
	}
	if y.Telemetry.Insecure == nil {
		b := true
		y.Telemetry.Insecure = &b
	}
	if y.Telemetry.PushInterval == 0 {
		y.Telemetry.PushInterval = Duration(30 * time.Second)
	}
	if y.Telemetry.ShutdownTimeout == 0 {
		y.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}

	// Logging defaults
	if y.Logging.Level == "" {
		y.Logging.Level = "info"
	}
}

// ToConfig converts YAMLConfig to the flat Config struct.
func (y *YAMLConfig) ToConfig() *Config {
	return &Config{
		ReceiverAddr:               y.Receiver.Address,
		ReceiverPath:               y.Receiver.Path,
		ReceiverMaxRequestBodySize: int64(y.Receiver.Server.MaxRequestBodySize),
		ReceiverReadTimeout:        time.Duration(y.Receiver.Server.ReadTimeout),
		ReceiverReadHeaderTimeout:  time.Duration(y.Receiver.Server.ReadHeaderTimeout),
		ReceiverWriteTimeout:       time.Duration(y.Receiver.Server.WriteTimeout),
		ReceiverIdleTimeout:        time.Duration(y.Receiver.Server.IdleTimeout),

		UploaderEndpoint:    y.Uploader.Endpoint,
		UploaderProtocol:    y.Uploader.Protocol,
		UploaderInsecure:    *y.Uploader.Insecure,
		UploaderTimeout:     time.Duration(y.Uploader.Timeout),
		UploaderDefaultPath: y.Uploader.DefaultPath,

		UploaderTLSEnabled:            y.Uploader.TLS.Enabled,
		UploaderTLSCertFile:           y.Uploader.TLS.CertFile,
		UploaderTLSKeyFile:            y.Uploader.TLS.KeyFile,
		UploaderTLSCAFile:             y.Uploader.TLS.CAFile,
		UploaderTLSInsecureSkipVerify: y.Uploader.TLS.SkipVerify,
		UploaderTLSServerName:         y.Uploader.TLS.ServerName,

		UploaderAuthBearerToken:   y.Uploader.Auth.BearerToken,
		UploaderAuthBasicUsername: y.Uploader.Auth.BasicUsername,
		UploaderAuthBasicPassword: y.Uploader.Auth.BasicPassword,
		UploaderAuthHeaders:       y.Uploader.Auth.Headers,

		UploaderCompression:      y.Uploader.Compression.Type,
		UploaderCompressionLevel: y.Uploader.Compression.Level,

		UploaderMaxIdleConns:         y.Uploader.HTTPClient.MaxIdleConns,
		UploaderMaxIdleConnsPerHost:  y.Uploader.HTTPClient.MaxIdleConnsPerHost,
		UploaderMaxConnsPerHost:      y.Uploader.HTTPClient.MaxConnsPerHost,
		UploaderIdleConnTimeout:      time.Duration(y.Uploader.HTTPClient.IdleConnTimeout),
		UploaderDisableKeepAlives:    y.Uploader.HTTPClient.DisableKeepAlives,
		UploaderForceHTTP2:           y.Uploader.HTTPClient.ForceHTTP2,
		UploaderHTTP2ReadIdleTimeout: time.Duration(y.Uploader.HTTPClient.HTTP2ReadIdleTimeout),
		UploaderHTTP2PingTimeout:     time.Duration(y.Uploader.HTTPClient.HTTP2PingTimeout),

		RetryEnabled:         *y.Uploader.Retry.Enabled,
		RetryMaxRetries:      *y.Uploader.Retry.MaxRetries,
		RetryInitialInterval: time.Duration(y.Uploader.Retry.InitialInterval),
		RetryMaxInterval:     time.Duration(*y.Uploader.Retry.MaxInterval),
		RetryMultiplier:      y.Uploader.Retry.Multiplier,

		MaxBatchRecords:  y.Encoding.MaxBatchRecords,
		DefaultEventName: y.Encoding.DefaultEventName,

		NodeQueueSize:       y.Node.QueueSize,
		NodeShutdownTimeout: time.Duration(y.Node.ShutdownTimeout),

		StatsAddr:           y.Stats.Address,
		StatsReportInterval: time.Duration(y.Stats.ReportInterval),

		MemoryLimitRatio: y.Memory.LimitRatio,

		TelemetryEndpoint:        y.Telemetry.Endpoint,
		TelemetryProtocol:        y.Telemetry.Protocol,
		TelemetryInsecure:        *y.Telemetry.Insecure,
		TelemetryTimeout:         time.Duration(y.Telemetry.Timeout),
		TelemetryPushInterval:    time.Duration(y.Telemetry.PushInterval),
		TelemetryCompression:     y.Telemetry.Compression,
		TelemetryShutdownTimeout: time.Duration(y.Telemetry.ShutdownTimeout),
		TelemetryHeaders:         y.Telemetry.Headers,

		LogLevel: y.Logging.Level,
	}
}
