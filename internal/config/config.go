// Package config loads and validates the application configuration from a
// YAML file plus command-line flag overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/telemetrygov/logs-governor/internal/auth"
	"github.com/telemetrygov/logs-governor/internal/compression"
	"github.com/telemetrygov/logs-governor/internal/encoding"
	tlspkg "github.com/telemetrygov/logs-governor/internal/tls"
	"github.com/telemetrygov/logs-governor/internal/uploader"
)

// version is set at build time via ldflags
var version = "dev"

// ErrVersionRequested is returned by Load when the -version flag is set.
// The version has already been printed; the caller exits without starting.
var ErrVersionRequested = errors.New("version requested")

// Config holds the application configuration.
type Config struct {
	// Receiver settings
	ReceiverAddr               string
	ReceiverPath               string
	ReceiverMaxRequestBodySize int64
	ReceiverReadTimeout        time.Duration
	ReceiverReadHeaderTimeout  time.Duration
	ReceiverWriteTimeout       time.Duration
	ReceiverIdleTimeout        time.Duration

	// Uploader settings
	UploaderEndpoint    string
	UploaderProtocol    string
	UploaderInsecure    bool
	UploaderTimeout     time.Duration
	UploaderDefaultPath string

	// Uploader TLS settings
	UploaderTLSEnabled            bool
	UploaderTLSCertFile           string
	UploaderTLSKeyFile            string
	UploaderTLSCAFile             string
	UploaderTLSInsecureSkipVerify bool
	UploaderTLSServerName         string

	// Uploader Auth settings
	UploaderAuthBearerToken   string
	UploaderAuthBasicUsername string
	UploaderAuthBasicPassword string
	UploaderAuthHeaders       map[string]string

	// Uploader Compression settings
	UploaderCompression      string
	UploaderCompressionLevel int

	// Uploader HTTP client settings
	UploaderMaxIdleConns         int
	UploaderMaxIdleConnsPerHost  int
	UploaderMaxConnsPerHost      int
	UploaderIdleConnTimeout      time.Duration
	UploaderDisableKeepAlives    bool
	UploaderForceHTTP2           bool
	UploaderHTTP2ReadIdleTimeout time.Duration
	UploaderHTTP2PingTimeout     time.Duration

	// Retry settings
	RetryEnabled         bool
	RetryMaxRetries      uint32
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// Encoding settings
	MaxBatchRecords  int
	DefaultEventName string

	// Node settings
	NodeQueueSize       int
	NodeShutdownTimeout time.Duration

	// Stats settings
	StatsAddr           string
	StatsReportInterval time.Duration

	// Memory limit settings
	MemoryLimitRatio float64 // Ratio of container memory to use for GOMEMLIMIT

	// Telemetry settings
	TelemetryEndpoint        string
	TelemetryProtocol        string
	TelemetryInsecure        bool
	TelemetryTimeout         time.Duration
	TelemetryPushInterval    time.Duration
	TelemetryCompression     string
	TelemetryShutdownTimeout time.Duration
	TelemetryHeaders         map[string]string

	// Logging settings
	LogLevel string
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	y := &YAMLConfig{}
	y.ApplyDefaults()
	return y.ToConfig()
}

// Load builds the configuration from an optional YAML file and flag
// overrides. Flags win over YAML, YAML wins over defaults.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("logs-governor", flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to YAML configuration file")
	showVersion := fs.Bool("version", false, "Print version and exit")

	receiverAddr := fs.String("receiver.addr", "", "Receiver listen address")
	uploaderEndpoint := fs.String("uploader.endpoint", "", "Upload endpoint (host:port for grpc, URL for http)")
	uploaderProtocol := fs.String("uploader.protocol", "", "Upload protocol: grpc or http")
	statsAddr := fs.String("stats.addr", "", "Prometheus metrics listen address")
	logLevel := fs.String("log.level", "", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		fmt.Printf("logs-governor %s\n", version)
		return nil, ErrVersionRequested
	}

	var cfg *Config
	if *configPath != "" {
		y, err := LoadYAML(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = y.ToConfig()
	} else {
		cfg = Default()
	}

	if *receiverAddr != "" {
		cfg.ReceiverAddr = *receiverAddr
	}
	if *uploaderEndpoint != "" {
		cfg.UploaderEndpoint = *uploaderEndpoint
	}
	if *uploaderProtocol != "" {
		cfg.UploaderProtocol = *uploaderProtocol
	}
	if *statsAddr != "" {
		cfg.StatsAddr = *statsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	switch c.UploaderProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("invalid uploader protocol %q (use grpc or http)", c.UploaderProtocol)
	}
	if c.UploaderEndpoint == "" {
		return fmt.Errorf("uploader endpoint must not be empty")
	}
	if c.RetryMultiplier < 1.0 {
		return fmt.Errorf("retry multiplier must be >= 1.0, got %g", c.RetryMultiplier)
	}
	if c.RetryMaxInterval > 0 && c.RetryInitialInterval > c.RetryMaxInterval {
		return fmt.Errorf("retry initial interval %s exceeds max interval %s",
			c.RetryInitialInterval, c.RetryMaxInterval)
	}
	if c.MaxBatchRecords < 0 {
		return fmt.Errorf("max batch records must not be negative")
	}
	if c.MemoryLimitRatio <= 0 || c.MemoryLimitRatio > 1.0 {
		return fmt.Errorf("memory limit ratio must be in (0, 1], got %g", c.MemoryLimitRatio)
	}
	if _, err := compression.ParseType(c.UploaderCompression); err != nil {
		return fmt.Errorf("invalid compression type %q", c.UploaderCompression)
	}
	return nil
}

// UploaderConfig builds the upload client configuration. The compression
// type is already checked by Validate.
func (c *Config) UploaderConfig() uploader.Config {
	compressionType, _ := compression.ParseType(c.UploaderCompression)
	return uploader.Config{
		Endpoint:    c.UploaderEndpoint,
		Protocol:    uploader.Protocol(c.UploaderProtocol),
		Insecure:    c.UploaderInsecure,
		Timeout:     c.UploaderTimeout,
		DefaultPath: c.UploaderDefaultPath,
		TLS: tlspkg.ClientConfig{
			Enabled:            c.UploaderTLSEnabled,
			CertFile:           c.UploaderTLSCertFile,
			KeyFile:            c.UploaderTLSKeyFile,
			CAFile:             c.UploaderTLSCAFile,
			InsecureSkipVerify: c.UploaderTLSInsecureSkipVerify,
			ServerName:         c.UploaderTLSServerName,
		},
		Auth: auth.ClientConfig{
			BearerToken:       c.UploaderAuthBearerToken,
			BasicAuthUsername: c.UploaderAuthBasicUsername,
			BasicAuthPassword: c.UploaderAuthBasicPassword,
			Headers:           c.UploaderAuthHeaders,
		},
		Compression: compression.Config{
			Type:  compressionType,
			Level: compression.Level(c.UploaderCompressionLevel),
		},
		HTTPClient: uploader.HTTPClientConfig{
			MaxIdleConns:         c.UploaderMaxIdleConns,
			MaxIdleConnsPerHost:  c.UploaderMaxIdleConnsPerHost,
			MaxConnsPerHost:      c.UploaderMaxConnsPerHost,
			IdleConnTimeout:      c.UploaderIdleConnTimeout,
			DisableKeepAlives:    c.UploaderDisableKeepAlives,
			ForceAttemptHTTP2:    c.UploaderForceHTTP2,
			HTTP2ReadIdleTimeout: c.UploaderHTTP2ReadIdleTimeout,
			HTTP2PingTimeout:     c.UploaderHTTP2PingTimeout,
		},
	}
}

// RetryPolicy builds the per-batch upload retry policy.
func (c *Config) RetryPolicy() uploader.Policy {
	return uploader.Policy{
		MaxRetries:      c.RetryMaxRetries,
		InitialInterval: c.RetryInitialInterval,
		MaxInterval:     c.RetryMaxInterval,
		Multiplier:      c.RetryMultiplier,
		Enabled:         c.RetryEnabled,
	}
}

// EncoderConfig builds the payload encoder configuration.
func (c *Config) EncoderConfig() encoding.Config {
	return encoding.Config{
		MaxBatchRecords:  c.MaxBatchRecords,
		DefaultEventName: c.DefaultEventName,
	}
}
