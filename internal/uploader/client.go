// Package uploader delivers encoded log batches to the ingestion backend
// over OTLP, with bounded exponential-backoff retry per batch.
package uploader

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"

	"github.com/telemetrygov/logs-governor/internal/auth"
	"github.com/telemetrygov/logs-governor/internal/compression"
	tlspkg "github.com/telemetrygov/logs-governor/internal/tls"
)

// EncodedBatch is one transmission-ready unit produced by the encoder and
// consumed exactly once by the uploader. Data is the marshaled OTLP logs
// export request, uncompressed; the HTTP path compresses on the wire.
type EncodedBatch struct {
	// EventName is the batch's grouping key.
	EventName string
	// Data is the marshaled payload.
	Data []byte
	// Records is the number of log records in the batch.
	Records int
}

// Protocol represents the upload protocol.
type Protocol string

const (
	// ProtocolGRPC uses OTLP gRPC protocol.
	ProtocolGRPC Protocol = "grpc"
	// ProtocolHTTP uses OTLP HTTP protocol.
	ProtocolHTTP Protocol = "http"
)

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all hosts. Zero means no limit.
	MaxIdleConns int
	// MaxIdleConnsPerHost controls the maximum idle (keep-alive)
	// connections to keep per-host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int
	// IdleConnTimeout is the maximum amount of time an idle connection will
	// remain idle before closing itself. Zero means no limit.
	IdleConnTimeout time.Duration
	// DisableKeepAlives, if true, uses each connection for a single request.
	DisableKeepAlives bool
	// ForceAttemptHTTP2 controls whether HTTP/2 is attempted.
	ForceAttemptHTTP2 bool
	// HTTP2ReadIdleTimeout is the timeout after which a ping health check
	// is sent if no frame is received on an HTTP/2 connection.
	HTTP2ReadIdleTimeout time.Duration
	// HTTP2PingTimeout is the timeout after which the connection is closed
	// if a response to a ping is not received.
	HTTP2PingTimeout time.Duration
}

// Config holds the upload client configuration.
type Config struct {
	// Endpoint is the target endpoint (host:port for gRPC, URL for HTTP).
	Endpoint string
	// Protocol is the upload protocol (grpc or http).
	Protocol Protocol
	// Insecure uses insecure connection (no TLS).
	Insecure bool
	// Timeout is the per-attempt request timeout.
	Timeout time.Duration
	// DefaultPath is the path appended when the HTTP endpoint has no path
	// (default: /v1/logs).
	DefaultPath string
	// TLS configuration for secure connections.
	TLS tlspkg.ClientConfig
	// Auth configuration for authentication.
	Auth auth.ClientConfig
	// Compression configuration for the HTTP path.
	Compression compression.Config
	// HTTPClient configuration for HTTP connection pooling.
	HTTPClient HTTPClientConfig
}

// Client delivers a single encoded batch per call.
type Client interface {
	Upload(ctx context.Context, batch EncodedBatch) error
	Close() error
}

// OTLPClient uploads log batches via OTLP (gRPC or HTTP).
type OTLPClient struct {
	protocol    Protocol
	timeout     time.Duration
	compression compression.Config

	// gRPC client
	grpcConn   *grpc.ClientConn
	grpcClient collogspb.LogsServiceClient

	// HTTP client
	httpClient   *http.Client
	httpEndpoint string
}

// New creates a new OTLPClient based on the configuration.
func New(cfg Config) (*OTLPClient, error) {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolGRPC
	}

	switch cfg.Protocol {
	case ProtocolGRPC:
		return newGRPCClient(cfg)
	case ProtocolHTTP:
		return newHTTPClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
}

func newGRPCClient(cfg Config) (*OTLPClient, error) {
	var opts []grpc.DialOption

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else if cfg.TLS.Enabled {
		tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		// Default to system TLS when not insecure and no custom TLS config
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	if cfg.Auth.Configured() {
		opts = append(opts, grpc.WithUnaryInterceptor(auth.GRPCClientInterceptor(cfg.Auth)))
	}

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, err
	}

	return &OTLPClient{
		protocol:   ProtocolGRPC,
		timeout:    cfg.Timeout,
		grpcConn:   conn,
		grpcClient: collogspb.NewLogsServiceClient(conn),
	}, nil
}

func newHTTPClient(cfg Config) (*OTLPClient, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.HTTPClient.MaxConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 100
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 100
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	if !cfg.Insecure {
		if cfg.TLS.Enabled {
			tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
			if err != nil {
				return nil, fmt.Errorf("failed to create TLS config: %w", err)
			}
			transport.TLSClientConfig = tlsConfig
		} else {
			transport.TLSClientConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}
	}

	var roundTripper http.RoundTripper = transport

	if cfg.HTTPClient.ForceAttemptHTTP2 || (!cfg.Insecure && transport.TLSClientConfig != nil) {
		http2Transport, err := http2.ConfigureTransports(transport)
		if err == nil && http2Transport != nil {
			if cfg.HTTPClient.HTTP2ReadIdleTimeout > 0 {
				http2Transport.ReadIdleTimeout = cfg.HTTPClient.HTTP2ReadIdleTimeout
			}
			if cfg.HTTPClient.HTTP2PingTimeout > 0 {
				http2Transport.PingTimeout = cfg.HTTPClient.HTTP2PingTimeout
			}
		}
	}

	if cfg.Auth.Configured() {
		roundTripper = auth.HTTPTransport(cfg.Auth, roundTripper)
	}

	client := &http.Client{
		Transport: roundTripper,
		Timeout:   cfg.Timeout,
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	scheme := "http"
	if !cfg.Insecure {
		scheme = "https"
	}
	if !hasScheme(endpoint) {
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	if !hasPath(endpoint) {
		defaultPath := cfg.DefaultPath
		if defaultPath == "" {
			defaultPath = "/v1/logs"
		}
		endpoint = endpoint + defaultPath
	}

	return &OTLPClient{
		protocol:     ProtocolHTTP,
		timeout:      cfg.Timeout,
		compression:  cfg.Compression,
		httpClient:   client,
		httpEndpoint: endpoint,
	}, nil
}

// Upload sends one encoded batch to the configured endpoint.
func (c *OTLPClient) Upload(ctx context.Context, batch EncodedBatch) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	switch c.protocol {
	case ProtocolGRPC:
		return c.uploadGRPC(ctx, batch)
	case ProtocolHTTP:
		return c.uploadHTTP(ctx, batch)
	default:
		return fmt.Errorf("unsupported protocol: %s", c.protocol)
	}
}

func (c *OTLPClient) uploadGRPC(ctx context.Context, batch EncodedBatch) error {
	req := &collogspb.ExportLogsServiceRequest{}
	if err := proto.Unmarshal(batch.Data, req); err != nil {
		return &UploadError{
			Err:  fmt.Errorf("failed to unmarshal batch payload: %w", err),
			Type: ErrorTypeClientError,
		}
	}

	uploadRequestsTotal.Inc()

	_, err := c.grpcClient.Export(ctx, req)
	if err != nil {
		errType := classifyGRPCError(err)
		uploadErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &UploadError{Err: err, Type: errType}
	}

	// gRPC compression is handled at the transport level
	uploadBytesTotal.WithLabelValues("grpc").Add(float64(len(batch.Data)))
	return nil
}

func (c *OTLPClient) uploadHTTP(ctx context.Context, batch EncodedBatch) error {
	body := batch.Data
	compressionLabel := "none"

	if c.compression.Type != compression.TypeNone && c.compression.Type != "" {
		var err error
		body, err = compression.Compress(body, c.compression)
		if err != nil {
			return &UploadError{
				Err:  fmt.Errorf("failed to compress batch: %w", err),
				Type: ErrorTypeClientError,
			}
		}
		compressionLabel = string(c.compression.Type)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpEndpoint, bytes.NewReader(body))
	if err != nil {
		return &UploadError{
			Err:  fmt.Errorf("failed to create request: %w", err),
			Type: ErrorTypeClientError,
		}
	}

	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	if batch.EventName != "" {
		httpReq.Header.Set("X-Log-Event", batch.EventName)
	}
	if encoding := c.compression.Type.ContentEncoding(); encoding != "" && compressionLabel != "none" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}

	uploadRequestsTotal.Inc()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errType := classifyError(err)
		uploadErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &UploadError{
			Err:  fmt.Errorf("failed to send request: %w", err),
			Type: errType,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a bounded amount of detail for the nack reason
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_, _ = io.Copy(io.Discard, resp.Body)
		errType := classifyHTTPStatusCode(resp.StatusCode)
		uploadErrorsTotal.WithLabelValues(string(errType)).Inc()
		return &UploadError{
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
			Type:       errType,
			StatusCode: resp.StatusCode,
			Message:    string(detail),
		}
	}

	// Read and discard body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	uploadBytesTotal.WithLabelValues(compressionLabel).Add(float64(len(body)))
	return nil
}

// Close closes the client connection.
func (c *OTLPClient) Close() error {
	switch c.protocol {
	case ProtocolGRPC:
		if c.grpcConn != nil {
			return c.grpcConn.Close()
		}
	case ProtocolHTTP:
		if c.httpClient != nil {
			c.httpClient.CloseIdleConnections()
		}
	}
	return nil
}

// hasScheme checks if a URL has a scheme.
func hasScheme(url string) bool {
	return len(url) >= 7 && (url[:7] == "http://" || (len(url) >= 8 && url[:8] == "https://"))
}

// hasPath checks if a URL has a path component after the host.
func hasPath(url string) bool {
	start := 0
	if hasScheme(url) {
		if len(url) >= 8 && url[:8] == "https://" {
			start = 8
		} else {
			start = 7
		}
	}
	for i := start; i < len(url); i++ {
		if url[i] == '/' {
			return true
		}
	}
	return false
}
