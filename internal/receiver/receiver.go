// Package receiver accepts columnar log signals over HTTP. Each request
// body is an Arrow IPC stream whose tables are routed to the export node,
// and the HTTP status reflects the node's ack or nack.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/telemetrygov/logs-governor/internal/compression"
	"github.com/telemetrygov/logs-governor/internal/decode"
	"github.com/telemetrygov/logs-governor/internal/exporter"
	"github.com/telemetrygov/logs-governor/internal/logging"
)

// PayloadKey is the schema metadata key that names the table a record in
// the IPC stream belongs to.
const PayloadKey = "payload"

// Payload metadata values.
const (
	PayloadLogs          = "logs"
	PayloadLogAttrs      = "log_attrs"
	PayloadResourceAttrs = "resource_attrs"
)

// Config holds receiver settings.
type Config struct {
	// Addr is the listen address.
	Addr string
	// Path is the ingest endpoint path.
	Path string
	// MaxRequestBodySize bounds the accepted request body. Zero means no limit.
	MaxRequestBodySize int64
	// ReadTimeout, ReadHeaderTimeout, WriteTimeout and IdleTimeout are
	// passed through to the HTTP server.
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Receiver is the HTTP ingest server.
type Receiver struct {
	server *http.Server
	node   *exporter.Node
	cfg    Config
}

// New creates a Receiver that forwards decoded signals to node.
func New(cfg Config, node *exporter.Node) *Receiver {
	if cfg.Path == "" {
		cfg.Path = "/v1/arrow/logs"
	}
	r := &Receiver{node: node, cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, r.handleLogs)

	r.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return r
}

// handleLogs handles one columnar log signal per request.
func (r *Receiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := req.Body
	if r.cfg.MaxRequestBodySize > 0 {
		body = http.MaxBytesReader(w, body, r.cfg.MaxRequestBodySize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		requestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer req.Body.Close()

	if encoding := req.Header.Get("Content-Encoding"); encoding != "" {
		encodingType, err := compression.ParseType(encoding)
		if err != nil {
			requestsTotal.WithLabelValues("bad_request").Inc()
			http.Error(w, fmt.Sprintf("Unsupported content encoding: %s", encoding), http.StatusUnsupportedMediaType)
			return
		}
		decompressed, err := compression.Decompress(data, encodingType)
		if err != nil {
			requestsTotal.WithLabelValues("bad_request").Inc()
			http.Error(w, fmt.Sprintf("Failed to decompress body: %v", err), http.StatusBadRequest)
			return
		}
		data = decompressed
	}
	receivedBytesTotal.Add(float64(len(data)))

	batch, err := readBatch(data)
	if err != nil {
		requestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, fmt.Sprintf("Failed to decode IPC stream: %v", err), http.StatusBadRequest)
		return
	}
	defer releaseBatch(batch)

	if err := r.node.Export(req.Context(), exporter.SignalLogs, batch); err != nil {
		if errors.Is(err, exporter.ErrNodeStopped) {
			requestsTotal.WithLabelValues("unavailable").Inc()
			http.Error(w, "Node is shutting down", http.StatusServiceUnavailable)
			return
		}
		requestsTotal.WithLabelValues("nack").Inc()
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	requestsTotal.WithLabelValues("ack").Inc()
	w.WriteHeader(http.StatusOK)
}

// readBatch parses the signal's tables from the request body. The body is a
// sequence of Arrow IPC streams, one per table; each stream's schema carries
// a payload metadata key naming its table, defaulting to the logs table. The
// returned records are retained and must be released by the caller.
func readBatch(data []byte) (decode.Batch, error) {
	var batch decode.Batch
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		reader, err := ipc.NewReader(r)
		if err != nil {
			releaseBatch(batch)
			return decode.Batch{}, err
		}

		payload := PayloadLogs
		if v, ok := reader.Schema().Metadata().GetValue(PayloadKey); ok {
			payload = v
		}

		for reader.Next() {
			rec := reader.Record()
			switch payload {
			case PayloadLogs:
				replaceRecord(&batch.Logs, rec)
			case PayloadLogAttrs:
				replaceRecord(&batch.LogAttrs, rec)
			case PayloadResourceAttrs:
				replaceRecord(&batch.ResourceAttrs, rec)
			default:
				reader.Release()
				releaseBatch(batch)
				return decode.Batch{}, fmt.Errorf("unknown payload type %q", payload)
			}
		}
		err = reader.Err()
		reader.Release()
		if err != nil && !errors.Is(err, io.EOF) {
			releaseBatch(batch)
			return decode.Batch{}, err
		}
	}
	return batch, nil
}

func replaceRecord(slot *arrow.Record, rec arrow.Record) {
	if *slot != nil {
		(*slot).Release()
	}
	rec.Retain()
	*slot = rec
}

func releaseBatch(batch decode.Batch) {
	if batch.Logs != nil {
		batch.Logs.Release()
	}
	if batch.LogAttrs != nil {
		batch.LogAttrs.Release()
	}
	if batch.ResourceAttrs != nil {
		batch.ResourceAttrs.Release()
	}
}

// Start starts the HTTP server.
func (r *Receiver) Start() error {
	logging.Info("receiver listening", logging.F("addr", r.cfg.Addr, "path", r.cfg.Path))
	err := r.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server.
func (r *Receiver) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
