package receiver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/telemetrygov/logs-governor/internal/compression"
	"github.com/telemetrygov/logs-governor/internal/encoding"
	"github.com/telemetrygov/logs-governor/internal/exporter"
	"github.com/telemetrygov/logs-governor/internal/uploader"
)

type fakeClient struct {
	mu      sync.Mutex
	uploads int
	err     error
}

func (c *fakeClient) Upload(context.Context, uploader.EncodedBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.uploads++
	return nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) uploaded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads
}

// logsStream builds one IPC stream holding a logs table with the given
// event names.
func logsStream(t *testing.T, payload string, eventNames ...string) []byte {
	t.Helper()
	md := arrow.NewMetadata([]string{PayloadKey}, []string{payload})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "event_name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, &md)

	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()
	sb := rb.Field(0).(*array.StringBuilder)
	for _, name := range eventNames {
		sb.Append(name)
	}
	rec := rb.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Write(rec); err != nil {
		t.Fatalf("write IPC record: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close IPC writer: %v", err)
	}
	return buf.Bytes()
}

func newTestReceiver(t *testing.T, client uploader.Client) (*Receiver, *exporter.Node) {
	t.Helper()
	node := exporter.New(exporter.Config{QueueSize: 8, Retry: uploader.Policy{Enabled: false}},
		encoding.New(encoding.Config{}), client, nil)
	node.Start()
	t.Cleanup(func() {
		_ = node.Shutdown(context.Background(), time.Now().Add(time.Second))
	})
	return New(Config{Addr: ":0"}, node), node
}

func postBody(t *testing.T, rcv *Receiver, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/arrow/logs", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	rcv.handleLogs(w, req)
	return w
}

func TestReceiverAcksValidSignal(t *testing.T) {
	client := &fakeClient{}
	rcv, _ := newTestReceiver(t, client)

	body := logsStream(t, PayloadLogs, "app.start", "app.stop")
	resp := postBody(t, rcv, body, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if client.uploaded() != 2 {
		t.Errorf("expected 2 uploaded batches, got %d", client.uploaded())
	}
}

func TestReceiverAcksEmptyStream(t *testing.T) {
	client := &fakeClient{}
	rcv, _ := newTestReceiver(t, client)

	body := logsStream(t, PayloadLogs)
	resp := postBody(t, rcv, body, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if client.uploaded() != 0 {
		t.Errorf("expected no uploads for an empty signal, got %d", client.uploaded())
	}
}

func TestReceiverNacksOnUploadFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("backend down")}
	rcv, _ := newTestReceiver(t, client)

	body := logsStream(t, PayloadLogs, "app.start")
	resp := postBody(t, rcv, body, nil)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestReceiverRejectsGarbage(t *testing.T) {
	client := &fakeClient{}
	rcv, _ := newTestReceiver(t, client)

	resp := postBody(t, rcv, []byte("not an arrow stream"), nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestReceiverRejectsUnknownPayload(t *testing.T) {
	client := &fakeClient{}
	rcv, _ := newTestReceiver(t, client)

	body := logsStream(t, "bogus_table", "x")
	resp := postBody(t, rcv, body, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestReceiverRejectsMissingLogsTable(t *testing.T) {
	client := &fakeClient{}
	rcv, _ := newTestReceiver(t, client)

	// An attribute table alone has no primary table to join against.
	body := logsStream(t, PayloadLogAttrs, "x")
	resp := postBody(t, rcv, body, nil)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestReceiverDecompressesBody(t *testing.T) {
	client := &fakeClient{}
	rcv, _ := newTestReceiver(t, client)

	raw := logsStream(t, PayloadLogs, "compressed.signal")
	compressed, err := compression.Compress(raw, compression.Config{Type: compression.TypeGzip})
	if err != nil {
		t.Fatalf("compress body: %v", err)
	}

	resp := postBody(t, rcv, compressed, map[string]string{"Content-Encoding": "gzip"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if client.uploaded() != 1 {
		t.Errorf("expected 1 uploaded batch, got %d", client.uploaded())
	}
}

func TestReceiverMethodNotAllowed(t *testing.T) {
	client := &fakeClient{}
	rcv, _ := newTestReceiver(t, client)

	req := httptest.NewRequest(http.MethodGet, "/v1/arrow/logs", nil)
	w := httptest.NewRecorder()
	rcv.handleLogs(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestReadBatchRoutesMultipleStreams(t *testing.T) {
	logs := logsStream(t, PayloadLogs, "a")
	attrs := logsStream(t, PayloadLogAttrs, "ignored")
	resAttrs := logsStream(t, PayloadResourceAttrs, "ignored")

	body := append(append(append([]byte{}, logs...), attrs...), resAttrs...)
	batch, err := readBatch(body)
	if err != nil {
		t.Fatalf("readBatch failed: %v", err)
	}
	defer releaseBatch(batch)

	if batch.Logs == nil || batch.LogAttrs == nil || batch.ResourceAttrs == nil {
		t.Errorf("expected all three tables to be populated: %+v", batch)
	}
}
