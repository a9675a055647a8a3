package exporter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/telemetrygov/logs-governor/internal/decode"
	"github.com/telemetrygov/logs-governor/internal/encoding"
	"github.com/telemetrygov/logs-governor/internal/logrecord"
	"github.com/telemetrygov/logs-governor/internal/uploader"
)

// fakeClient records uploads and fails batches whose event name matches
// failEvent.
type fakeClient struct {
	mu        sync.Mutex
	uploads   []uploader.EncodedBatch
	failEvent string
}

func (c *fakeClient) Upload(_ context.Context, batch uploader.EncodedBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failEvent != "" && batch.EventName == c.failEvent {
		return errors.New("simulated upload failure")
	}
	c.uploads = append(c.uploads, batch)
	return nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) uploaded() []uploader.EncodedBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uploader.EncodedBatch(nil), c.uploads...)
}

// buildSignal builds a logs-only batch with one row per event name.
func buildSignal(t *testing.T, eventNames ...string) decode.Batch {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "event_name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()
	sb := rb.Field(0).(*array.StringBuilder)
	for _, name := range eventNames {
		sb.Append(name)
	}
	return decode.Batch{Logs: rb.NewRecord()}
}

func newTestNode(client uploader.Client) *Node {
	// Retry disabled keeps failure tests to a single upload attempt.
	return New(Config{QueueSize: 8, Retry: uploader.Policy{Enabled: false}},
		encoding.New(encoding.Config{}), client, nil)
}

func TestNodeAcksSuccessfulSignal(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(client)
	node.Start()
	defer node.Shutdown(context.Background(), time.Now().Add(time.Second))

	batch := buildSignal(t, "alpha", "beta", "alpha")
	defer batch.Logs.Release()

	if err := node.Export(context.Background(), SignalLogs, batch); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	uploads := client.uploaded()
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploaded batches, got %d", len(uploads))
	}
	if uploads[0].EventName != "alpha" || uploads[0].Records != 2 {
		t.Errorf("unexpected first batch: %+v", uploads[0])
	}
	if uploads[1].EventName != "beta" || uploads[1].Records != 1 {
		t.Errorf("unexpected second batch: %+v", uploads[1])
	}

	snap, err := node.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if snap.Consumed != 3 || snap.Exported != 3 || snap.Failed != 0 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.State != StateRunning {
		t.Errorf("expected running state, got %s", snap.State)
	}
}

func TestNodeAcksEmptySignalWithoutUpload(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(client)
	node.Start()
	defer node.Shutdown(context.Background(), time.Now().Add(time.Second))

	batch := buildSignal(t)
	defer batch.Logs.Release()

	if err := node.Export(context.Background(), SignalLogs, batch); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(client.uploaded()) != 0 {
		t.Error("expected no uploads for an empty signal")
	}
}

func TestNodeNacksMissingLogsPayload(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(client)
	node.Start()
	defer node.Shutdown(context.Background(), time.Now().Add(time.Second))

	err := node.Export(context.Background(), SignalLogs, decode.Batch{})
	var nack *NackError
	if !errors.As(err, &nack) {
		t.Fatalf("expected NackError, got %v", err)
	}
	if nack.Stage != StageMaterialize || nack.BatchIndex != -1 {
		t.Errorf("unexpected nack: %+v", nack)
	}
	if !errors.Is(err, decode.ErrNoLogsPayload) {
		t.Error("expected nack to wrap the decode error")
	}
}

func TestNodeNacksOnUploadFailure(t *testing.T) {
	client := &fakeClient{failEvent: "beta"}
	node := newTestNode(client)
	node.Start()
	defer node.Shutdown(context.Background(), time.Now().Add(time.Second))

	// Batches upload in event-name order: alpha (index 0), beta (index 1).
	batch := buildSignal(t, "alpha", "beta")
	defer batch.Logs.Release()

	err := node.Export(context.Background(), SignalLogs, batch)
	var nack *NackError
	if !errors.As(err, &nack) {
		t.Fatalf("expected NackError, got %v", err)
	}
	if nack.Stage != StageUpload || nack.BatchIndex != 1 {
		t.Errorf("unexpected nack: %+v", nack)
	}

	snap, err := node.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if snap.Consumed != 2 || snap.Exported != 1 || snap.Failed != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
}

func TestNodePartialBatchFailureAttemptsRemainingBatches(t *testing.T) {
	client := &fakeClient{failEvent: "bravo"}
	node := newTestNode(client)
	node.Start()
	defer node.Shutdown(context.Background(), time.Now().Add(time.Second))

	// Three batches in event-name order: alpha (0), bravo (1), charlie (2).
	// bravo fails; alpha and charlie must still be attempted.
	batch := buildSignal(t, "alpha", "bravo", "charlie")
	defer batch.Logs.Release()

	err := node.Export(context.Background(), SignalLogs, batch)
	var nack *NackError
	if !errors.As(err, &nack) {
		t.Fatalf("expected NackError, got %v", err)
	}
	if nack.Stage != StageUpload || nack.BatchIndex != 1 {
		t.Errorf("unexpected nack: %+v", nack)
	}

	uploads := client.uploaded()
	if len(uploads) != 2 {
		t.Fatalf("expected 2 successful uploads, got %d", len(uploads))
	}
	if uploads[0].EventName != "alpha" || uploads[1].EventName != "charlie" {
		t.Errorf("unexpected uploads: %+v", uploads)
	}

	snap, err := node.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if snap.Consumed != 3 || snap.Exported != 2 || snap.Failed != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
}

func TestNodeNacksUnsupportedSignalKind(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(client)
	node.Start()
	defer node.Shutdown(context.Background(), time.Now().Add(time.Second))

	batch := buildSignal(t, "ignored")
	defer batch.Logs.Release()

	err := node.Export(context.Background(), SignalMetrics, batch)
	var nack *NackError
	if !errors.As(err, &nack) {
		t.Fatalf("expected NackError, got %v", err)
	}
	if nack.Stage != StageUnsupported || nack.BatchIndex != -1 {
		t.Errorf("unexpected nack: %+v", nack)
	}
	if len(client.uploaded()) != 0 {
		t.Error("unsupported signals must not reach the uploader")
	}
	if node.State() != StateRunning {
		t.Errorf("node must stay running, got %s", node.State())
	}
}

// blockingClient parks every upload until release is closed, then fails it.
type blockingClient struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (c *blockingClient) Upload(context.Context, uploader.EncodedBatch) error {
	c.startOnce.Do(func() { close(c.started) })
	<-c.release
	return errors.New("backend unavailable")
}

func (c *blockingClient) Close() error { return nil }

func TestNodeShutdownWaitsForInFlightSignal(t *testing.T) {
	client := &blockingClient{started: make(chan struct{}), release: make(chan struct{})}
	node := New(Config{
		QueueSize: 8,
		Retry:     uploader.Policy{Enabled: true, MaxRetries: 1, InitialInterval: time.Millisecond},
	}, encoding.New(encoding.Config{}), client, nil)
	node.Start()

	batch := buildSignal(t, "inflight")
	defer batch.Logs.Release()

	// Submit the data message directly so the outcome channel can be
	// inspected after shutdown completes.
	data := DataMsg{Kind: SignalLogs, Batch: batch, Done: make(chan error, 1)}
	node.msgs <- data
	<-client.started

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- node.Shutdown(context.Background(), time.Now().Add(time.Second))
	}()

	// The signal's upload retries are still in progress, so shutdown must
	// not complete and the node must not stop.
	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned while a signal was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if node.State() == StateStopped {
		t.Fatal("node stopped while a signal was in flight")
	}

	close(client.release)

	if err := <-shutdownDone; err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if node.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", node.State())
	}

	// The signal's nack was emitted before shutdown completed.
	select {
	case err := <-data.Done:
		var nack *NackError
		if !errors.As(err, &nack) {
			t.Fatalf("expected NackError, got %v", err)
		}
		if nack.Stage != StageUpload {
			t.Errorf("unexpected nack: %+v", nack)
		}
	default:
		t.Fatal("signal outcome was not emitted before shutdown completed")
	}
}

// stubEncoder returns a fixed batch list regardless of input.
type stubEncoder struct {
	batches []uploader.EncodedBatch
}

func (e *stubEncoder) Encode([]logrecord.Record) ([]uploader.EncodedBatch, error) {
	return e.batches, nil
}

func TestNodeSkipsEmptyPayloadBatches(t *testing.T) {
	client := &fakeClient{}
	enc := &stubEncoder{batches: []uploader.EncodedBatch{
		{EventName: "empty", Data: nil, Records: 0},
		{EventName: "full", Data: []byte{0x0a}, Records: 1},
	}}
	node := New(Config{QueueSize: 8, Retry: uploader.Policy{Enabled: false}}, enc, client, nil)
	node.Start()
	defer node.Shutdown(context.Background(), time.Now().Add(time.Second))

	batch := buildSignal(t, "x")
	defer batch.Logs.Release()

	if err := node.Export(context.Background(), SignalLogs, batch); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	uploads := client.uploaded()
	if len(uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(uploads))
	}
	if uploads[0].EventName != "full" {
		t.Errorf("zero-length batch must never reach the uploader, got %+v", uploads)
	}
}

func TestDrainNacksQueuedSignalsPastDeadline(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(client)

	batch := buildSignal(t, "queued")
	defer batch.Logs.Release()

	// Queue the shutdown ahead of the data message before starting the run
	// loop, so the signal is only seen during the drain, past its deadline.
	shutdown := ShutdownMsg{Deadline: time.Now().Add(-time.Second), Done: make(chan error, 1)}
	data := DataMsg{Kind: SignalLogs, Batch: batch, Done: make(chan error, 1)}
	node.msgs <- shutdown
	node.msgs <- data
	node.Start()

	if err := <-shutdown.Done; err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	err := <-data.Done
	var nack *NackError
	if !errors.As(err, &nack) {
		t.Fatalf("expected NackError, got %v", err)
	}
	if nack.Stage != StageDrain || nack.BatchIndex != -1 {
		t.Errorf("unexpected nack: %+v", nack)
	}
	if len(client.uploaded()) != 0 {
		t.Error("deadline-expired signals must not be uploaded")
	}
}

func TestNodeShutdownStopsAcceptingData(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(client)
	node.Start()

	if err := node.Shutdown(context.Background(), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if node.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", node.State())
	}

	batch := buildSignal(t, "late")
	defer batch.Logs.Release()
	if err := node.Export(context.Background(), SignalLogs, batch); !errors.Is(err, ErrNodeStopped) {
		t.Errorf("expected ErrNodeStopped, got %v", err)
	}

	// A second shutdown is a no-op.
	if err := node.Shutdown(context.Background(), time.Now().Add(time.Second)); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
}

func TestNodeCollectAfterShutdown(t *testing.T) {
	client := &fakeClient{}
	node := newTestNode(client)
	node.Start()

	batch := buildSignal(t, "x")
	if err := node.Export(context.Background(), SignalLogs, batch); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	batch.Logs.Release()

	if err := node.Shutdown(context.Background(), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	snap, err := node.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if snap.Consumed != 1 || snap.Exported != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.State != StateStopped {
		t.Errorf("expected stopped state, got %s", snap.State)
	}
}

func TestNackErrorFormatting(t *testing.T) {
	withIndex := &NackError{Stage: StageUpload, BatchIndex: 2, Err: errors.New("boom")}
	if withIndex.Error() != "upload failed for batch 2: boom" {
		t.Errorf("unexpected message: %q", withIndex.Error())
	}
	withoutIndex := &NackError{Stage: StageMaterialize, BatchIndex: -1, Err: errors.New("boom")}
	if withoutIndex.Error() != "materialize failed: boom" {
		t.Errorf("unexpected message: %q", withoutIndex.Error())
	}
}
