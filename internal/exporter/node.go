// Package exporter runs the export node: a single-goroutine actor that
// decodes incoming columnar log signals, encodes them into upload batches
// and delivers them, acknowledging each signal exactly once.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/telemetrygov/logs-governor/internal/decode"
	"github.com/telemetrygov/logs-governor/internal/logging"
	"github.com/telemetrygov/logs-governor/internal/logrecord"
	"github.com/telemetrygov/logs-governor/internal/stats"
	"github.com/telemetrygov/logs-governor/internal/uploader"
)

// Encoder turns materialized records into named upload batches.
type Encoder interface {
	Encode(records []logrecord.Record) ([]uploader.EncodedBatch, error)
}

// State is the lifecycle phase of the node.
type State int32

const (
	// StateRunning accepts and processes signals.
	StateRunning State = iota
	// StateDraining processes queued signals but rejects new ones.
	StateDraining
	// StateStopped accepts nothing.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNodeStopped is returned when a signal is sent to a node that is no
// longer accepting data.
var ErrNodeStopped = errors.New("export node is not accepting data")

// SignalKind identifies the telemetry kind a signal carries.
type SignalKind string

const (
	SignalLogs    SignalKind = "logs"
	SignalTraces  SignalKind = "traces"
	SignalMetrics SignalKind = "metrics"
)

// Stage names the pipeline phase a nack originated from.
type Stage string

const (
	// StageUnsupported covers signals of a kind the node cannot process.
	StageUnsupported Stage = "unsupported"
	// StageDrain covers signals rejected unprocessed at the shutdown deadline.
	StageDrain Stage = "drain"
	// StageMaterialize covers columnar decode and row materialization.
	StageMaterialize Stage = "materialize"
	// StageEncode covers payload encoding.
	StageEncode Stage = "encode"
	// StageUpload covers batch delivery.
	StageUpload Stage = "upload"
)

// NackError reports why a signal was rejected. BatchIndex identifies the
// failing upload batch within the signal and is -1 for pre-upload failures.
type NackError struct {
	Stage      Stage
	BatchIndex int
	Err        error
}

// Error implements the error interface.
func (e *NackError) Error() string {
	if e.BatchIndex >= 0 {
		return fmt.Sprintf("%s failed for batch %d: %v", e.Stage, e.BatchIndex, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *NackError) Unwrap() error {
	return e.Err
}

// DataMsg carries one columnar signal. Done receives the ack (nil) or
// nack (non-nil) exactly once.
type DataMsg struct {
	Kind  SignalKind
	Batch decode.Batch
	Done  chan error
}

// ShutdownMsg asks the node to drain and stop. Queued signals are processed
// until Deadline; anything still pending after that is nacked.
type ShutdownMsg struct {
	Deadline time.Time
	Done     chan error
}

// CollectMsg requests a telemetry snapshot.
type CollectMsg struct {
	Reply chan Snapshot
}

// Snapshot is a point-in-time view of the node's counters and state.
type Snapshot struct {
	Consumed uint64
	Exported uint64
	Failed   uint64
	State    State
}

// Config holds node settings.
type Config struct {
	// QueueSize bounds the number of pending signals.
	QueueSize int
	// Retry is the per-batch upload retry policy.
	Retry uploader.Policy
}

// Node is the export actor. All signal processing happens on its run
// goroutine; Export, Shutdown and Collect communicate with it over the
// message channel.
type Node struct {
	encoder Encoder
	client  uploader.Client
	policy  uploader.Policy
	stats   *stats.Collector

	msgs  chan any
	done  chan struct{}
	state atomic.Int32

	consumed atomic.Uint64
	exported atomic.Uint64
	failed   atomic.Uint64
}

// New creates an export node. stats may be nil.
func New(cfg Config, encoder Encoder, client uploader.Client, statsCollector *stats.Collector) *Node {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	n := &Node{
		encoder: encoder,
		client:  client,
		policy:  cfg.Retry,
		stats:   statsCollector,
		msgs:    make(chan any, queueSize),
		done:    make(chan struct{}),
	}
	n.state.Store(int32(StateRunning))
	return n
}

// Start launches the node's run loop.
func (n *Node) Start() {
	go n.run()
}

// State returns the node's current lifecycle phase.
func (n *Node) State() State {
	return State(n.state.Load())
}

// Export submits one signal and blocks until it is acked or nacked, or ctx
// is canceled. A canceled wait does not cancel the signal's processing.
func (n *Node) Export(ctx context.Context, kind SignalKind, batch decode.Batch) error {
	if n.State() != StateRunning {
		return ErrNodeStopped
	}
	msg := DataMsg{Kind: kind, Batch: batch, Done: make(chan error, 1)}
	select {
	case n.msgs <- msg:
	case <-n.done:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.Done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains queued signals until deadline and stops the node. It is
// safe to call once; later data submissions fail with ErrNodeStopped.
func (n *Node) Shutdown(ctx context.Context, deadline time.Time) error {
	msg := ShutdownMsg{Deadline: deadline, Done: make(chan error, 1)}
	select {
	case n.msgs <- msg:
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.Done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collect returns a telemetry snapshot. It answers from the counters
// directly when the run loop has already exited.
func (n *Node) Collect(ctx context.Context) (Snapshot, error) {
	msg := CollectMsg{Reply: make(chan Snapshot, 1)}
	select {
	case n.msgs <- msg:
	case <-n.done:
		return n.snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-msg.Reply:
		return snap, nil
	case <-n.done:
		return n.snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (n *Node) snapshot() Snapshot {
	return Snapshot{
		Consumed: n.consumed.Load(),
		Exported: n.exported.Load(),
		Failed:   n.failed.Load(),
		State:    n.State(),
	}
}

func (n *Node) run() {
	defer close(n.done)
	for raw := range n.msgs {
		switch msg := raw.(type) {
		case DataMsg:
			msg.Done <- n.handleData(msg.Kind, msg.Batch)
		case CollectMsg:
			msg.Reply <- n.snapshot()
		case ShutdownMsg:
			n.drain(msg.Deadline)
			n.state.Store(int32(StateStopped))
			nodeState.Set(float64(StateStopped))
			msg.Done <- nil
			return
		}
	}
}

// drain processes signals already queued at shutdown time. Shutdown is
// honored between signals only: an in-flight signal always completes, but
// once the deadline passes the rest of the queue is nacked.
func (n *Node) drain(deadline time.Time) {
	n.state.Store(int32(StateDraining))
	nodeState.Set(float64(StateDraining))
	for {
		select {
		case raw := <-n.msgs:
			switch msg := raw.(type) {
			case DataMsg:
				if !deadline.IsZero() && time.Now().After(deadline) {
					signalsNackedTotal.WithLabelValues(string(StageDrain)).Inc()
					msg.Done <- &NackError{
						Stage:      StageDrain,
						BatchIndex: -1,
						Err:        errors.New("shutdown deadline exceeded"),
					}
					continue
				}
				msg.Done <- n.handleData(msg.Kind, msg.Batch)
			case CollectMsg:
				msg.Reply <- n.snapshot()
			case ShutdownMsg:
				msg.Done <- nil
			}
		default:
			return
		}
	}
}

// handleData processes one signal end to end and returns its ack or nack.
func (n *Node) handleData(kind SignalKind, batch decode.Batch) error {
	ctx := context.Background()

	if kind != SignalLogs {
		signalsNackedTotal.WithLabelValues(string(StageUnsupported)).Inc()
		return &NackError{
			Stage:      StageUnsupported,
			BatchIndex: -1,
			Err:        fmt.Errorf("signal kind %q is not supported", kind),
		}
	}

	records, err := decode.Materialize(batch)
	if err != nil {
		signalsNackedTotal.WithLabelValues(string(StageMaterialize)).Inc()
		return &NackError{Stage: StageMaterialize, BatchIndex: -1, Err: err}
	}

	n.consumed.Add(uint64(len(records)))
	consumedTotal.Add(float64(len(records)))
	if n.stats != nil {
		n.stats.Observe(records)
	}

	// A signal with zero rows is acknowledged without touching the uploader.
	if len(records) == 0 {
		signalsAckedTotal.Inc()
		return nil
	}

	batches, err := n.encoder.Encode(records)
	if err != nil {
		n.failed.Add(uint64(len(records)))
		failedTotal.Add(float64(len(records)))
		signalsNackedTotal.WithLabelValues(string(StageEncode)).Inc()
		return &NackError{Stage: StageEncode, BatchIndex: -1, Err: err}
	}

	// A failing batch does not abort later batches in the same signal; the
	// nack carries the first encountered error and its batch index.
	var nack *NackError
	for i, encoded := range batches {
		if len(encoded.Data) == 0 {
			continue
		}
		if err := uploader.UploadWithRetry(ctx, encoded, n.policy, n.client.Upload); err != nil {
			n.failed.Add(uint64(encoded.Records))
			failedTotal.Add(float64(encoded.Records))
			logging.Error("batch export failed", logging.F(
				"event_name", encoded.EventName,
				"batch_index", i,
				"error", err.Error(),
			))
			if nack == nil {
				nack = &NackError{Stage: StageUpload, BatchIndex: i, Err: err}
			}
			continue
		}
		n.exported.Add(uint64(encoded.Records))
		exportedTotal.Add(float64(encoded.Records))
	}

	if nack != nil {
		signalsNackedTotal.WithLabelValues(string(StageUpload)).Inc()
		return nack
	}
	signalsAckedTotal.Inc()
	return nil
}
