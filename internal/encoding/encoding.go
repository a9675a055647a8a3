// Package encoding turns materialized log records into transmission-ready
// OTLP payloads, grouped by event name.
package encoding

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/proto"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/telemetrygov/logs-governor/internal/logrecord"
	"github.com/telemetrygov/logs-governor/internal/uploader"
)

// DefaultEventName is used for records that carry no event name of their own.
const DefaultEventName = "Log"

// Config holds encoder settings.
type Config struct {
	// MaxBatchRecords splits a single event-name group into multiple
	// batches of at most this many records. Zero means no splitting.
	MaxBatchRecords int
	// DefaultEventName overrides the group assigned to records without an
	// event name.
	DefaultEventName string
}

// Encoder groups log records by event name and marshals each group into an
// OTLP logs export request.
type Encoder struct {
	maxBatchRecords  int
	defaultEventName string
}

// New creates an Encoder.
func New(cfg Config) *Encoder {
	name := cfg.DefaultEventName
	if name == "" {
		name = DefaultEventName
	}
	return &Encoder{
		maxBatchRecords:  cfg.MaxBatchRecords,
		defaultEventName: name,
	}
}

// Encode partitions records by event name and marshals each partition. An
// empty input yields zero batches. Batch order is deterministic: groups are
// sorted by event name, records keep their input order within a group.
func (e *Encoder) Encode(records []logrecord.Record) ([]uploader.EncodedBatch, error) {
	if len(records) == 0 {
		return nil, nil
	}

	groups := make(map[string][]*logrecord.Record)
	names := make([]string, 0, 4)
	for i := range records {
		name := records[i].EventName
		if name == "" {
			name = e.defaultEventName
		}
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		groups[name] = append(groups[name], &records[i])
	}
	sort.Strings(names)

	var batches []uploader.EncodedBatch
	for _, name := range names {
		group := groups[name]
		for len(group) > 0 {
			chunk := group
			if e.maxBatchRecords > 0 && len(chunk) > e.maxBatchRecords {
				chunk = chunk[:e.maxBatchRecords]
			}
			group = group[len(chunk):]

			batch, err := e.encodeGroup(name, chunk)
			if err != nil {
				return nil, fmt.Errorf("failed to encode batch for event %q: %w", name, err)
			}
			batches = append(batches, batch)
			encodedBatchesTotal.Inc()
			encodedRecordsTotal.Add(float64(len(chunk)))
		}
	}
	return batches, nil
}

func (e *Encoder) encodeGroup(eventName string, records []*logrecord.Record) (uploader.EncodedBatch, error) {
	logRecords := make([]*logspb.LogRecord, 0, len(records))
	for _, rec := range records {
		logRecords = append(logRecords, encodeRecord(rec))
	}

	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			ScopeLogs: []*logspb.ScopeLogs{{
				LogRecords: logRecords,
			}},
		}},
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return uploader.EncodedBatch{}, err
	}

	return uploader.EncodedBatch{
		EventName: eventName,
		Data:      data,
		Records:   len(records),
	}, nil
}

func encodeRecord(rec *logrecord.Record) *logspb.LogRecord {
	lr := &logspb.LogRecord{}

	if rec.TimeUnixNano != nil {
		lr.TimeUnixNano = *rec.TimeUnixNano
	}
	if rec.ObservedTimeUnixNano != nil {
		lr.ObservedTimeUnixNano = *rec.ObservedTimeUnixNano
	}
	if rec.SeverityNumber != nil {
		lr.SeverityNumber = logspb.SeverityNumber(*rec.SeverityNumber)
	}
	if rec.SeverityText != nil {
		lr.SeverityText = *rec.SeverityText
	}
	if rec.Body != nil {
		lr.Body = &commonpb.AnyValue{
			Value: &commonpb.AnyValue_StringValue{StringValue: *rec.Body},
		}
	}
	if rec.Flags != nil {
		lr.Flags = *rec.Flags
	}
	if len(rec.TraceID) > 0 {
		lr.TraceId = rec.TraceID
	}
	if len(rec.SpanID) > 0 {
		lr.SpanId = rec.SpanID
	}
	lr.EventName = rec.EventName

	if len(rec.Attributes) > 0 {
		lr.Attributes = make([]*commonpb.KeyValue, 0, len(rec.Attributes))
		for _, attr := range rec.Attributes {
			lr.Attributes = append(lr.Attributes, encodeAttribute(attr))
		}
	}
	return lr
}

func encodeAttribute(attr logrecord.Attribute) *commonpb.KeyValue {
	kv := &commonpb.KeyValue{Key: attr.Key}
	switch attr.Value.Kind() {
	case logrecord.KindString:
		kv.Value = &commonpb.AnyValue{
			Value: &commonpb.AnyValue_StringValue{StringValue: attr.Value.Str()},
		}
	case logrecord.KindInt:
		kv.Value = &commonpb.AnyValue{
			Value: &commonpb.AnyValue_IntValue{IntValue: attr.Value.Int()},
		}
	default:
		kv.Value = &commonpb.AnyValue{}
	}
	return kv
}
