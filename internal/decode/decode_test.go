package decode

import (
	"bytes"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/telemetrygov/logs-governor/internal/logrecord"
)

var (
	strDictU8  = &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Uint8, ValueType: arrow.BinaryTypes.String}
	strDictU16 = &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Uint16, ValueType: arrow.BinaryTypes.String}
	i32DictU8  = &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Uint8, ValueType: arrow.PrimitiveTypes.Int32}
	i64DictU16 = &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Uint16, ValueType: arrow.PrimitiveTypes.Int64}
)

func logsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "time_unix_nano", Type: arrow.FixedWidthTypes.Timestamp_ns, Nullable: true},
		{Name: "observed_time_unix_nano", Type: arrow.FixedWidthTypes.Timestamp_ns, Nullable: true},
		{Name: "severity_number", Type: i32DictU8, Nullable: true},
		{Name: "severity_text", Type: strDictU8, Nullable: true},
		{Name: "body", Type: arrow.StructOf(arrow.Field{Name: "str", Type: strDictU16, Nullable: true}), Nullable: true},
		{Name: "trace_id", Type: arrow.BinaryTypes.Binary, Nullable: true},
		{Name: "span_id", Type: arrow.BinaryTypes.Binary, Nullable: true},
		{Name: "flags", Type: arrow.PrimitiveTypes.Uint32, Nullable: true},
		{Name: "resource", Type: arrow.StructOf(arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Uint16, Nullable: true}), Nullable: true},
		{Name: "event_name", Type: strDictU8, Nullable: true},
	}, nil)
}

// buildLogsRecord builds a two-row primary table. Row 0 is fully populated,
// row 1 has every nullable column null.
func buildLogsRecord(t *testing.T) arrow.Record {
	t.Helper()
	rb := array.NewRecordBuilder(memory.DefaultAllocator, logsSchema())
	defer rb.Release()

	times := rb.Field(0).(*array.TimestampBuilder)
	times.Append(arrow.Timestamp(100))
	times.AppendNull()

	observed := rb.Field(1).(*array.TimestampBuilder)
	observed.Append(arrow.Timestamp(101))
	observed.AppendNull()

	sevNums := rb.Field(2).(*array.Int32DictionaryBuilder)
	if err := sevNums.Append(9); err != nil {
		t.Fatalf("append severity_number: %v", err)
	}
	sevNums.AppendNull()

	sevTexts := rb.Field(3).(*array.BinaryDictionaryBuilder)
	if err := sevTexts.AppendString("INFO"); err != nil {
		t.Fatalf("append severity_text: %v", err)
	}
	sevTexts.AppendNull()

	body := rb.Field(4).(*array.StructBuilder)
	bodyStr := body.FieldBuilder(0).(*array.BinaryDictionaryBuilder)
	body.Append(true)
	if err := bodyStr.AppendString("hello world"); err != nil {
		t.Fatalf("append body: %v", err)
	}
	body.AppendNull()
	bodyStr.AppendNull()

	traceIDs := rb.Field(5).(*array.BinaryBuilder)
	traceIDs.Append([]byte{0x01, 0x02})
	traceIDs.AppendNull()

	spanIDs := rb.Field(6).(*array.BinaryBuilder)
	spanIDs.Append([]byte{0x03, 0x04})
	spanIDs.AppendNull()

	flags := rb.Field(7).(*array.Uint32Builder)
	flags.Append(1)
	flags.AppendNull()

	resource := rb.Field(8).(*array.StructBuilder)
	resourceID := resource.FieldBuilder(0).(*array.Uint16Builder)
	resource.Append(true)
	resourceID.Append(7)
	resource.AppendNull()
	resourceID.AppendNull()

	events := rb.Field(9).(*array.BinaryDictionaryBuilder)
	if err := events.AppendString("app.start"); err != nil {
		t.Fatalf("append event_name: %v", err)
	}
	events.AppendNull()

	return rb.NewRecord()
}

func attrsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "parent_id", Type: arrow.PrimitiveTypes.Uint16, Nullable: true},
		{Name: "key", Type: strDictU8, Nullable: true},
		{Name: "type", Type: arrow.PrimitiveTypes.Uint8, Nullable: true},
		{Name: "str", Type: strDictU16, Nullable: true},
		{Name: "int", Type: i64DictU16, Nullable: true},
	}, nil)
}

type attrRow struct {
	parent    uint16
	parentNil bool
	key       string
	typ       uint8
	str       string
	intVal    int64
}

func buildAttrsRecord(t *testing.T, rows []attrRow) arrow.Record {
	t.Helper()
	rb := array.NewRecordBuilder(memory.DefaultAllocator, attrsSchema())
	defer rb.Release()

	parents := rb.Field(0).(*array.Uint16Builder)
	keys := rb.Field(1).(*array.BinaryDictionaryBuilder)
	types := rb.Field(2).(*array.Uint8Builder)
	strs := rb.Field(3).(*array.BinaryDictionaryBuilder)
	ints := rb.Field(4).(*array.Int64DictionaryBuilder)

	for _, row := range rows {
		if row.parentNil {
			parents.AppendNull()
		} else {
			parents.Append(row.parent)
		}
		if err := keys.AppendString(row.key); err != nil {
			t.Fatalf("append key: %v", err)
		}
		types.Append(row.typ)
		switch row.typ {
		case attrTypeString:
			if err := strs.AppendString(row.str); err != nil {
				t.Fatalf("append str: %v", err)
			}
			ints.AppendNull()
		case attrTypeInt:
			strs.AppendNull()
			if err := ints.Append(row.intVal); err != nil {
				t.Fatalf("append int: %v", err)
			}
		default:
			strs.AppendNull()
			ints.AppendNull()
		}
	}
	return rb.NewRecord()
}

func TestMaterializeScalarColumns(t *testing.T) {
	logs := buildLogsRecord(t)
	defer logs.Release()

	records, err := Materialize(Batch{Logs: logs})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	rec := records[0]
	if rec.TimeUnixNano == nil || *rec.TimeUnixNano != 100 {
		t.Errorf("unexpected time_unix_nano: %v", rec.TimeUnixNano)
	}
	if rec.ObservedTimeUnixNano == nil || *rec.ObservedTimeUnixNano != 101 {
		t.Errorf("unexpected observed_time_unix_nano: %v", rec.ObservedTimeUnixNano)
	}
	if rec.SeverityNumber == nil || *rec.SeverityNumber != 9 {
		t.Errorf("unexpected severity_number: %v", rec.SeverityNumber)
	}
	if rec.SeverityText == nil || *rec.SeverityText != "INFO" {
		t.Errorf("unexpected severity_text: %v", rec.SeverityText)
	}
	if rec.Body == nil || *rec.Body != "hello world" {
		t.Errorf("unexpected body: %v", rec.Body)
	}
	if !bytes.Equal(rec.TraceID, []byte{0x01, 0x02}) {
		t.Errorf("unexpected trace_id: %v", rec.TraceID)
	}
	if !bytes.Equal(rec.SpanID, []byte{0x03, 0x04}) {
		t.Errorf("unexpected span_id: %v", rec.SpanID)
	}
	if rec.Flags == nil || *rec.Flags != 1 {
		t.Errorf("unexpected flags: %v", rec.Flags)
	}
	if rec.EventName != "app.start" {
		t.Errorf("unexpected event_name: %q", rec.EventName)
	}

	// Row 1 has every nullable column null; all fields stay unset.
	rec = records[1]
	if rec.TimeUnixNano != nil || rec.ObservedTimeUnixNano != nil ||
		rec.SeverityNumber != nil || rec.SeverityText != nil ||
		rec.Body != nil || rec.TraceID != nil || rec.SpanID != nil ||
		rec.Flags != nil || rec.EventName != "" {
		t.Errorf("expected empty record for null row, got %+v", rec)
	}
}

func TestMaterializeJoinsAttributeTables(t *testing.T) {
	logs := buildLogsRecord(t)
	defer logs.Release()

	logAttrs := buildAttrsRecord(t, []attrRow{
		{parent: 0, key: "env", typ: attrTypeString, str: "prod"},
		{parent: 0, key: "retries", typ: attrTypeInt, intVal: 5},
		{parent: 1, key: "env", typ: attrTypeString, str: "dev"},
	})
	defer logAttrs.Release()

	// Resource surrogate id 7 matches row 0; row 1 has a null resource.
	resAttrs := buildAttrsRecord(t, []attrRow{
		{parent: 7, key: "host", typ: attrTypeString, str: "web-1"},
	})
	defer resAttrs.Release()

	records, err := Materialize(Batch{Logs: logs, LogAttrs: logAttrs, ResourceAttrs: resAttrs})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	want0 := []logrecord.Attribute{
		{Key: "env", Value: logrecord.StringValue("prod")},
		{Key: "retries", Value: logrecord.IntValue(5)},
		{Key: "host", Value: logrecord.StringValue("web-1")},
	}
	assertAttributes(t, records[0].Attributes, want0)

	want1 := []logrecord.Attribute{
		{Key: "env", Value: logrecord.StringValue("dev")},
	}
	assertAttributes(t, records[1].Attributes, want1)
}

func TestMaterializeDropsMalformedAttributes(t *testing.T) {
	logs := buildLogsRecord(t)
	defer logs.Release()

	logAttrs := buildAttrsRecord(t, []attrRow{
		{parent: 0, key: "good", typ: attrTypeString, str: "yes"},
		{parent: 0, key: "unknown_tag", typ: 9},
		{parentNil: true, key: "orphan", typ: attrTypeString, str: "x"},
		// Parent beyond the row count references no record.
		{parent: 100, key: "dangling", typ: attrTypeString, str: "y"},
	})
	defer logAttrs.Release()

	records, err := Materialize(Batch{Logs: logs, LogAttrs: logAttrs})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	assertAttributes(t, records[0].Attributes, []logrecord.Attribute{
		{Key: "good", Value: logrecord.StringValue("yes")},
	})
	if len(records[1].Attributes) != 0 {
		t.Errorf("expected no attributes on row 1, got %v", records[1].Attributes)
	}
}

func TestMaterializeMissingLogsPayload(t *testing.T) {
	_, err := Materialize(Batch{})
	if !errors.Is(err, ErrNoLogsPayload) {
		t.Fatalf("expected ErrNoLogsPayload, got %v", err)
	}
}

func TestMaterializeZeroRows(t *testing.T) {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, logsSchema())
	logs := rb.NewRecord()
	rb.Release()
	defer logs.Release()

	records, err := Materialize(Batch{Logs: logs})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected 0 records, got %d", len(records))
	}
}

func TestBuildParentIndexPreservesScanOrder(t *testing.T) {
	attrs := buildAttrsRecord(t, []attrRow{
		{parent: 3, key: "b", typ: attrTypeString, str: "2"},
		{parent: 3, key: "a", typ: attrTypeString, str: "1"},
		{parent: 3, key: "b", typ: attrTypeString, str: "3"},
	})
	defer attrs.Release()

	index := buildParentIndex(attrs, "log")
	got := index[3]
	want := []logrecord.Attribute{
		{Key: "b", Value: logrecord.StringValue("2")},
		{Key: "a", Value: logrecord.StringValue("1")},
		{Key: "b", Value: logrecord.StringValue("3")},
	}
	assertAttributes(t, got, want)
}

func assertAttributes(t *testing.T, got, want []logrecord.Attribute) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("attribute count mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Key != want[i].Key || got[i].Value != want[i].Value {
			t.Errorf("attribute %d: got %v=%v, want %v=%v",
				i, got[i].Key, got[i].Value, want[i].Key, want[i].Value)
		}
	}
}
