// Package decode translates a columnar log batch, plus its attribute side
// tables, into flat log records. The primary table is joined with the log
// attribute table by row index and with the resource attribute table through
// the resource surrogate id carried on each row.
package decode

import (
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/telemetrygov/logs-governor/internal/arrowcol"
	"github.com/telemetrygov/logs-governor/internal/logrecord"
)

// ErrNoLogsPayload is returned when the batch carries no primary logs table.
// Absent attribute tables are not an error.
var ErrNoLogsPayload = errors.New("no logs payload in batch")

// Batch groups the record batches of one incoming signal. Logs is the
// primary table; LogAttrs and ResourceAttrs are optional side tables.
type Batch struct {
	Logs          arrow.Record
	LogAttrs      arrow.Record
	ResourceAttrs arrow.Record
}

// eventNames reads the optional event_name column, which appears either
// dictionary-encoded or as a plain string column.
type eventNames struct {
	dict  arrowcol.StringDict
	plain *array.String
}

func eventNameCol(rec arrow.Record) eventNames {
	a, ok := arrowcol.Column(rec, "event_name")
	if !ok {
		return eventNames{}
	}
	if plain, ok := a.(*array.String); ok {
		return eventNames{plain: plain}
	}
	return eventNames{dict: arrowcol.AsStringDict(a)}
}

func (e eventNames) value(row int) string {
	if e.plain != nil {
		if row < 0 || row >= e.plain.Len() || e.plain.IsNull(row) {
			return ""
		}
		return e.plain.Value(row)
	}
	v, _ := e.dict.Value(row)
	return v
}

// Materialize decodes the batch into one record per primary-table row, in
// row order. Missing or malformed scalar columns leave the corresponding
// fields unset; only a missing primary table fails the batch. Within a
// record, log attributes always precede resource attributes and duplicate
// keys are kept.
func Materialize(b Batch) ([]logrecord.Record, error) {
	if b.Logs == nil {
		return nil, ErrNoLogsPayload
	}

	rows := int(b.Logs.NumRows())

	times := arrowcol.TimestampCol(b.Logs, "time_unix_nano")
	observed := arrowcol.TimestampCol(b.Logs, "observed_time_unix_nano")
	severityNums := arrowcol.Int32DictCol(b.Logs, "severity_number")
	severityTexts := arrowcol.StringDictCol(b.Logs, "severity_text")
	traceIDs := arrowcol.BytesCol(b.Logs, "trace_id")
	spanIDs := arrowcol.BytesCol(b.Logs, "span_id")
	flags := arrowcol.Uint32Col(b.Logs, "flags")
	events := eventNameCol(b.Logs)

	// body is a struct column; only the str variant is decoded.
	body := arrowcol.StructCol(b.Logs, "body")
	var bodyStr arrowcol.StringDict
	if strArr, ok := body.Field("str"); ok {
		bodyStr = arrowcol.AsStringDict(strArr)
	}

	// resource.id supplies the surrogate key for the resource-attribute join.
	resource := arrowcol.StructCol(b.Logs, "resource")
	var resourceIDs arrowcol.Uint16s
	if idArr, ok := resource.Field("id"); ok {
		resourceIDs = arrowcol.AsUint16s(idArr)
	}

	records := make([]logrecord.Record, rows)
	for i := 0; i < rows; i++ {
		rec := &records[i]
		if v, ok := times.Value(i); ok {
			rec.TimeUnixNano = &v
		}
		if v, ok := observed.Value(i); ok {
			rec.ObservedTimeUnixNano = &v
		}
		if v, ok := severityNums.Value(i); ok {
			rec.SeverityNumber = &v
		}
		if v, ok := severityTexts.Value(i); ok {
			rec.SeverityText = &v
		}
		if !body.IsNull(i) {
			if v, ok := bodyStr.Value(i); ok {
				rec.Body = &v
			}
		}
		if v, ok := traceIDs.Value(i); ok {
			rec.TraceID = v
		}
		if v, ok := spanIDs.Value(i); ok {
			rec.SpanID = v
		}
		if v, ok := flags.Value(i); ok {
			rec.Flags = &v
		}
		rec.EventName = events.value(i)
	}

	// Log attributes: parent id is the 0-based row index. Parent ids beyond
	// the row count reference no record and are ignored.
	if logAttrs := buildParentIndex(b.LogAttrs, "log"); logAttrs != nil {
		for i := 0; i < rows; i++ {
			if attrs := logAttrs[uint16(i)]; len(attrs) > 0 {
				records[i].Attributes = append(records[i].Attributes, attrs...)
			}
		}
	}

	// Resource attributes: parent id is the resource surrogate id; every row
	// sharing that id receives the full list, appended after its own
	// attributes.
	if resAttrs := buildParentIndex(b.ResourceAttrs, "resource"); resAttrs != nil {
		for i := 0; i < rows; i++ {
			if resource.IsNull(i) {
				continue
			}
			id, ok := resourceIDs.Value(i)
			if !ok {
				continue
			}
			if attrs := resAttrs[id]; len(attrs) > 0 {
				records[i].Attributes = append(records[i].Attributes, attrs...)
			}
		}
	}

	decodeBatchesTotal.Inc()
	decodeRowsTotal.Add(float64(rows))
	return records, nil
}
