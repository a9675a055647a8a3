// Package logrecord defines the flat log record model produced by decoding
// a columnar log batch. It is the unit handed to the encoder.
package logrecord

import "fmt"

// ValueKind identifies the variant stored in a Value.
type ValueKind uint8

const (
	// KindInvalid marks a Value that carries no data. Attribute rows with
	// unrecognized type tags never produce one; they are dropped upstream.
	KindInvalid ValueKind = iota
	// KindString is a UTF-8 string value.
	KindString
	// KindInt is a signed 64-bit integer value.
	KindInt
)

// Value is a closed tagged union of the attribute value types the decoder
// understands.
type Value struct {
	kind ValueKind
	str  string
	num  int64
}

// StringValue returns a Value holding a string.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// IntValue returns a Value holding a signed 64-bit integer.
func IntValue(v int64) Value {
	return Value{kind: KindInt, num: v}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string payload. Valid only when Kind() == KindString.
func (v Value) Str() string { return v.str }

// Int returns the integer payload. Valid only when Kind() == KindInt.
func (v Value) Int() int64 { return v.num }

// String implements fmt.Stringer for logging and nack reasons.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return fmt.Sprintf("%d", v.num)
	default:
		return "<invalid>"
	}
}

// Attribute is one (key, value) pair attached to a record. Order is
// significant: log attributes precede resource attributes and neither list
// is deduplicated.
type Attribute struct {
	Key   string
	Value Value
}

// Record is one decoded log entry. Optional scalar fields use pointers so
// that "column absent or cell null" is distinguishable from a zero value.
type Record struct {
	// TimeUnixNano is the event timestamp in nanoseconds since epoch.
	TimeUnixNano *uint64
	// ObservedTimeUnixNano is when the record was observed by the collector.
	ObservedTimeUnixNano *uint64
	SeverityNumber       *int32
	SeverityText         *string
	// Body is the string body variant. Other body types are not decoded.
	Body *string
	// TraceID and SpanID are empty when absent.
	TraceID []byte
	SpanID  []byte
	Flags   *uint32
	// Attributes holds log attributes first, then resource attributes,
	// each in attribute-table scan order.
	Attributes []Attribute
	// EventName groups records into encoded batches. Empty means the
	// encoder's default group.
	EventName string
}
