// Package arrowcol provides typed, null-aware accessors over the columns of
// an Arrow record batch. All narrowing lives here: a missing column, a column
// with an unexpected physical layout, a null cell, a null dictionary key or a
// dictionary index outside the value array all degrade to the "absent" return,
// never to a panic or an error. Lookups are pure reads.
package arrowcol

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Column returns the named column of rec, or false when absent. When the
// schema carries duplicate names the first occurrence wins.
func Column(rec arrow.Record, name string) (arrow.Array, bool) {
	if rec == nil {
		return nil, false
	}
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, false
	}
	return rec.Column(indices[0]), true
}

// dictIndex resolves the dictionary index for row, bounds-checking both the
// key array and the value array.
func dictIndex(d *array.Dictionary, row int) (int, bool) {
	if d == nil || row < 0 || row >= d.Len() || d.IsNull(row) {
		return 0, false
	}
	idx := d.GetValueIndex(row)
	if idx < 0 || idx >= d.Dictionary().Len() {
		return 0, false
	}
	return idx, true
}

// Timestamps reads a nanosecond timestamp column.
type Timestamps struct{ arr *array.Timestamp }

// TimestampCol narrows the named column of rec to a timestamp column.
func TimestampCol(rec arrow.Record, name string) Timestamps {
	a, _ := Column(rec, name)
	return AsTimestamps(a)
}

// AsTimestamps narrows an arbitrary array to a timestamp column.
func AsTimestamps(a arrow.Array) Timestamps {
	t, _ := a.(*array.Timestamp)
	return Timestamps{arr: t}
}

// Value returns the cell at row in nanoseconds since epoch.
func (t Timestamps) Value(row int) (uint64, bool) {
	if t.arr == nil || row < 0 || row >= t.arr.Len() || t.arr.IsNull(row) {
		return 0, false
	}
	return uint64(t.arr.Value(row)), true
}

// StringDict reads a dictionary-encoded string column.
type StringDict struct {
	dict   *array.Dictionary
	values *array.String
}

// StringDictCol narrows the named column of rec to a string dictionary.
func StringDictCol(rec arrow.Record, name string) StringDict {
	a, _ := Column(rec, name)
	return AsStringDict(a)
}

// AsStringDict narrows an arbitrary array to a string dictionary.
func AsStringDict(a arrow.Array) StringDict {
	d, ok := a.(*array.Dictionary)
	if !ok {
		return StringDict{}
	}
	values, ok := d.Dictionary().(*array.String)
	if !ok {
		return StringDict{}
	}
	return StringDict{dict: d, values: values}
}

// Value resolves key index then dictionary value, both bounds-checked.
func (s StringDict) Value(row int) (string, bool) {
	idx, ok := dictIndex(s.dict, row)
	if !ok {
		return "", false
	}
	return s.values.Value(idx), true
}

// Int32Dict reads a dictionary-encoded signed 32-bit column.
type Int32Dict struct {
	dict   *array.Dictionary
	values *array.Int32
}

// Int32DictCol narrows the named column of rec to an int32 dictionary.
func Int32DictCol(rec arrow.Record, name string) Int32Dict {
	a, _ := Column(rec, name)
	d, ok := a.(*array.Dictionary)
	if !ok {
		return Int32Dict{}
	}
	values, ok := d.Dictionary().(*array.Int32)
	if !ok {
		return Int32Dict{}
	}
	return Int32Dict{dict: d, values: values}
}

// Value resolves the cell at row.
func (s Int32Dict) Value(row int) (int32, bool) {
	idx, ok := dictIndex(s.dict, row)
	if !ok {
		return 0, false
	}
	return s.values.Value(idx), true
}

// Int64Dict reads a dictionary-encoded signed 64-bit column.
type Int64Dict struct {
	dict   *array.Dictionary
	values *array.Int64
}

// AsInt64Dict narrows an arbitrary array to an int64 dictionary.
func AsInt64Dict(a arrow.Array) Int64Dict {
	d, ok := a.(*array.Dictionary)
	if !ok {
		return Int64Dict{}
	}
	values, ok := d.Dictionary().(*array.Int64)
	if !ok {
		return Int64Dict{}
	}
	return Int64Dict{dict: d, values: values}
}

// Value resolves the cell at row.
func (s Int64Dict) Value(row int) (int64, bool) {
	idx, ok := dictIndex(s.dict, row)
	if !ok {
		return 0, false
	}
	return s.values.Value(idx), true
}

// Uint8s reads a plain unsigned 8-bit column.
type Uint8s struct{ arr *array.Uint8 }

// Uint8Col narrows the named column of rec to a uint8 column.
func Uint8Col(rec arrow.Record, name string) Uint8s {
	a, _ := Column(rec, name)
	u, _ := a.(*array.Uint8)
	return Uint8s{arr: u}
}

// Value returns the cell at row.
func (u Uint8s) Value(row int) (uint8, bool) {
	if u.arr == nil || row < 0 || row >= u.arr.Len() || u.arr.IsNull(row) {
		return 0, false
	}
	return u.arr.Value(row), true
}

// Uint16s reads a plain unsigned 16-bit column.
type Uint16s struct{ arr *array.Uint16 }

// Uint16Col narrows the named column of rec to a uint16 column.
func Uint16Col(rec arrow.Record, name string) Uint16s {
	a, _ := Column(rec, name)
	return AsUint16s(a)
}

// AsUint16s narrows an arbitrary array to a uint16 column.
func AsUint16s(a arrow.Array) Uint16s {
	u, _ := a.(*array.Uint16)
	return Uint16s{arr: u}
}

// Value returns the cell at row.
func (u Uint16s) Value(row int) (uint16, bool) {
	if u.arr == nil || row < 0 || row >= u.arr.Len() || u.arr.IsNull(row) {
		return 0, false
	}
	return u.arr.Value(row), true
}

// Uint32s reads a plain unsigned 32-bit column.
type Uint32s struct{ arr *array.Uint32 }

// Uint32Col narrows the named column of rec to a uint32 column.
func Uint32Col(rec arrow.Record, name string) Uint32s {
	a, _ := Column(rec, name)
	u, _ := a.(*array.Uint32)
	return Uint32s{arr: u}
}

// Value returns the cell at row.
func (u Uint32s) Value(row int) (uint32, bool) {
	if u.arr == nil || row < 0 || row >= u.arr.Len() || u.arr.IsNull(row) {
		return 0, false
	}
	return u.arr.Value(row), true
}

// Bytes reads a raw byte column, accepting either variable-length Binary or
// FixedSizeBinary layout (trace and span identifiers appear as both in
// practice).
type Bytes struct {
	bin   *array.Binary
	fixed *array.FixedSizeBinary
}

// BytesCol narrows the named column of rec to a byte column.
func BytesCol(rec arrow.Record, name string) Bytes {
	a, _ := Column(rec, name)
	switch arr := a.(type) {
	case *array.Binary:
		return Bytes{bin: arr}
	case *array.FixedSizeBinary:
		return Bytes{fixed: arr}
	default:
		return Bytes{}
	}
}

// Value returns a copy of the cell at row.
func (b Bytes) Value(row int) ([]byte, bool) {
	switch {
	case b.bin != nil:
		if row < 0 || row >= b.bin.Len() || b.bin.IsNull(row) {
			return nil, false
		}
		v := b.bin.Value(row)
		out := make([]byte, len(v))
		copy(out, v)
		return out, true
	case b.fixed != nil:
		if row < 0 || row >= b.fixed.Len() || b.fixed.IsNull(row) {
			return nil, false
		}
		v := b.fixed.Value(row)
		out := make([]byte, len(v))
		copy(out, v)
		return out, true
	default:
		return nil, false
	}
}

// Structs reads a nested struct column. Sub-columns are narrowed with the
// As* helpers above.
type Structs struct {
	arr *array.Struct
	typ *arrow.StructType
}

// StructCol narrows the named column of rec to a struct column.
func StructCol(rec arrow.Record, name string) Structs {
	a, _ := Column(rec, name)
	s, ok := a.(*array.Struct)
	if !ok {
		return Structs{}
	}
	typ, ok := s.DataType().(*arrow.StructType)
	if !ok {
		return Structs{}
	}
	return Structs{arr: s, typ: typ}
}

// Valid reports whether the column was present with a struct layout.
func (s Structs) Valid() bool { return s.arr != nil }

// IsNull reports whether the struct entry at row is null or out of range.
func (s Structs) IsNull(row int) bool {
	return s.arr == nil || row < 0 || row >= s.arr.Len() || s.arr.IsNull(row)
}

// Field returns the named sub-column, or false when the struct column or the
// field is absent.
func (s Structs) Field(name string) (arrow.Array, bool) {
	if s.arr == nil {
		return nil, false
	}
	idx, ok := s.typ.FieldIdx(name)
	if !ok {
		return nil, false
	}
	return s.arr.Field(idx), true
}
