package decode

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/telemetrygov/logs-governor/internal/arrowcol"
	"github.com/telemetrygov/logs-governor/internal/logrecord"
)

// Attribute table type tags. Tags outside this set are dropped and counted;
// the wire schema defines more types but the uploader only carries these.
const (
	attrTypeString uint8 = 1
	attrTypeInt    uint8 = 2
)

// buildParentIndex scans an attribute table once and groups its rows by
// parent id, preserving scan order within each group. Rows with a null
// parent id, an unresolvable key, or an unresolvable value contribute
// nothing. The same pass serves both attribute tables; only the meaning of
// the parent id differs (log-record row index vs resource surrogate id).
func buildParentIndex(attrs arrow.Record, table string) map[uint16][]logrecord.Attribute {
	if attrs == nil {
		return nil
	}

	parents := arrowcol.Uint16Col(attrs, "parent_id")
	keys := arrowcol.StringDictCol(attrs, "key")
	types := arrowcol.Uint8Col(attrs, "type")
	strsArr, _ := arrowcol.Column(attrs, "str")
	strs := arrowcol.AsStringDict(strsArr)
	intsArr, _ := arrowcol.Column(attrs, "int")
	ints := arrowcol.AsInt64Dict(intsArr)

	index := make(map[uint16][]logrecord.Attribute)
	rows := int(attrs.NumRows())
	for row := 0; row < rows; row++ {
		parent, ok := parents.Value(row)
		if !ok {
			decodeDroppedAttrsTotal.WithLabelValues("null_parent").Inc()
			continue
		}
		key, ok := keys.Value(row)
		if !ok {
			decodeDroppedAttrsTotal.WithLabelValues("unresolved_key").Inc()
			continue
		}
		tag, ok := types.Value(row)
		if !ok {
			decodeDroppedAttrsTotal.WithLabelValues("null_type").Inc()
			continue
		}

		var value logrecord.Value
		switch tag {
		case attrTypeString:
			s, ok := strs.Value(row)
			if !ok {
				decodeDroppedAttrsTotal.WithLabelValues("unresolved_value").Inc()
				continue
			}
			value = logrecord.StringValue(s)
		case attrTypeInt:
			n, ok := ints.Value(row)
			if !ok {
				decodeDroppedAttrsTotal.WithLabelValues("unresolved_value").Inc()
				continue
			}
			value = logrecord.IntValue(n)
		default:
			decodeDroppedAttrsTotal.WithLabelValues("unknown_type").Inc()
			continue
		}

		index[parent] = append(index[parent], logrecord.Attribute{Key: key, Value: value})
		decodeAttrsTotal.WithLabelValues(table).Inc()
	}
	return index
}
