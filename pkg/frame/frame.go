// Package frame implements the time-indexed tabular value exchanged
// between drivers and the history harvester, and its lossless encoding
// to a compressed binary blob for publication to the data bus.
package frame

import "time"

// NumericColumn is a fixed-dtype column (float64-backed; dtype records
// the original declared numpy-style dtype string, e.g. "<f8", "<i4", so
// it can be round-tripped through Dtype on decode).
type NumericColumn struct {
	Name   string
	Dtype  string
	Values []float64
}

// ObjectColumn is a free-form column of strings/bools/any scalar.
type ObjectColumn struct {
	Name   string
	Values []any
}

// Frame is a strictly-ordered sequence of timestamps plus named numeric
// and/or object columns. Column order, dtypes, index name and the
// declared timestamp unit all survive an Encode/Decode round trip.
type Frame struct {
	Index       []time.Time
	IndexName   string
	TSUnit      string // one of "s", "ms", "us", "ns"; default "s"
	Numeric     []NumericColumn
	Object      []ObjectColumn
	ColumnOrder []string // original column order across Numeric+Object
}

// Empty reports whether the frame carries no rows.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Index) == 0
}

// ColumnNames returns every column name in declared order.
func (f *Frame) ColumnNames() []string {
	if len(f.ColumnOrder) > 0 {
		return f.ColumnOrder
	}
	names := make([]string, 0, len(f.Numeric)+len(f.Object))
	for _, c := range f.Numeric {
		names = append(names, c.Name)
	}
	for _, c := range f.Object {
		names = append(names, c.Name)
	}
	return names
}

// NumericColumnByName looks up a numeric column by name.
func (f *Frame) NumericColumnByName(name string) (NumericColumn, bool) {
	for _, c := range f.Numeric {
		if c.Name == name {
			return c, true
		}
	}
	return NumericColumn{}, false
}

// ObjectColumnByName looks up an object column by name.
func (f *Frame) ObjectColumnByName(name string) (ObjectColumn, bool) {
	for _, c := range f.Object {
		if c.Name == name {
			return c, true
		}
	}
	return ObjectColumn{}, false
}
