package frame

import (
	"fmt"
	"time"

	"github.com/DataDog/zstd"
	msgpack "github.com/vmihailenco/msgpack/v5"
)

// DefaultZstdLevel is the compression level used when Encode is called
// without an explicit level, matching the reference encoder's default.
const DefaultZstdLevel = 10

var tsUnitFactor = map[string]int64{
	"s":  1_000_000_000,
	"ms": 1_000_000,
	"us": 1_000,
	"ns": 1,
}

type wireMeta struct {
	TSUnit    string     `msgpack:"ts_unit"`
	NumDescr  [][]string `msgpack:"num_descr"` // [name, dtype] pairs, declared order
	NumCols   []string   `msgpack:"num_cols"`
	ObjCols   []string   `msgpack:"obj_cols"`
	OrigCols  []string   `msgpack:"orig_cols"`
	IndexName string     `msgpack:"index_name"`
}

// Encode serializes f to a zstd-compressed binary blob per the four-part
// layout described in SPEC_FULL §4.4: [ts_blob, num_blob, obj_blob, meta],
// packed as a single msgpack array and then compressed at level.
func Encode(f *Frame, level int) ([]byte, error) {
	if level <= 0 {
		level = DefaultZstdLevel
	}
	tsUnit := f.TSUnit
	if tsUnit == "" {
		tsUnit = "s"
	}
	factor, ok := tsUnitFactor[tsUnit]
	if !ok {
		return nil, fmt.Errorf("frame encode: unsupported ts_unit %q", tsUnit)
	}

	ts := make([]int64, len(f.Index))
	for i, t := range f.Index {
		ts[i] = t.UnixNano() / factor
	}
	tsBlob, err := msgpack.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("frame encode: timestamps: %w", err)
	}

	numData := make(map[string][]float64, len(f.Numeric))
	numDescr := make([][]string, 0, len(f.Numeric))
	numCols := make([]string, 0, len(f.Numeric))
	for _, c := range f.Numeric {
		numData[c.Name] = c.Values
		numDescr = append(numDescr, []string{c.Name, c.Dtype})
		numCols = append(numCols, c.Name)
	}
	numBlob, err := msgpack.Marshal(numData)
	if err != nil {
		return nil, fmt.Errorf("frame encode: numeric columns: %w", err)
	}

	objData := make(map[string][]any, len(f.Object))
	objCols := make([]string, 0, len(f.Object))
	for _, c := range f.Object {
		objData[c.Name] = c.Values
		objCols = append(objCols, c.Name)
	}
	objBlob, err := msgpack.Marshal(objData)
	if err != nil {
		return nil, fmt.Errorf("frame encode: object columns: %w", err)
	}

	meta := wireMeta{
		TSUnit:    tsUnit,
		NumDescr:  numDescr,
		NumCols:   numCols,
		ObjCols:   objCols,
		OrigCols:  f.ColumnNames(),
		IndexName: f.IndexName,
	}

	raw, err := msgpack.Marshal([]any{tsBlob, numBlob, objBlob, meta})
	if err != nil {
		return nil, fmt.Errorf("frame encode: envelope: %w", err)
	}

	return zstd.CompressLevel(nil, raw, level)
}

// Decode reverses Encode, restoring column order to meta.orig_cols.
func Decode(blob []byte) (*Frame, error) {
	raw, err := zstd.Decompress(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("frame decode: decompress: %w", err)
	}

	var parts []msgpack.RawMessage
	if err := msgpack.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("frame decode: envelope: %w", err)
	}
	if len(parts) != 4 {
		return nil, fmt.Errorf("frame decode: expected 4 envelope parts, got %d", len(parts))
	}

	var tsBlob, numBlob, objBlob []byte
	var meta wireMeta
	if err := msgpack.Unmarshal(parts[0], &tsBlob); err != nil {
		return nil, fmt.Errorf("frame decode: ts blob: %w", err)
	}
	if err := msgpack.Unmarshal(parts[1], &numBlob); err != nil {
		return nil, fmt.Errorf("frame decode: num blob: %w", err)
	}
	if err := msgpack.Unmarshal(parts[2], &objBlob); err != nil {
		return nil, fmt.Errorf("frame decode: obj blob: %w", err)
	}
	if err := msgpack.Unmarshal(parts[3], &meta); err != nil {
		return nil, fmt.Errorf("frame decode: meta: %w", err)
	}

	factor, ok := tsUnitFactor[meta.TSUnit]
	if !ok {
		return nil, fmt.Errorf("frame decode: unsupported ts_unit %q", meta.TSUnit)
	}

	var ts []int64
	if err := msgpack.Unmarshal(tsBlob, &ts); err != nil {
		return nil, fmt.Errorf("frame decode: timestamps: %w", err)
	}
	index := make([]time.Time, len(ts))
	for i, v := range ts {
		index[i] = time.Unix(0, v*factor).UTC()
	}

	var numData map[string][]float64
	if len(meta.NumCols) > 0 {
		if err := msgpack.Unmarshal(numBlob, &numData); err != nil {
			return nil, fmt.Errorf("frame decode: numeric columns: %w", err)
		}
	}
	dtypeOf := make(map[string]string, len(meta.NumDescr))
	for _, pair := range meta.NumDescr {
		if len(pair) == 2 {
			dtypeOf[pair[0]] = pair[1]
		}
	}
	numeric := make([]NumericColumn, 0, len(meta.NumCols))
	for _, name := range meta.NumCols {
		numeric = append(numeric, NumericColumn{Name: name, Dtype: dtypeOf[name], Values: numData[name]})
	}

	var objData map[string][]any
	if len(meta.ObjCols) > 0 {
		if err := msgpack.Unmarshal(objBlob, &objData); err != nil {
			return nil, fmt.Errorf("frame decode: object columns: %w", err)
		}
	}
	object := make([]ObjectColumn, 0, len(meta.ObjCols))
	for _, name := range meta.ObjCols {
		object = append(object, ObjectColumn{Name: name, Values: objData[name]})
	}

	return &Frame{
		Index:       index,
		IndexName:   meta.IndexName,
		TSUnit:      meta.TSUnit,
		Numeric:     reorderNumeric(numeric, meta.OrigCols),
		Object:      reorderObject(object, meta.OrigCols),
		ColumnOrder: meta.OrigCols,
	}, nil
}

func reorderNumeric(cols []NumericColumn, order []string) []NumericColumn {
	byName := make(map[string]NumericColumn, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}
	out := make([]NumericColumn, 0, len(cols))
	for _, name := range order {
		if c, ok := byName[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

func reorderObject(cols []ObjectColumn, order []string) []ObjectColumn {
	byName := make(map[string]ObjectColumn, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}
	out := make([]ObjectColumn, 0, len(cols))
	for _, name := range order {
		if c, ok := byName[name]; ok {
			out = append(out, c)
		}
	}
	return out
}
