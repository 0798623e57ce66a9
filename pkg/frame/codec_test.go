package frame_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imubit/data-agent/pkg/frame"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &frame.Frame{
		Index:     []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)},
		IndexName: "timestamp",
		TSUnit:    "s",
		Numeric: []frame.NumericColumn{
			{Name: "Random.Real8", Dtype: "<f8", Values: []float64{1.1, 2.2, 3.3}},
		},
		Object: []frame.ObjectColumn{
			{Name: "Random.String", Values: []any{"a", "b", "c"}},
		},
		ColumnOrder: []string{"Random.Real8", "Random.String"},
	}

	blob, err := frame.Encode(f, 0)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := frame.Decode(blob)
	require.NoError(t, err)

	assert.Equal(t, f.IndexName, got.IndexName)
	assert.Equal(t, f.TSUnit, got.TSUnit)
	assert.Equal(t, f.ColumnOrder, got.ColumnNames())
	require.Len(t, got.Index, len(f.Index))
	for i := range f.Index {
		assert.True(t, f.Index[i].Equal(got.Index[i]), "index[%d] mismatch", i)
	}

	num, ok := got.NumericColumnByName("Random.Real8")
	require.True(t, ok)
	assert.Equal(t, "<f8", num.Dtype)
	assert.Equal(t, []float64{1.1, 2.2, 3.3}, num.Values)

	obj, ok := got.ObjectColumnByName("Random.String")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b", "c"}, obj.Values)
}

func TestEncodeDecodeEmptyObjectColumns(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	f := &frame.Frame{
		Index:       []time.Time{base},
		IndexName:   "timestamp",
		TSUnit:      "ms",
		Numeric:     []frame.NumericColumn{{Name: "Static.Float", Dtype: "<f8", Values: []float64{0.1}}},
		ColumnOrder: []string{"Static.Float"},
	}

	blob, err := frame.Encode(f, 3)
	require.NoError(t, err)

	got, err := frame.Decode(blob)
	require.NoError(t, err)
	assert.Empty(t, got.Object)
	num, ok := got.NumericColumnByName("Static.Float")
	require.True(t, ok)
	assert.Equal(t, []float64{0.1}, num.Values)
}
