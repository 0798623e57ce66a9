package fakeconn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imubit/data-agent/pkg/connector"
	_ "github.com/imubit/data-agent/pkg/connector/fakeconn"
	"github.com/imubit/data-agent/pkg/daqerr"
)

func TestFakeDriverLifecycle(t *testing.T) {
	d, err := connector.New("fake", "test1", nil)
	require.NoError(t, err)
	assert.False(t, d.Connected())

	_, err = d.ReadTagValues([]string{"Random.Real8"})
	assert.ErrorIs(t, err, daqerr.ErrConnectionNotActive)

	require.NoError(t, d.Connect())
	assert.True(t, d.Connected())

	vals, err := d.ReadTagValues([]string{"Random.Real8", "Random.String"})
	require.NoError(t, err)
	assert.Contains(t, vals, "Random.Real8")
	assert.Contains(t, vals, "Random.String")

	require.NoError(t, d.Disconnect())
	assert.False(t, d.Connected())
}

func TestFakeDriverWriteTagValues(t *testing.T) {
	d, err := connector.New("fake", "test1", nil)
	require.NoError(t, err)
	require.NoError(t, d.Connect())

	results, err := d.WriteTagValues(map[string]any{"Static.Float": 0.1}, true)
	require.NoError(t, err)
	require.NoError(t, results["Static.Float"])

	vals, err := d.ReadTagValues([]string{"Static.Float"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, vals["Static.Float"].Value)
}

func TestFakeDriverReadTagValuesPeriod(t *testing.T) {
	d, err := connector.New("fake", "test1", nil)
	require.NoError(t, err)
	require.NoError(t, d.Connect())

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.Add(time.Hour)
	f, err := d.ReadTagValuesPeriod(context.Background(), []string{"Random.Real8"}, first, last, 10*time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Random.Real8"}, f.ColumnNames())
	assert.Len(t, f.Index, 7) // 0,10,...,60 minutes inclusive
}

func TestDescriptorAndRegistry(t *testing.T) {
	d, ok := connector.DescriptorFor("fake")
	require.True(t, ok)
	assert.Equal(t, "historian", d.Category)
	assert.True(t, d.SupportsOp(connector.ReadTagPeriod))
	assert.False(t, d.SupportsOp(connector.WriteTagPeriod))

	supported := connector.ListSupportedConnectors()
	assert.Contains(t, supported, "fake")
}
