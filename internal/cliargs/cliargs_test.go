package cliargs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imubit/data-agent/internal/cliargs"
)

func TestParseDecodesScalarsAndCollections(t *testing.T) {
	method, kv, err := cliargs.Parse([]string{
		"create_connection",
		"--conn_name=test1",
		"--enabled=true",
		"--seconds=5",
		"--ratio=1.5",
		"--tags=[Static.Float, Static.Int4]",
		"--params={host: 10.0.0.1, port: 502}",
	})
	require.NoError(t, err)
	assert.Equal(t, "create_connection", method)
	assert.Equal(t, "test1", kv["conn_name"])
	assert.Equal(t, true, kv["enabled"])
	assert.Equal(t, 5, kv["seconds"])
	assert.Equal(t, 1.5, kv["ratio"])
	assert.Equal(t, []any{"Static.Float", "Static.Int4"}, kv["tags"])
	assert.Equal(t, map[string]any{"host": "10.0.0.1", "port": 502}, kv["params"])
}

func TestParseRequiresMethod(t *testing.T) {
	_, _, err := cliargs.Parse([]string{"--k=v"})
	assert.Error(t, err)
}

func TestParseRejectsMultiplePositionals(t *testing.T) {
	_, _, err := cliargs.Parse([]string{"method_a", "method_b"})
	assert.Error(t, err)
}
