package connmgr_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imubit/data-agent/pkg/connmgr"
	_ "github.com/imubit/data-agent/pkg/connector/fakeconn"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/persistence"
)

func newManager(t *testing.T) *connmgr.Manager {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "store.yaml"))
	require.NoError(t, err)
	m, err := connmgr.New(store, nil)
	require.NoError(t, err)
	return m
}

func TestCreateConnectionLifecycle(t *testing.T) {
	m := newManager(t)

	desc, err := m.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "test1", desc.Name)
	assert.True(t, desc.Enabled)

	connected, err := m.IsConnected("test1")
	require.NoError(t, err)
	assert.True(t, connected)

	_, err = m.CreateConnection("test1", "fake", true, false, nil)
	assert.ErrorIs(t, err, daqerr.ErrConnectionAlreadyExists)

	_, err = m.CreateConnection("test1", "other", true, true, nil)
	assert.ErrorIs(t, err, daqerr.ErrConnectionRedefinitionNotSupported)

	desc2, err := m.CreateConnection("test1", "fake", true, true, nil)
	require.NoError(t, err)
	assert.Equal(t, desc.Name, desc2.Name)
}

func TestUnrecognizedConnectionType(t *testing.T) {
	m := newManager(t)
	_, err := m.CreateConnection("test1", "nope", false, false, nil)
	assert.ErrorIs(t, err, daqerr.ErrUnrecognizedConnectionType)
}

func TestEnableDisableIdempotent(t *testing.T) {
	m := newManager(t)
	_, err := m.CreateConnection("test1", "fake", false, false, nil)
	require.NoError(t, err)

	require.NoError(t, m.EnableConnection("test1"))
	require.NoError(t, m.EnableConnection("test1"))
	connected, _ := m.IsConnected("test1")
	assert.True(t, connected)

	require.NoError(t, m.DisableConnection("test1"))
	require.NoError(t, m.DisableConnection("test1"))
	connected, _ = m.IsConnected("test1")
	assert.False(t, connected)
}

func TestDeleteConnectionCascade(t *testing.T) {
	m := newManager(t)
	_, err := m.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteConnection("test1"))
	assert.Empty(t, m.ListConnectionNames())

	_, err = m.Connection("test1", false)
	assert.ErrorIs(t, err, daqerr.ErrUnrecognizedConnection)
}

func TestConnectionNotActive(t *testing.T) {
	m := newManager(t)
	_, err := m.CreateConnection("test1", "fake", false, false, nil)
	require.NoError(t, err)

	_, err = m.Connection("test1", true)
	assert.ErrorIs(t, err, daqerr.ErrConnectionNotActive)
}
