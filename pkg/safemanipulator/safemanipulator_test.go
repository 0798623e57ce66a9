package safemanipulator_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imubit/data-agent/pkg/connmgr"
	_ "github.com/imubit/data-agent/pkg/connector/fakeconn"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/persistence"
	"github.com/imubit/data-agent/pkg/safemanipulator"
)

func f(v float64) *float64 { return &v }

func setup(t *testing.T) (*connmgr.Manager, *safemanipulator.Manipulator) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "store.yaml"))
	require.NoError(t, err)
	mgr, err := connmgr.New(store, nil)
	require.NoError(t, err)
	_, err = mgr.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)
	return mgr, safemanipulator.New(mgr, store)
}

func TestSafeWriteWithinBounds(t *testing.T) {
	_, sm := setup(t)

	require.NoError(t, sm.RegisterTags("test1", map[string]safemanipulator.Bounds{
		"Static.Float": {LB: f(-1), UB: f(1), RB: f(0.1)},
	}))

	results, err := sm.WriteTags("test1", map[string]any{"Static.Float": 0.1}, true)
	require.NoError(t, err)
	require.NoError(t, results["Static.Float"])
}

func TestSafeWriteOutsideRangeNeverReachesDriver(t *testing.T) {
	mgr, sm := setup(t)

	require.NoError(t, sm.RegisterTags("test1", map[string]safemanipulator.Bounds{
		"Static.Float": {LB: f(-1), UB: f(1), RB: f(0.1)},
	}))

	_, err := sm.WriteTags("test1", map[string]any{"Static.Float": 5}, true)
	assert.ErrorIs(t, err, daqerr.ErrSafetyManipulateOutsideOfRange)

	drv, err := mgr.Connection("test1", true)
	require.NoError(t, err)
	vals, err := drv.ReadTagValues([]string{"Static.Float"})
	require.NoError(t, err)
	assert.NotEqual(t, float64(5), vals["Static.Float"].Value)
}

func TestSafeWriteUnauthorizedTag(t *testing.T) {
	_, sm := setup(t)
	_, err := sm.WriteTags("test1", map[string]any{"Static.Float": 0.1}, true)
	assert.ErrorIs(t, err, daqerr.ErrSafetyManipulateUnauthorizedTag)
}

func TestSafeWriteInvalidValueType(t *testing.T) {
	_, sm := setup(t)
	require.NoError(t, sm.RegisterTags("test1", map[string]safemanipulator.Bounds{
		"Static.Float": {},
	}))
	_, err := sm.WriteTags("test1", map[string]any{"Static.Float": "not-a-number"}, true)
	assert.ErrorIs(t, err, daqerr.ErrSafetyWritingInvalidValue)
}

func TestUnboundedAcceptsAnyNumeric(t *testing.T) {
	_, sm := setup(t)
	require.NoError(t, sm.RegisterTags("test1", map[string]safemanipulator.Bounds{
		"Static.Int4": {},
	}))
	results, err := sm.WriteTags("test1", map[string]any{"Static.Int4": 999999}, true)
	require.NoError(t, err)
	require.NoError(t, results["Static.Int4"])
}

func TestUnregisterTagsRemovesOnlyListed(t *testing.T) {
	_, sm := setup(t)
	require.NoError(t, sm.RegisterTags("test1", map[string]safemanipulator.Bounds{
		"Static.Float": {}, "Static.Int4": {},
	}))
	require.NoError(t, sm.UnregisterTags("test1", []string{"Static.Float"}))

	tags, err := sm.ListTags("test1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Static.Int4"}, tags)
}

func TestUnrecognizedConnection(t *testing.T) {
	_, sm := setup(t)
	_, err := sm.ListTags("nope")
	assert.ErrorIs(t, err, daqerr.ErrUnrecognizedConnection)
}

func TestParseBoundsRequiresAllThreeKeysPresent(t *testing.T) {
	_, err := safemanipulator.ParseBounds(map[string]any{"lb": -1.0, "ub": 1.0})
	assert.ErrorIs(t, err, daqerr.ErrSafetyBoundariesNotSpecified)

	_, err = safemanipulator.ParseBounds(map[string]any{})
	assert.ErrorIs(t, err, daqerr.ErrSafetyBoundariesNotSpecified)
}

func TestParseBoundsAcceptsKeysPresentWithNilValue(t *testing.T) {
	b, err := safemanipulator.ParseBounds(map[string]any{"lb": nil, "ub": nil, "rb": nil})
	require.NoError(t, err)
	assert.Nil(t, b.LB)
	assert.Nil(t, b.UB)
	assert.Nil(t, b.RB)
}

func TestParseBoundsMapRejectsAnyTagMissingAKey(t *testing.T) {
	_, err := safemanipulator.ParseBoundsMap(map[string]map[string]any{
		"Static.Float": {"lb": nil, "ub": nil, "rb": nil},
		"Static.Int4":  {"lb": nil, "ub": nil},
	})
	assert.ErrorIs(t, err, daqerr.ErrSafetyBoundariesNotSpecified)
}
