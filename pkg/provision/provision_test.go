package provision_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imubit/data-agent/pkg/connmgr"
	_ "github.com/imubit/data-agent/pkg/connector/fakeconn"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/facade"
	"github.com/imubit/data-agent/pkg/harvester"
	"github.com/imubit/data-agent/pkg/persistence"
	"github.com/imubit/data-agent/pkg/provision"
	"github.com/imubit/data-agent/pkg/safemanipulator"
	"github.com/imubit/data-agent/pkg/scansched"
)

type noopPublisher struct{ mu sync.Mutex }

func (p *noopPublisher) Publish(ctx context.Context, headers map[string]any, contentType string, body []byte) error {
	return nil
}

func setup(t *testing.T) *facade.Service {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "store.yaml"))
	require.NoError(t, err)
	mgr, err := connmgr.New(store, nil)
	require.NoError(t, err)

	pub := &noopPublisher{}
	sched, err := scansched.New(mgr, store, pub, nil)
	require.NoError(t, err)
	t.Cleanup(sched.Stop)

	hv := harvester.New(mgr, pub, nil)
	sm := safemanipulator.New(mgr, store)
	return facade.New(mgr, sched, hv, sm, nil)
}

func TestApplyProvisioningCreatesJobsAndManipulatedTags(t *testing.T) {
	svc := setup(t)
	_, err := svc.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)

	doc := provision.Document{
		"test1": {
			DaqJobs: map[string]provision.JobSpec{
				"data_1::5": {Tags: []string{"Static.Float"}, SampleRate: 5},
				"data_1::6": {Tags: []string{"Static.Int4"}, SampleRate: 6},
			},
			ManipulatedTags: map[string]map[string]any{
				"Static.Int4": {"lb": nil, "ub": nil, "rb": nil},
			},
		},
	}

	require.NoError(t, provision.Apply(svc, doc, nil))

	jobs := svc.ListJobs("")
	assert.ElementsMatch(t, []string{"data_1::5", "data_1::6"}, jobs)

	tags, err := svc.ListManipulatedTags("test1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Static.Int4"}, tags)
}

func TestApplyProvisioningAddsMissingTagsToExistingJob(t *testing.T) {
	svc := setup(t)
	_, err := svc.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)

	_, err = svc.CreateJob("job1", "test1", []string{"Static.Float"}, 5, false, false)
	require.NoError(t, err)

	doc := provision.Document{
		"test1": {
			DaqJobs: map[string]provision.JobSpec{
				"job1": {Tags: []string{"Static.Float", "Static.Int4"}, SampleRate: 999},
			},
		},
	}
	require.NoError(t, provision.Apply(svc, doc, nil))

	tags, err := svc.ListJobTags("job1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Static.Float", "Static.Int4"}, tags)
}

func TestApplyProvisioningRejectsManipulatedTagsMissingABoundKey(t *testing.T) {
	svc := setup(t)
	_, err := svc.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)

	doc := provision.Document{
		"test1": {
			ManipulatedTags: map[string]map[string]any{
				// "rb" is absent entirely, not merely null.
				"Static.Int4": {"lb": nil, "ub": nil},
			},
		},
	}

	err = provision.Apply(svc, doc, nil)
	assert.ErrorIs(t, err, daqerr.ErrSafetyBoundariesNotSpecified)

	tags, err := svc.ListManipulatedTags("test1")
	require.NoError(t, err)
	assert.Empty(t, tags)
}
