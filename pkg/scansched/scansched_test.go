package scansched_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imubit/data-agent/pkg/connmgr"
	_ "github.com/imubit/data-agent/pkg/connector/fakeconn"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/persistence"
	"github.com/imubit/data-agent/pkg/scansched"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls int
	last  map[string]any
}

func (p *recordingPublisher) Publish(ctx context.Context, headers map[string]any, contentType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = headers
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func setup(t *testing.T) (*connmgr.Manager, *scansched.Scheduler, *recordingPublisher) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "store.yaml"))
	require.NoError(t, err)
	mgr, err := connmgr.New(store, nil)
	require.NoError(t, err)
	_, err = mgr.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	sched, err := scansched.New(mgr, store, pub, nil)
	require.NoError(t, err)
	t.Cleanup(sched.Stop)
	return mgr, sched, pub
}

func TestCreateScanJobPublishesPeriodically(t *testing.T) {
	_, sched, pub := setup(t)

	job, err := sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, time.Second, false, false)
	require.NoError(t, err)
	assert.Equal(t, "test1", job.Conn)

	// cron.Every runs at most once a second: two runs need up to ~2s.
	require.Eventually(t, func() bool { return pub.count() >= 2 }, 3*time.Second, 5*time.Millisecond)
}

func TestCreateScanJobAlreadyExists(t *testing.T) {
	_, sched, _ := setup(t)

	_, err := sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, time.Second, false, false)
	require.NoError(t, err)

	_, err = sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, time.Second, false, false)
	assert.ErrorIs(t, err, daqerr.ErrDaqJobAlreadyExists)
}

func TestCreateScanJobUnknownConnection(t *testing.T) {
	_, sched, _ := setup(t)
	_, err := sched.CreateScanJob("job1", "nope", []string{"Static.Float"}, time.Second, false, false)
	assert.ErrorIs(t, err, daqerr.ErrUnrecognizedConnection)
}

func TestRescheduleOnIntervalChangePreservesJob(t *testing.T) {
	_, sched, _ := setup(t)

	_, err := sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, time.Minute, false, false)
	require.NoError(t, err)

	updated, err := sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, 20*time.Millisecond, true, false)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, updated.Period)

	tags, err := sched.ListTags("job1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Static.Float"}, tags)
}

func TestAddRemoveTags(t *testing.T) {
	_, sched, _ := setup(t)

	_, err := sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, time.Minute, false, false)
	require.NoError(t, err)

	require.NoError(t, sched.AddTags("job1", []string{"Static.Int4"}))
	tags, err := sched.ListTags("job1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Static.Float", "Static.Int4"}, tags)

	require.NoError(t, sched.RemoveTags("job1", []string{"Static.Float"}))
	tags, err = sched.ListTags("job1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Static.Int4"}, tags)
}

func TestRemoveJobNotFound(t *testing.T) {
	_, sched, _ := setup(t)
	err := sched.RemoveJob([]string{"nope"}, true)
	assert.ErrorIs(t, err, daqerr.ErrDaqJobNotFound)
}

func TestListJobsFilterByConnection(t *testing.T) {
	mgr, sched, _ := setup(t)
	_, err := mgr.CreateConnection("test2", "fake", true, false, nil)
	require.NoError(t, err)

	_, err = sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, time.Minute, false, false)
	require.NoError(t, err)
	_, err = sched.CreateScanJob("job2", "test2", []string{"Static.Float"}, time.Minute, false, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"job1"}, sched.ListJobs("test1"))
	assert.Equal(t, []string{"job1", "job2"}, sched.ListJobs(""))
}

func TestResetRemovesAllJobs(t *testing.T) {
	_, sched, _ := setup(t)
	_, err := sched.CreateScanJob("job1", "test1", []string{"Static.Float"}, time.Minute, false, false)
	require.NoError(t, err)

	require.NoError(t, sched.Reset(true))
	assert.Empty(t, sched.ListJobs(""))
}
