package harvester_test

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
	"github.com/imubit/data-agent/pkg/harvester"
	"github.com/imubit/data-agent/pkg/persistence"
)

type recordingPublisher struct {
	mu      sync.Mutex
	headers []map[string]any
}

func (p *recordingPublisher) Publish(ctx context.Context, headers map[string]any, contentType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = append(p.headers, headers)
	return nil
}

func (p *recordingPublisher) snapshot() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, len(p.headers))
	copy(out, p.headers)
	return out
}

func setup(t *testing.T) (*connmgr.Manager, *harvester.Harvester, *recordingPublisher) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "store.yaml"))
	require.NoError(t, err)
	mgr, err := connmgr.New(store, nil)
	require.NoError(t, err)
	_, err = mgr.CreateConnection("test1", "fake", true, false, nil)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	return mgr, harvester.New(mgr, pub, nil), pub
}

func TestHarvesterBatchesSixPublishes(t *testing.T) {
	_, h, pub := setup(t)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.Add(time.Hour)

	_, err := h.CreateDeliveryJob("job1", "test1", []string{"Static.Float"}, first, last, time.Minute, 10*time.Minute, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 6 }, 2*time.Second, 10*time.Millisecond)

	seen := map[int]bool{}
	for _, hdrs := range pub.snapshot() {
		assert.Equal(t, "historical", hdrs["data_category"])
		assert.Equal(t, "test1", hdrs["connection"])
		assert.Equal(t, "job1", hdrs["job_id"])
		seen[hdrs["batch_num"].(int)] = true
	}
	for i := 0; i < 6; i++ {
		assert.True(t, seen[i], "missing batch_num %d", i)
	}

	require.Eventually(t, func() bool {
		return len(h.ListJobs()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHarvesterDuplicateJobFails(t *testing.T) {
	_, h, _ := setup(t)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.Add(time.Hour)
	_, err := h.CreateDeliveryJob("job1", "test1", []string{"Static.Float"}, first, last, time.Minute, 10*time.Minute, nil)
	require.NoError(t, err)

	_, err = h.CreateDeliveryJob("job1", "test1", []string{"Static.Float"}, first, last, time.Minute, 10*time.Minute, nil)
	assert.ErrorIs(t, err, daqerr.ErrHistoryHarvesterJobAlreadyExists)
}

func TestHarvesterUnknownConnection(t *testing.T) {
	_, h, _ := setup(t)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := h.CreateDeliveryJob("job1", "nope", []string{"Static.Float"}, first, first.Add(time.Hour), time.Minute, 10*time.Minute, nil)
	assert.ErrorIs(t, err, daqerr.ErrUnrecognizedConnection)
}

func TestHarvesterRemoveJobNotFound(t *testing.T) {
	_, h, _ := setup(t)
	err := h.RemoveJob("nope")
	assert.ErrorIs(t, err, daqerr.ErrHistoryHarvesterJobNotFound)
}
