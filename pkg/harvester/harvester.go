// Package harvester implements the history harvester: a one-shot,
// self-rescheduling batched backfill engine, grounded on
// original_source/.../history_harvester.py. Its job table is distinct
// from the scan scheduler's (pkg/scansched) per spec.md §4.6.
//
// Concurrency across jobs is bounded by a counting semaphore
// (buffered channel, width defaultHarvesterConcurrency); each job owns
// a private goroutine loop that acquires the semaphore only for the
// duration of one batch's read+publish, then releases it before arming
// the next — so two batches of the same job are never concurrent,
// while distinct jobs' batches may interleave freely.
package harvester

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imubit/data-agent/pkg/bus"
	"github.com/imubit/data-agent/pkg/connector"
	"github.com/imubit/data-agent/pkg/connmgr"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/frame"
)

// defaultHarvesterConcurrency bounds the number of batch deliveries
// (across all jobs) in flight at once.
const defaultHarvesterConcurrency = 20

// DeliveryJob is a caller-facing snapshot of a configured harvester job.
type DeliveryJob struct {
	ID        string
	Conn      string
	Tags      []string
	First     time.Time
	Last      time.Time
	Freq      time.Duration
	BatchSize time.Duration
	Iteration int
	Done      bool
}

type jobState struct {
	job    DeliveryJob
	cancel context.CancelFunc
}

// Harvester owns the delivery job table and the bounded worker pool.
type Harvester struct {
	mu   sync.Mutex
	jobs map[string]*jobState
	sem  chan struct{}

	mgr       *connmgr.Manager
	publisher bus.Publisher
	log       *logrus.Entry
}

// New constructs a Harvester. Unlike the scan scheduler, delivery jobs
// are one-shot and run-to-completion; there is nothing to reconstruct
// from persistence at startup.
func New(mgr *connmgr.Manager, publisher bus.Publisher, log *logrus.Entry) *Harvester {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Harvester{
		jobs:      map[string]*jobState{},
		sem:       make(chan struct{}, defaultHarvesterConcurrency),
		mgr:       mgr,
		publisher: publisher,
		log:       log.WithField("component", "harvester"),
	}
}

// ListJobs returns every currently tracked job id, sorted.
func (h *Harvester) ListJobs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.jobs))
	for id := range h.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Job returns a snapshot of jobID's current state.
func (h *Harvester) Job(jobID string) (DeliveryJob, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	js, ok := h.jobs[jobID]
	if !ok {
		return DeliveryJob{}, notFound(jobID)
	}
	return js.job, nil
}

// CreateDeliveryJob arms a one-shot batched backfill for jobID,
// starting immediately in its own goroutine. progress, if non-nil, is
// passed to the driver's ReadTagValuesPeriod for every batch; when it
// is called is up to the driver.
func (h *Harvester) CreateDeliveryJob(jobID, conn string, tags []string, first, last time.Time, freq, batchSize time.Duration, progress connector.ProgressFunc) (DeliveryJob, error) {
	sort.Strings(tags)

	h.mu.Lock()
	if _, exists := h.jobs[jobID]; exists {
		h.mu.Unlock()
		return DeliveryJob{}, fmt.Errorf("job %q: %w", jobID, daqerr.ErrHistoryHarvesterJobAlreadyExists)
	}
	drv, err := h.mgr.Connection(conn, false)
	if err != nil {
		h.mu.Unlock()
		return DeliveryJob{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := DeliveryJob{ID: jobID, Conn: conn, Tags: tags, First: first, Last: last, Freq: freq, BatchSize: batchSize}
	js := &jobState{job: job, cancel: cancel}
	h.jobs[jobID] = js
	h.mu.Unlock()

	go h.run(ctx, jobID, drv, progress)

	h.log.WithFields(logrus.Fields{"job_id": jobID, "conn": conn, "first": first, "last": last}).Info("delivery job created")
	return job, nil
}

// RemoveJob cancels jobID if still running and drops it from the
// table. A completed job is simply forgotten.
func (h *Harvester) RemoveJob(jobID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	js, ok := h.jobs[jobID]
	if !ok {
		return notFound(jobID)
	}
	js.cancel()
	delete(h.jobs, jobID)
	return nil
}

// Reset cancels and removes every tracked job.
func (h *Harvester) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, js := range h.jobs {
		js.cancel()
		delete(h.jobs, id)
	}
}

func (h *Harvester) run(ctx context.Context, jobID string, drv connector.Driver, progress connector.ProgressFunc) {
	log := h.log.WithField("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in delivery job: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case h.sem <- struct{}{}:
		}

		done, err := h.runBatch(ctx, jobID, drv, progress)
		<-h.sem

		if err != nil {
			log.Warnf("batch failed: %v", err)
			return
		}
		if done {
			h.mu.Lock()
			delete(h.jobs, jobID)
			h.mu.Unlock()
			log.Info("delivery job complete")
			return
		}
	}
}

// runBatch executes exactly one batch of jobID and reports whether the
// job has now reached its last timestamp.
func (h *Harvester) runBatch(ctx context.Context, jobID string, drv connector.Driver, progress connector.ProgressFunc) (done bool, err error) {
	h.mu.Lock()
	js, ok := h.jobs[jobID]
	if !ok {
		h.mu.Unlock()
		return true, nil
	}
	job := js.job
	h.mu.Unlock()

	nextEnd := job.Last
	if job.First.Add(job.BatchSize).Before(job.Last) {
		nextEnd = job.First.Add(job.BatchSize)
	}

	f, err := drv.ReadTagValuesPeriod(ctx, job.Tags, job.First, nextEnd, job.Freq, progress)
	if err != nil {
		return false, err
	}

	if f == nil || f.Empty() {
		h.log.WithField("job_id", jobID).Warnf("empty batch for range [%s, %s]", job.First, nextEnd)
	} else {
		body, err := frame.Encode(f, frame.DefaultZstdLevel)
		if err != nil {
			return false, fmt.Errorf("encode batch: %w", err)
		}
		headers := map[string]any{
			"data_category": "historical",
			"connection":    job.Conn,
			"job_id":        jobID,
			"batch_num":     job.Iteration,
		}
		if err := h.publisher.Publish(ctx, headers, "application/octet-stream", body); err != nil {
			return false, fmt.Errorf("publish batch: %w", err)
		}
	}

	h.mu.Lock()
	js, ok = h.jobs[jobID]
	if !ok {
		h.mu.Unlock()
		return true, nil
	}
	js.job.Iteration++
	js.job.First = nextEnd
	complete := !nextEnd.Before(job.Last)
	js.job.Done = complete
	h.mu.Unlock()

	return complete, nil
}

func notFound(jobID string) error {
	return fmt.Errorf("job %q: %w", jobID, daqerr.ErrHistoryHarvesterJobNotFound)
}
