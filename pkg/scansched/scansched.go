// Package scansched implements the periodic DAQ scheduler: a
// cooperative scheduler owning recurring scan jobs that reconnects
// sources on demand, samples tags, serializes, and publishes results
// with at-most-one-concurrent-execution per job, grounded on
// original_source/.../daq_scheduler.py.
//
// The "single scheduler owns a time wheel" model and the
// coalesce=true/max_instances=1 guarantee are expressed natively via
// github.com/robfig/cron/v3: one *cron.Cron runs a single dispatch
// goroutine, and every job function is wrapped with
// cron.SkipIfStillRunning so a tick arriving mid-run is dropped rather
// than queued — exactly the coalescing semantics spec.md §5 describes.
package scansched

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/imubit/data-agent/pkg/bus"
	"github.com/imubit/data-agent/pkg/connector"
	"github.com/imubit/data-agent/pkg/connmgr"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/persistence"
)

// ScanJob is a caller-facing snapshot of a configured scan job.
type ScanJob struct {
	ID        string
	Conn      string
	Tags      []string
	Period    time.Duration
	FromCache bool
}

type jobState struct {
	job     ScanJob
	driver  connector.Driver
	entryID cron.EntryID
	iter    uint64 // atomic
}

// Scheduler owns the scan job table.
type Scheduler struct {
	mu              sync.Mutex
	cron            *cron.Cron
	jobs            map[string]*jobState
	mgr             *connmgr.Manager
	persistence     *persistence.Section
	publisher       bus.Publisher
	totalIterations uint64 // atomic
	log             *logrus.Entry
}

// New constructs a Scheduler, reconstructs persisted jobs (per-job
// errors are logged and do not block the others), and starts the
// underlying cron dispatcher.
func New(mgr *connmgr.Manager, store *persistence.Store, publisher bus.Publisher, log *logrus.Entry) (*Scheduler, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "scansched")

	s := &Scheduler{
		cron:        cron.New(cron.WithLogger(cronLogAdapter{log})),
		jobs:        map[string]*jobState{},
		mgr:         mgr,
		persistence: store.Section("daq_jobs"),
		publisher:   publisher,
		log:         log,
	}

	var startupErrs *multierror.Error
	for _, id := range s.persistence.Keys() {
		item, _ := s.persistence.Get(id)
		conn, _ := item["conn_name"].(string)
		seconds, _ := item["seconds"].(int)
		if seconds == 0 {
			if f, ok := item["seconds"].(float64); ok {
				seconds = int(f)
			}
		}
		fromCache, _ := item["from_cache"].(bool)
		tags := toStringSlice(item["tags"])

		if _, err := s.armJobLocked(id, conn, tags, time.Duration(seconds)*time.Second, fromCache); err != nil {
			startupErrs = multierror.Append(startupErrs, fmt.Errorf("job %q: %w", id, err))
			continue
		}
	}
	if startupErrs != nil {
		s.log.Warnf("errors while restoring scan jobs: %v", startupErrs)
	}

	s.cron.Start()
	return s, nil
}

func toStringSlice(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if str, ok := x.(string); ok {
			out = append(out, str)
		}
	}
	if len(out) == 0 {
		if strs, ok := v.([]string); ok {
			return strs
		}
	}
	return out
}

// ListJobs returns every job id, optionally filtered by connection
// name, sorted.
func (s *Scheduler) ListJobs(connFilter string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id, js := range s.jobs {
		if connFilter != "" && js.job.Conn != connFilter {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListTags returns the sorted tag list of jobID.
func (s *Scheduler) ListTags(jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	js, ok := s.jobs[jobID]
	if !ok {
		return nil, notFound(jobID)
	}
	out := make([]string, len(js.job.Tags))
	copy(out, js.job.Tags)
	return out, nil
}

// AddTags appends tags to jobID's tag list, skipping any already
// present, and persists the new descriptor.
func (s *Scheduler) AddTags(jobID string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	js, ok := s.jobs[jobID]
	if !ok {
		return notFound(jobID)
	}
	existing := map[string]bool{}
	for _, t := range js.job.Tags {
		existing[t] = true
	}
	for _, t := range tags {
		if !existing[t] {
			js.job.Tags = append(js.job.Tags, t)
			existing[t] = true
		}
	}
	sort.Strings(js.job.Tags)
	return s.persistJobLocked(js.job)
}

// RemoveTags removes the listed tags from jobID's tag list.
func (s *Scheduler) RemoveTags(jobID string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	js, ok := s.jobs[jobID]
	if !ok {
		return notFound(jobID)
	}
	remove := map[string]bool{}
	for _, t := range tags {
		remove[t] = true
	}
	kept := js.job.Tags[:0]
	for _, t := range js.job.Tags {
		if !remove[t] {
			kept = append(kept, t)
		}
	}
	js.job.Tags = kept
	return s.persistJobLocked(js.job)
}

// CreateScanJob creates or, if updateOnConflict, updates jobID. Tags
// are sorted in place. Identical re-creation with updateOnConflict is
// a no-op.
func (s *Scheduler) CreateScanJob(jobID, conn string, tags []string, period time.Duration, updateOnConflict, fromCache bool) (ScanJob, error) {
	sort.Strings(tags)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.jobs[jobID]
	if !exists {
		js, err := s.armJobLocked(jobID, conn, tags, period, fromCache)
		if err != nil {
			return ScanJob{}, err
		}
		if err := s.persistJobLocked(js.job); err != nil {
			return ScanJob{}, err
		}
		s.log.WithFields(logrus.Fields{"job_id": jobID, "conn": conn, "period": period}).Info("scan job created")
		return js.job, nil
	}

	if !updateOnConflict {
		return ScanJob{}, fmt.Errorf("job %q: %w", jobID, daqerr.ErrDaqJobAlreadyExists)
	}

	intervalChanged := existing.job.Period != period
	argsChanged := existing.job.Conn != conn || !stringSliceEqual(existing.job.Tags, tags)

	switch {
	case argsChanged:
		s.cron.Remove(existing.entryID)
		delete(s.jobs, jobID)
		js, err := s.armJobLocked(jobID, conn, tags, period, fromCache)
		if err != nil {
			return ScanJob{}, err
		}
		if err := s.persistJobLocked(js.job); err != nil {
			return ScanJob{}, err
		}
		existing = js
	case intervalChanged:
		s.cron.Remove(existing.entryID)
		existing.job.Period = period
		existing.job.FromCache = fromCache
		existing.entryID = s.schedule(existing)
		if err := s.persistJobLocked(existing.job); err != nil {
			return ScanJob{}, err
		}
	default:
		// Neither the trigger nor the connection/tags changed, but the
		// descriptor (e.g. from_cache) is always re-persisted on an
		// accepted update.
		existing.job.FromCache = fromCache
		if err := s.persistJobLocked(existing.job); err != nil {
			return ScanJob{}, err
		}
	}

	s.log.WithFields(logrus.Fields{"job_id": jobID, "conn": conn, "period": period}).Info("scan job modified")
	return existing.job, nil
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Scheduler) armJobLocked(id, conn string, tags []string, period time.Duration, fromCache bool) (*jobState, error) {
	drv, err := s.mgr.Connection(conn, false)
	if err != nil {
		return nil, err
	}

	js := &jobState{job: ScanJob{ID: id, Conn: conn, Tags: tags, Period: period, FromCache: fromCache}, driver: drv}
	js.entryID = s.schedule(js)
	s.jobs[id] = js
	return js, nil
}

func (s *Scheduler) schedule(js *jobState) cron.EntryID {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogAdapter{s.log})).Then(cron.FuncJob(func() {
		s.runJob(js)
	}))
	return s.cron.Schedule(cron.Every(js.job.Period), wrapped)
}

func (s *Scheduler) persistJobLocked(job ScanJob) error {
	return s.persistence.AddItem(job.ID, map[string]any{
		"conn_name":  job.Conn,
		"tags":       job.Tags,
		"seconds":    int(job.Period / time.Second),
		"from_cache": job.FromCache,
	})
}

// RemoveJob removes every listed job id, optionally also purging the
// persisted entry.
func (s *Scheduler) RemoveJob(jobIDs []string, persist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range jobIDs {
		js, ok := s.jobs[id]
		if !ok {
			return notFound(id)
		}
		s.cron.Remove(js.entryID)
		delete(s.jobs, id)
		if persist {
			if err := s.persistence.RemoveItem(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset removes every scan job, optionally purging persistence.
func (s *Scheduler) Reset(persist bool) error {
	return s.RemoveJob(s.ListJobs(""), persist)
}

// Stop halts the cron dispatcher, allowing any in-flight run to
// complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runJob(js *jobState) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("job_id", js.job.ID).Errorf("panic in scan job: %v", r)
		}
	}()

	log := s.log.WithField("job_id", js.job.ID)

	if !js.driver.Connected() {
		log.Info("reconnecting to target server...")
		if err := js.driver.Connect(); err != nil {
			log.Warnf("reconnect failed: %v", err)
			return
		}
	}

	start := time.Now()
	values, err := js.driver.ReadTagValues(js.job.Tags)
	if err != nil {
		log.Warnf("read failed: %v", err)
		return
	}
	readTime := time.Since(start)

	if len(values) == 0 {
		log.Warn("no data read for job")
		return
	}

	data := make(map[string]any, len(values))
	for tag, v := range values {
		data[tag] = map[string]any{"Value": v.Value, "Quality": v.Quality, "Timestamp": v.Timestamp}
	}

	iter := atomic.LoadUint64(&js.iter)
	body, err := bus.MarshalCanonical(bus.ScanPayload{SampleID: iter, Data: data})
	if err != nil {
		log.Errorf("serialize failed: %v", err)
		return
	}

	if err := s.publisher.Publish(context.Background(), map[string]any{"job_id": js.job.ID}, "application/json", body); err != nil {
		log.Errorf("publish failed: %v", err)
		return
	}

	atomic.AddUint64(&js.iter, 1)
	total := atomic.AddUint64(&s.totalIterations, 1)
	log.Debugf("(#%d): data published (read time=%s)", total, readTime)
}

func notFound(jobID string) error {
	return fmt.Errorf("job %q: %w", jobID, daqerr.ErrDaqJobNotFound)
}

type cronLogAdapter struct{ log *logrus.Entry }

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.log.WithFields(fieldsFrom(keysAndValues)).Debug(msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.log.WithFields(fieldsFrom(keysAndValues)).WithError(err).Error(msg)
}

func fieldsFrom(kv []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
