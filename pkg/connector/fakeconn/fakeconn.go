// Package fakeconn is the reference driver used for tests and local
// experimentation, grounded on original_source/.../fake_connector.py. It
// exposes a fixed, in-memory tag tree (Static.Float, Static.Int4,
// Random.Real8, Random.String) and requires no external source.
package fakeconn

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/imubit/data-agent/pkg/connector"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/frame"
)

// Kind is the connection type string registered with pkg/connector.
const Kind = "fake"

func init() {
	connector.Register(Kind, factory{})
}

type factory struct{}

func (factory) Descriptor() connector.Descriptor {
	return connector.Descriptor{
		Category:         "historian",
		SupportedFilters: nil,
		SupportedOperations: []connector.SupportedOperation{
			connector.ReadTagPeriod,
			connector.ReadTagMeta,
			connector.DeleteTag,
		},
		DefaultAttributes: connector.TagAttributes{"tag": map[string]string{"Type": "str", "Name": "Tag Name"}},
		ConnectionFields:  map[string]string{},
	}
}

func (factory) PluginSupported() bool { return true }

func (factory) TargetInfo(string) (map[string]any, error) {
	return map[string]any{"Name": "absolute-fake", "Endpoints": []string{}}, nil
}

func (factory) New(connName string, _ map[string]any) (connector.Driver, error) {
	return newDriver(connName), nil
}

type tagRecord struct {
	Value     any
	Quality   string
	Timestamp time.Time
	DataType  string
}

// Driver is the fake connector instance. It is safe for concurrent use.
type Driver struct {
	name      string
	mu        sync.Mutex
	connected bool
	tags      map[string]*tagRecord
	rng       *rand.Rand
}

func newDriver(name string) *Driver {
	now := time.Now().UTC()
	return &Driver{
		name: name,
		rng:  rand.New(rand.NewSource(1)),
		tags: map[string]*tagRecord{
			"Static.Float":  {Value: 83289.48243, Quality: "Good", Timestamp: now, DataType: "Double Float"},
			"Static.Int4":   {Value: int64(12345), Quality: "Good", Timestamp: now, DataType: "Int4"},
			"Random.Real8":  {Value: 4289.84243, Quality: "Good", Timestamp: now, DataType: "Double Float"},
			"Random.String": {Value: "Hello", Quality: "Good", Timestamp: now, DataType: "Int4"},
		},
	}
}

var randomWords = strings.Fields("We are going to win this race.")

func (d *Driver) updateRandom() {
	now := time.Now().UTC()
	d.tags["Random.Real8"].Value = d.rng.Float64() * 1000
	d.tags["Random.Real8"].Timestamp = now
	d.tags["Random.String"].Value = randomWords[d.rng.Intn(len(randomWords))]
	d.tags["Random.String"].Timestamp = now
}

func (d *Driver) Name() string { return d.name }

func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Driver) ConnectionInfo() (map[string]any, error) {
	return map[string]any{"name": d.name, "type": Kind}, nil
}

func (d *Driver) requireConnected() error {
	if !d.Connected() {
		return daqerr.ErrConnectionNotActive
	}
	return nil
}

func (d *Driver) ListTags(filter any, includeAttrs any, _ bool, _ int) (map[string]connector.TagAttributes, error) {
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateRandom()

	prefix, _ := filter.(string)
	res := map[string]connector.TagAttributes{}
	seen := map[string]bool{}
	for full := range d.tags {
		if prefix != "" && !strings.HasPrefix(full, prefix+".") && full != prefix {
			continue
		}
		rest := strings.TrimPrefix(full, prefix)
		rest = strings.TrimPrefix(rest, ".")
		child := rest
		if idx := strings.Index(rest, "."); idx >= 0 {
			child = rest[:idx]
		}
		key := child
		if prefix != "" {
			key = prefix + "." + child
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		attrs := connector.TagAttributes{
			"DisplayName": child,
			"HasChildren": key != full,
		}
		if inc, _ := includeAttrs.(bool); inc && key == full {
			rec := d.tags[full]
			attrs["Value"] = rec.Value
			attrs["Quality"] = rec.Quality
			attrs["Timestamp"] = rec.Timestamp
			attrs["DataType"] = rec.DataType
		}
		res[key] = attrs
	}
	return res, nil
}

func (d *Driver) ReadTagAttributes(tags []string, attributes []string) (map[string]connector.TagAttributes, error) {
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateRandom()

	res := map[string]connector.TagAttributes{}
	for _, tag := range tags {
		rec, ok := d.tags[tag]
		if !ok {
			continue
		}
		full := connector.TagAttributes{
			"Value": rec.Value, "Quality": rec.Quality, "Timestamp": rec.Timestamp, "DataType": rec.DataType,
		}
		if len(attributes) == 0 {
			res[tag] = full
			continue
		}
		filtered := connector.TagAttributes{}
		for _, a := range attributes {
			if v, ok := full[a]; ok {
				filtered[a] = v
			}
		}
		res[tag] = filtered
	}
	return res, nil
}

func (d *Driver) ReadTagValues(tags []string) (map[string]connector.TagValue, error) {
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateRandom()

	res := map[string]connector.TagValue{}
	for _, tag := range tags {
		rec, ok := d.tags[tag]
		if !ok {
			continue
		}
		res[tag] = connector.TagValue{Value: rec.Value, Quality: qualityCode(rec.Quality), Timestamp: rec.Timestamp}
	}
	return res, nil
}

func (d *Driver) ReadTagValuesPeriod(ctx context.Context, tags []string, first, last time.Time, freq time.Duration, progress connector.ProgressFunc) (*frame.Frame, error) {
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	for _, tag := range tags {
		if _, ok := d.tags[tag]; !ok {
			d.mu.Unlock()
			return nil, fmt.Errorf("tag %q: %w", tag, daqerr.ErrCannotBrowseTargetTags)
		}
	}
	d.updateRandom()
	d.mu.Unlock()

	if freq <= 0 {
		freq = 30 * 24 * time.Hour // "MS" (month-start) equivalent default cadence
	}
	if first.IsZero() {
		first = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if last.IsZero() || !last.After(first) {
		last = first.Add(99 * freq)
	}

	var index []time.Time
	for t := first; !t.After(last); t = t.Add(freq) {
		index = append(index, t)
		if progress != nil && len(index)%10 == 0 {
			progress(float64(t.Sub(first)) / float64(last.Sub(first)))
		}
	}

	numeric := make([]frame.NumericColumn, len(tags))
	for i, tag := range tags {
		vals := make([]float64, len(index))
		for r := range vals {
			vals[r] = d.rng.Float64()
		}
		numeric[i] = frame.NumericColumn{Name: tag, Dtype: "<f8", Values: vals}
	}
	if progress != nil {
		progress(1)
	}

	return &frame.Frame{
		Index:       index,
		IndexName:   "timestamp",
		TSUnit:      "s",
		Numeric:     numeric,
		ColumnOrder: tags,
	}, nil
}

func (d *Driver) WriteTagValues(values map[string]any, _ bool) (map[string]error, error) {
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateRandom()

	res := map[string]error{}
	for tag, v := range values {
		rec, ok := d.tags[tag]
		if !ok {
			res[tag] = fmt.Errorf("tag %q: %w", tag, daqerr.ErrWritingReadonlyTag)
			continue
		}
		rec.Value = v
		rec.Timestamp = time.Now().UTC()
		res[tag] = nil
	}
	return res, nil
}

// DeleteTag removes tags from the fake tag tree, implementing
// connector.TagDeleter. Unknown tags report ErrCannotBrowseTargetTags
// per-tag rather than aborting the batch.
func (d *Driver) DeleteTag(tags []string) (map[string]error, error) {
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	res := map[string]error{}
	for _, tag := range tags {
		if _, ok := d.tags[tag]; !ok {
			res[tag] = fmt.Errorf("tag %q: %w", tag, daqerr.ErrCannotBrowseTargetTags)
			continue
		}
		delete(d.tags, tag)
		res[tag] = nil
	}
	return res, nil
}

func qualityCode(q string) int {
	if q == "Good" {
		return 192
	}
	return 0
}
