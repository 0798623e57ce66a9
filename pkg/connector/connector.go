// Package connector defines the polymorphic contract that every source
// driver (historian, OPC endpoint, PLC gateway, ...) implements, plus the
// process-wide registry drivers register themselves into.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/frame"
)

// SupportedOperation enumerates the capabilities a driver kind may
// advertise through its Descriptor. Callers are expected to consult
// Descriptor.SupportedOperations before invoking advanced calls.
type SupportedOperation int

const (
	ReadTagValue SupportedOperation = iota + 1
	WriteTagValue
	ReadTagPeriod
	WriteTagPeriod
	AppendTagPeriod
	OverrideTagPeriod
	ReadTagMeta
	WriteTagMeta
	CreateTag
	DeleteTag
)

// TagValue is the value record returned by ReadTagValues and friends.
type TagValue struct {
	Value     any       `json:"Value"`
	Quality   int       `json:"Quality"`
	Timestamp time.Time `json:"Timestamp"`
}

// TagAttributes carries driver-specific key/value metadata for a tag.
type TagAttributes map[string]any

// ProgressFunc reports fractional progress (0..1) of a long-running
// period read; implementations may call it zero or more times.
type ProgressFunc func(fraction float64)

// Descriptor is the static, per-kind information a driver exposes
// without needing an instance.
type Descriptor struct {
	Category            string
	SupportedFilters    []string
	SupportedOperations []SupportedOperation
	DefaultAttributes   TagAttributes
	ConnectionFields    map[string]string
}

// SupportsOp reports whether op is advertised by the descriptor.
func (d Descriptor) SupportsOp(op SupportedOperation) bool {
	for _, o := range d.SupportedOperations {
		if o == op {
			return true
		}
	}
	return false
}

// Driver is the stateful adapter every connection kind implements.
type Driver interface {
	Name() string
	Connected() bool
	Connect() error
	Disconnect() error
	ConnectionInfo() (map[string]any, error)

	ListTags(filter any, includeAttrs any, recursive bool, maxResults int) (map[string]TagAttributes, error)
	ReadTagAttributes(tags []string, attributes []string) (map[string]TagAttributes, error)
	ReadTagValues(tags []string) (map[string]TagValue, error)
	ReadTagValuesPeriod(ctx context.Context, tags []string, first, last time.Time, freq time.Duration, progress ProgressFunc) (*frame.Frame, error)
	WriteTagValues(values map[string]any, waitForResult bool) (map[string]error, error)
}

// TagDeleter is an optional interface extension for driver kinds that
// advertise the DeleteTag capability (SPEC_FULL §3 operation set). The
// core Driver interface has no delete method because most source kinds
// (historians, OPC tags) do not support removing a tag at all; kinds
// that do implement this alongside Driver.
type TagDeleter interface {
	Driver
	DeleteTag(tags []string) (map[string]error, error)
}

// GroupCapableDriver is an optional interface extension kept for future
// re-enablement of the group-subscription scan path (see SPEC_FULL §9,
// REDESIGN FLAG 3). The canonical scan path never calls it; it exists so
// a driver that wants grouped reads can opt in without changing Driver.
type GroupCapableDriver interface {
	Driver
	ListGroups() ([]string, error)
	RegisterGroup(groupName string, tags []string, refreshRateMS int) error
	UnregisterGroup(groupName string) error
	ReadGroupValues(groupName string, fromCache bool) (map[string]TagValue, error)
	WriteGroupValues(groupName string, values map[string]any, waitForResult bool) (map[string]error, error)
}

// Factory builds a Driver instance of a given kind and exposes the
// kind's static descriptor and introspection calls.
type Factory interface {
	Descriptor() Descriptor
	PluginSupported() bool
	TargetInfo(targetRef string) (map[string]any, error)
	New(connName string, params map[string]any) (Driver, error)
}

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register installs a driver factory under kind. Driver packages call
// this from their init() function. Registering the same kind twice
// replaces the previous factory, mirroring how a later entry-point wins
// in the original plugin-discovery mechanism.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[kind] = f
}

// Unregister removes kind from the registry. Exposed for tests that need
// a clean registry between cases; production code has no reason to call
// it.
func Unregister(kind string) {
	mu.Lock()
	defer mu.Unlock()
	delete(registry, kind)
}

// Kinds returns every registered driver kind, unsorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}

// ConnectorInfo is what ListSupportedConnectors returns per kind.
type ConnectorInfo struct {
	Category         string
	ConnectionFields map[string]string
}

// ListSupportedConnectors returns, for each registered kind whose
// PluginSupported() is true, its category and connection-field schema.
func ListSupportedConnectors() map[string]ConnectorInfo {
	mu.RLock()
	defer mu.RUnlock()

	out := make(map[string]ConnectorInfo, len(registry))
	for kind, f := range registry {
		if !f.PluginSupported() {
			continue
		}
		d := f.Descriptor()
		out[kind] = ConnectorInfo{Category: d.Category, ConnectionFields: d.ConnectionFields}
	}
	return out
}

// TargetInfo dispatches a stateless introspection call to kind's factory.
func TargetInfo(targetRef, kind string) (map[string]any, error) {
	mu.RLock()
	f, ok := registry[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("target info for %q: %w", kind, errUnknownKind(kind))
	}
	return f.TargetInfo(targetRef)
}

// New instantiates a driver of kind with the given connection name and
// parameters.
func New(kind, connName string, params map[string]any) (Driver, error) {
	mu.RLock()
	f, ok := registry[kind]
	mu.RUnlock()
	if !ok {
		return nil, errUnknownKind(kind)
	}
	return f.New(connName, params)
}

// DescriptorFor looks up the static descriptor for kind.
func DescriptorFor(kind string) (Descriptor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[kind]
	if !ok {
		return Descriptor{}, false
	}
	return f.Descriptor(), true
}

func errUnknownKind(kind string) error {
	return fmt.Errorf("unrecognized connection type %q: %w", kind, daqerr.ErrUnrecognizedConnectionType)
}
