// Package safemanipulator implements the guarded write path enforcing
// per-tag bound constraints before values reach a driver, grounded on
// original_source/.../safe_manipulator.py.
package safemanipulator

import (
	"fmt"
	"sort"

	"github.com/imubit/data-agent/pkg/connmgr"
	"github.com/imubit/data-agent/pkg/daqerr"
	"github.com/imubit/data-agent/pkg/persistence"
)

// Bounds is the {lb, ub, rb} triple registered for a manipulated tag.
// A nil bound is unrestricted. Rb (rate bound) is stored but never
// enforced — see SPEC_FULL §9 Open Questions: the original is
// ambiguous between "max rate of change per time unit" and "max step
// per write", so enforcement is intentionally left disabled.
// TODO: implement rb enforcement once its semantics are clarified upstream.
type Bounds struct {
	LB *float64
	UB *float64
	RB *float64
}

func (b Bounds) toPersisted() map[string]any {
	return map[string]any{"lb": floatOrNil(b.LB), "ub": floatOrNil(b.UB), "rb": floatOrNil(b.RB)}
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boundsFromPersisted(m map[string]any) Bounds {
	return Bounds{LB: toFloatPtr(m["lb"]), UB: toFloatPtr(m["ub"]), RB: toFloatPtr(m["rb"])}
}

func toFloatPtr(v any) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// ParseBounds converts a raw {lb, ub, rb} map into a Bounds value,
// requiring all three keys to be present (their values may still be
// nil/null, meaning unrestricted) — the untyped-map boundary is where
// "key absent" must be detected, since Bounds itself always carries
// all three fields and cannot represent the distinction. Mirrors
// safe_manipulator.py's register_tags: `if not set(["ub","lb","rb"])
// .issubset(tags[tag].keys()): raise SafetyErrorBounderiesNotSpecified`.
func ParseBounds(raw map[string]any) (Bounds, error) {
	for _, key := range [...]string{"lb", "ub", "rb"} {
		if _, present := raw[key]; !present {
			return Bounds{}, daqerr.ErrSafetyBoundariesNotSpecified
		}
	}
	return Bounds{LB: toFloatPtr(raw["lb"]), UB: toFloatPtr(raw["ub"]), RB: toFloatPtr(raw["rb"])}, nil
}

// ParseBoundsMap applies ParseBounds to every tag in raw. Used by the
// RPC dispatcher and the provisioning document decoder, both of which
// receive bounds as untyped maps rather than a typed Bounds struct.
func ParseBoundsMap(raw map[string]map[string]any) (map[string]Bounds, error) {
	out := make(map[string]Bounds, len(raw))
	for tag, m := range raw {
		b, err := ParseBounds(m)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", tag, err)
		}
		out[tag] = b
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Manipulator is the per-connection registry of manipulated tags and
// their bounds, and the guarded write path.
type Manipulator struct {
	mgr   *connmgr.Manager
	store *persistence.Section
}

// New constructs a Manipulator over the given Connection Manager and
// persistence document.
func New(mgr *connmgr.Manager, store *persistence.Store) *Manipulator {
	return &Manipulator{mgr: mgr, store: store.Section("manipulated_tags")}
}

func (m *Manipulator) requireConnectionExists(conn string) error {
	for _, n := range m.mgr.ListConnectionNames() {
		if n == conn {
			return nil
		}
	}
	return fmt.Errorf("connection %q: %w", conn, daqerr.ErrUnrecognizedConnection)
}

// ListTags returns the sorted, unique tag names registered for conn.
func (m *Manipulator) ListTags(conn string) ([]string, error) {
	if err := m.requireConnectionExists(conn); err != nil {
		return nil, err
	}
	return m.store.NestedKeys(conn), nil
}

// ListTagsWithBounds returns every registered tag and its bounds for
// conn.
func (m *Manipulator) ListTagsWithBounds(conn string) (map[string]Bounds, error) {
	if err := m.requireConnectionExists(conn); err != nil {
		return nil, err
	}
	out := map[string]Bounds{}
	for _, tag := range m.store.NestedKeys(conn) {
		raw, ok := m.store.NestedGet(conn, tag)
		if !ok {
			continue
		}
		out[tag] = boundsFromPersisted(raw)
	}
	return out, nil
}

// RegisterTags merges tags into conn's manipulated-tag registry. Every
// tag must carry all three bound keys (possibly nil/absent-sentinel
// values).
func (m *Manipulator) RegisterTags(conn string, tags map[string]Bounds) error {
	if err := m.requireConnectionExists(conn); err != nil {
		return err
	}
	for tag, bounds := range tags {
		if err := m.store.NestedSet(conn, tag, bounds.toPersisted()); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterTags removes only the listed tags; silent if a tag is
// absent.
func (m *Manipulator) UnregisterTags(conn string, tags []string) error {
	if err := m.requireConnectionExists(conn); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := m.store.NestedRemove(conn, tag); err != nil {
			return err
		}
	}
	return nil
}

// WriteTags validates every (tag, value) pair against its registered
// bounds, then delegates the full validated batch to the driver in a
// single WriteTagValues call. The connection must be active.
func (m *Manipulator) WriteTags(conn string, values map[string]any, waitForResult bool) (map[string]error, error) {
	if err := m.requireConnectionExists(conn); err != nil {
		return nil, err
	}
	drv, err := m.mgr.Connection(conn, true)
	if err != nil {
		return nil, err
	}

	registered, err := m.ListTagsWithBounds(conn)
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(values))
	for tag := range values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		value := values[tag]

		bounds, ok := registered[tag]
		if !ok {
			return nil, fmt.Errorf("tag %q: %w", tag, daqerr.ErrSafetyManipulateUnauthorizedTag)
		}

		num, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("tag %q: %w", tag, daqerr.ErrSafetyWritingInvalidValue)
		}

		if bounds.LB != nil && num < *bounds.LB {
			return nil, fmt.Errorf("tag %q: lower bound %v violated by %v: %w", tag, *bounds.LB, num, daqerr.ErrSafetyManipulateOutsideOfRange)
		}
		if bounds.UB != nil && num > *bounds.UB {
			return nil, fmt.Errorf("tag %q: upper bound %v violated by %v: %w", tag, *bounds.UB, num, daqerr.ErrSafetyManipulateOutsideOfRange)
		}
		// bounds.RB (rate bound) intentionally not enforced — see Bounds doc comment.
	}

	return drv.WriteTagValues(values, waitForResult)
}
