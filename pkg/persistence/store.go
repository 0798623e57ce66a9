// Package persistence implements the single durable document backing
// connections, scan jobs and manipulated-tag bounds (SPEC_FULL §6). It
// exposes per-section item accessors (Get/AddItem/UpdateSubitem/
// RemoveItem) and nested item/sub-key accessors (NestedGet/NestedSet/
// NestedRemove) over an in-memory map[string]any, flushed to a YAML
// file on every write under a single-writer mutex.
//
// Note on the backing format: viper, the teacher's configuration
// library, was tried here first and rejected — viper folds every key
// to lower-case and splits on "." internally, which is incompatible
// with connection/tag names that are case-sensitive and may themselves
// contain literal dots (see SPEC_FULL §9 "Config dot-path escaping").
// Viper remains the right tool for the agent's own static startup
// config (see internal/agentconfig) where keys are fixed and lower-case;
// this package instead marshals directly through gopkg.in/yaml.v3,
// which treats a map key as an opaque scalar and never touches its
// case. Every id and sub-key is stored with its literal dots escaped
// (EscapeKey) and is unescaped again when keys are listed.
package persistence

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// dotEscape replaces a literal "." in a stored key, so that keys in the
// persisted document never contain a dot.
const dotEscape = `\D`

// EscapeKey escapes literal dots in a single path segment.
func EscapeKey(key string) string {
	return strings.ReplaceAll(key, ".", dotEscape)
}

// UnescapeKey reverses EscapeKey.
func UnescapeKey(key string) string {
	return strings.ReplaceAll(key, dotEscape, ".")
}

// Store is the single-writer, diff-against-defaults durable document.
// It holds three top-level sections: connections, daq_jobs and
// manipulated_tags.
type Store struct {
	mu   sync.RWMutex
	doc  map[string]any
	path string
}

// Open loads path (an empty in-memory document is used if it does not
// exist yet; it is created on the first write).
func Open(path string) (*Store, error) {
	s := &Store{doc: map[string]any{}, path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("persistence: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("persistence: parsing %s: %w", path, err)
	}
	if s.doc == nil {
		s.doc = map[string]any{}
	}
	return s, nil
}

// Section is a namespaced view over one of the store's three top-level
// keys, matching the original per-domain persistence handles
// (add_item/remove_item/update_subitem/list_items).
type Section struct {
	s    *Store
	name string
}

// Section returns the view over the named top-level key.
func (s *Store) Section(name string) *Section {
	return &Section{s: s, name: name}
}

// ListItems returns every id in the section and its decoded value.
func (sec *Section) ListItems() map[string]map[string]any {
	sec.s.mu.RLock()
	defer sec.s.mu.RUnlock()

	out := map[string]map[string]any{}
	raw, _ := sec.s.doc[sec.name].(map[string]any)
	for id, v := range raw {
		out[UnescapeKey(id)] = asStringMap(v)
	}
	return out
}

// AddItem sets (or replaces) the full item under id.
func (sec *Section) AddItem(id string, item map[string]any) error {
	sec.s.mu.Lock()
	defer sec.s.mu.Unlock()

	sub := sec.ensureSectionLocked()
	sub[EscapeKey(id)] = item
	return sec.s.persistLocked()
}

// UpdateSubitem sets a single field within an existing item.
func (sec *Section) UpdateSubitem(id, field string, value any) error {
	sec.s.mu.Lock()
	defer sec.s.mu.Unlock()

	sub := sec.ensureSectionLocked()
	item := asStringMap(sub[EscapeKey(id)])
	item[field] = value
	sub[EscapeKey(id)] = item
	return sec.s.persistLocked()
}

// RemoveItem deletes id from the section. Silent if absent.
func (sec *Section) RemoveItem(id string) error {
	sec.s.mu.Lock()
	defer sec.s.mu.Unlock()

	sub := sec.ensureSectionLocked()
	delete(sub, EscapeKey(id))
	return sec.s.persistLocked()
}

// Get returns a single item's value by id.
func (sec *Section) Get(id string) (map[string]any, bool) {
	sec.s.mu.RLock()
	defer sec.s.mu.RUnlock()

	sub, _ := sec.s.doc[sec.name].(map[string]any)
	v, ok := sub[EscapeKey(id)]
	if !ok {
		return nil, false
	}
	return asStringMap(v), true
}

// Keys returns the sorted, unescaped id list in the section.
func (sec *Section) Keys() []string {
	items := sec.ListItems()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NestedGet retrieves item[id][subKey], both path components escaped
// individually, e.g. NestedGet("test1", "Static.Float") for a
// manipulated-tags bound lookup.
func (sec *Section) NestedGet(id, subKey string) (map[string]any, bool) {
	sec.s.mu.RLock()
	defer sec.s.mu.RUnlock()

	sub, _ := sec.s.doc[sec.name].(map[string]any)
	item, ok := sub[EscapeKey(id)].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := item[EscapeKey(subKey)]
	if !ok {
		return nil, false
	}
	return asStringMap(v), true
}

// NestedSet sets item[id][subKey] = value, creating intermediate maps
// as needed.
func (sec *Section) NestedSet(id, subKey string, value any) error {
	sec.s.mu.Lock()
	defer sec.s.mu.Unlock()

	top := sec.ensureSectionLocked()
	item := asStringMap(top[EscapeKey(id)])
	item[EscapeKey(subKey)] = value
	top[EscapeKey(id)] = item
	return sec.s.persistLocked()
}

// NestedRemove deletes item[id][subKey]. Silent if absent.
func (sec *Section) NestedRemove(id, subKey string) error {
	sec.s.mu.Lock()
	defer sec.s.mu.Unlock()

	top := sec.ensureSectionLocked()
	item := asStringMap(top[EscapeKey(id)])
	delete(item, EscapeKey(subKey))
	top[EscapeKey(id)] = item
	return sec.s.persistLocked()
}

// NestedKeys returns the sorted, unescaped sub-key list under id.
func (sec *Section) NestedKeys(id string) []string {
	sec.s.mu.RLock()
	top, _ := sec.s.doc[sec.name].(map[string]any)
	item, _ := top[EscapeKey(id)].(map[string]any)
	sec.s.mu.RUnlock()

	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, UnescapeKey(k))
	}
	sort.Strings(keys)
	return keys
}

func (sec *Section) ensureSectionLocked() map[string]any {
	sub, ok := sec.s.doc[sec.name].(map[string]any)
	if !ok {
		sub = map[string]any{}
		sec.s.doc[sec.name] = sub
	}
	return sub
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if dir := dirOf(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("persistence: mkdir: %w", err)
		}
	}
	data, err := yaml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("persistence: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persistence: writing %s: %w", s.path, err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

func asStringMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	if m, ok := v.(map[any]any); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out
	}
	return map[string]any{}
}
