package store

import (
	"slices"

	"github.com/jacentio/dynamock/internal/ckey"
)

// ProjectionType selects which attributes an index exposes.
type ProjectionType string

const (
	ProjectionKeysOnly ProjectionType = "KEYS_ONLY"
	ProjectionInclude  ProjectionType = "INCLUDE"
	ProjectionAll      ProjectionType = "ALL"
)

// IndexSpec defines a secondary index.
type IndexSpec struct {
	// Name is the index name used in IndexName parameters.
	Name string

	// ProjectionType is KEYS_ONLY, INCLUDE or ALL.
	ProjectionType ProjectionType

	// HashKey is the index partition key attribute. Only items carrying it
	// appear in the index.
	HashKey string

	// SortKey is the optional index sort key attribute.
	SortKey string

	// NonKeyAttributes are the extra attributes of an INCLUDE projection.
	NonKeyAttributes []string
}

func (s IndexSpec) validate() error {
	if s.Name == "" {
		return validationf("index name must not be empty")
	}
	if s.HashKey == "" {
		return validationf("index %s: hash key must not be empty", s.Name)
	}
	switch s.ProjectionType {
	case ProjectionKeysOnly, ProjectionAll:
	case ProjectionInclude:
		if len(s.NonKeyAttributes) == 0 {
			return validationf("index %s: INCLUDE projection requires non-key attributes", s.Name)
		}
	default:
		return validationf("index %s: unknown projection type %q", s.Name, s.ProjectionType)
	}
	return nil
}

// Project filters item down to what the index exposes. baseKeys are the
// key attributes of the table, which every projection keeps.
func (s IndexSpec) Project(item Item, baseKeys []string) Item {
	if s.ProjectionType == ProjectionAll {
		return item
	}
	keep := append(slices.Clone(baseKeys), s.HashKey)
	if s.SortKey != "" {
		keep = append(keep, s.SortKey)
	}
	if s.ProjectionType == ProjectionInclude {
		keep = append(keep, s.NonKeyAttributes...)
	}
	out := Item{}
	for _, name := range keep {
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

// index pairs a definition with the keys of the items that carry its hash
// attribute.
type index struct {
	spec    IndexSpec
	entries map[ckey.Key]struct{}
}

// Registry holds the index definitions of one table.
type Registry struct {
	indexes []*index
	byName  map[string]*index
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		indexes: []*index{},
		byName:  make(map[string]*index),
	}
}

// Register validates and adds an index. Registering an existing name
// replaces its definition in place and drops its entries; call Track to
// rebuild them.
func (r *Registry) Register(spec IndexSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	spec.NonKeyAttributes = slices.Clone(spec.NonKeyAttributes)
	idx := &index{spec: spec, entries: make(map[ckey.Key]struct{})}
	if old, ok := r.byName[spec.Name]; ok {
		i := slices.Index(r.indexes, old)
		r.indexes[i] = idx
	} else {
		r.indexes = append(r.indexes, idx)
	}
	r.byName[spec.Name] = idx
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (IndexSpec, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return IndexSpec{}, false
	}
	return idx.spec, true
}

// Specs returns all definitions in registration order.
func (r *Registry) Specs() []IndexSpec {
	out := make([]IndexSpec, 0, len(r.indexes))
	for _, idx := range r.indexes {
		out = append(out, idx.spec)
	}
	return out
}

// Track updates index membership for the item stored at key. A nil item
// removes the key from every index.
func (r *Registry) Track(key ckey.Key, item Item) {
	for _, idx := range r.indexes {
		if _, ok := item[idx.spec.HashKey]; ok && item != nil {
			idx.entries[key] = struct{}{}
		} else {
			delete(idx.entries, key)
		}
	}
}

// Entries returns the keys currently held by the named index.
func (r *Registry) Entries(name string) []ckey.Key {
	idx, ok := r.byName[name]
	if !ok {
		return nil
	}
	keys := make([]ckey.Key, 0, len(idx.entries))
	for k := range idx.entries {
		keys = append(keys, k)
	}
	return keys
}
