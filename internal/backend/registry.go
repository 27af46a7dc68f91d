// Package backend holds the fixed set of named database backends and the
// registry that maps each of them to its connection pool.
package backend

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/poolswitch/internal/pool"
)

// ID names one of the configured backends. The set is fixed at compile time;
// identifiers are compared case-insensitively when parsed from input.
type ID string

const (
	// Primary is the backend used when configuration names no valid default.
	Primary ID = "primary"
	// Secondary is the alternate backend traffic can be migrated to.
	Secondary ID = "secondary"
)

// ErrUnknownBackend is returned when an identifier is not part of the fixed set.
var ErrUnknownBackend = errors.New("unknown backend")

var all = []ID{Primary, Secondary}

// All returns every known backend identifier in declaration order.
func All() []ID {
	return slices.Clone(all)
}

// ParseID converts user input into an ID. Matching ignores case and
// surrounding whitespace.
//
// Example:
//
//	id, err := backend.ParseID("SECONDARY") // id == backend.Secondary
func ParseID(s string) (ID, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	idx := slices.IndexFunc(all, func(id ID) bool { return string(id) == key })
	if idx < 0 {
		return "", errors.Wrapf(ErrUnknownBackend, "%q", s)
	}
	return all[idx], nil
}

// Valid reports whether id is one of the fixed identifiers.
func (id ID) Valid() bool {
	return slices.Contains(all, id)
}

// String returns the lowercase lookup key of the backend.
func (id ID) String() string {
	return string(id)
}

// Entry binds a backend identifier to its pool handle.
// Entries are immutable once registered; the registry returns copies.
type Entry struct {
	// Pool is the connection pool owned by this backend. It lives for the
	// lifetime of the process and is only ever suspended or resumed.
	Pool pool.Pool

	// ID is the backend identifier.
	ID ID

	// Name is the human-readable pool name used in logs and messages.
	Name string
}

// Registry maps every backend identifier to its pool.
//
// The set of entries is fixed at construction: there are no add or remove
// operations, so lookups take no locks on the request path.
//
// Concurrency Model:
//   - All methods are safe for concurrent use
//   - Returned entries are copies
//   - Pool handles are shared; only the migration controller changes their state
type Registry struct {
	entries map[ID]Entry // backend -> entry, never written after NewRegistry
}

// NewRegistry builds a registry from one entry per known backend.
//
// Construction fails if a backend is missing, listed twice, unknown, or has
// no pool. An empty Name defaults to "pool-<id>".
//
// Example:
//
//	registry, err := backend.NewRegistry(
//	    backend.Entry{ID: backend.Primary, Name: "Pool-Primary", Pool: primary},
//	    backend.Entry{ID: backend.Secondary, Name: "Pool-Secondary", Pool: secondary},
//	)
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[ID]Entry, len(all))}

	for _, e := range entries {
		if !e.ID.Valid() {
			return nil, errors.Wrapf(ErrUnknownBackend, "%q", e.ID)
		}
		if e.Pool == nil {
			return nil, errors.Errorf("backend %s has no pool", e.ID)
		}
		if _, dup := r.entries[e.ID]; dup {
			return nil, errors.Errorf("backend %s registered twice", e.ID)
		}
		if e.Name == "" {
			e.Name = fmt.Sprintf("pool-%s", e.ID)
		}
		r.entries[e.ID] = e
	}

	for _, id := range all {
		if _, ok := r.entries[id]; !ok {
			return nil, errors.Errorf("backend %s is not configured", id)
		}
	}

	return r, nil
}

// Resolve returns the pool owned by id.
// Fails with ErrUnknownBackend if id is not part of the fixed set.
func (r *Registry) Resolve(id ID) (pool.Pool, error) {
	e, err := r.Entry(id)
	if err != nil {
		return nil, err
	}
	return e.Pool, nil
}

// ResolveKey is Resolve for a user-supplied, case-insensitive lookup key.
func (r *Registry) ResolveKey(key string) (pool.Pool, error) {
	id, err := ParseID(key)
	if err != nil {
		return nil, err
	}
	return r.Resolve(id)
}

// Entry returns a copy of the entry registered for id.
func (r *Registry) Entry(id ID) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, errors.Wrapf(ErrUnknownBackend, "%q", id)
	}
	return e, nil
}

// Entries returns copies of all entries in the fixed identifier order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, id := range all {
		out = append(out, r.entries[id])
	}
	return out
}

// IDs returns the registered identifiers. Equal to All for a valid registry.
func (r *Registry) IDs() []ID {
	return All()
}
