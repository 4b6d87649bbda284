// Package registry holds the snapshot-consistent server directory: the
// read-mostly map of observed peers that the Discovery Agent writes and the
// RPC Router reads, modeled on the ads.go's
// sync.RWMutex-guarded connection map plus atomic counters for hot reads.
package registry

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/ryanuber/go-glob"
	"go.uber.org/atomic"
)

// ErrNotFound is returned by lookups that find no matching descriptor.
var ErrNotFound = errors.New("registry: not found")

// ServerDescriptor is a peer's immutable directory entry. Once observed, a
// descriptor is replaced wholesale on update, never mutated in place.
type ServerDescriptor struct {
	ID       string
	Kind     string
	Hostname string
	Frontend bool
	Metadata string
}

// LocalServer is this process's own descriptor plus its held lease token.
type LocalServer struct {
	Descriptor ServerDescriptor
	LeaseID    int64
}

// Filter decides whether a kind is admitted into the Registry, derived from
// the configured server_type_filters globs (empty = accept all).
type Filter struct {
	patterns []string
}

// NewFilter builds a Filter from glob patterns; a nil/empty slice accepts
// every kind.
func NewFilter(patterns []string) Filter {
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return Filter{patterns: cp}
}

// Allows reports whether kind matches the filter.
func (f Filter) Allows(kind string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, p := range f.patterns {
		if glob.Glob(p, kind) {
			return true
		}
	}
	return false
}

// Registry is the snapshot-consistent (kind, id) -> ServerDescriptor map.
// Writers (the Discovery Agent) hold mu for the duration of a delta apply;
// readers take mu.RLock for the duration of a single lookup, never across
// suspension points.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]map[string]ServerDescriptor // kind -> id -> descriptor
	filter   Filter
	puts     atomic.Int64
	deletes  atomic.Int64
}

// New builds an empty Registry that admits kinds per filter.
func New(filter Filter) *Registry {
	return &Registry{
		byID:   make(map[string]map[string]ServerDescriptor),
		filter: filter,
	}
}

// Put inserts or atomically replaces a descriptor. A kind rejected by the
// filter is ignored silently, per the filtering rule in the discovery spec.
func (r *Registry) Put(d ServerDescriptor) {
	if !r.filter.Allows(d.Kind) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byKind, ok := r.byID[d.Kind]
	if !ok {
		byKind = make(map[string]ServerDescriptor)
		r.byID[d.Kind] = byKind
	}
	byKind[d.ID] = d
	r.puts.Inc()
}

// Delete removes a (kind, id) entry, no-op if absent.
func (r *Registry) Delete(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKind, ok := r.byID[kind]
	if !ok {
		return
	}
	if _, ok := byKind[id]; !ok {
		return
	}
	delete(byKind, id)
	if len(byKind) == 0 {
		delete(r.byID, kind)
	}
	r.deletes.Inc()
}

// ByID looks up a single descriptor.
func (r *Registry) ByID(kind, id string) (ServerDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKind, ok := r.byID[kind]
	if !ok {
		return ServerDescriptor{}, ErrNotFound
	}
	d, ok := byKind[id]
	if !ok {
		return ServerDescriptor{}, ErrNotFound
	}
	return d, nil
}

// ByKind returns a stable snapshot slice of every descriptor of a kind.
// Order is unspecified but stable for the lifetime of the returned slice.
func (r *Registry) ByKind(kind string) []ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKind, ok := r.byID[kind]
	if !ok {
		return nil
	}
	out := make([]ServerDescriptor, 0, len(byKind))
	for _, d := range byKind {
		out = append(out, d)
	}
	return out
}

// Pick selects one peer of kind uniformly at random among current entries.
// It never returns a descriptor whose delete has already been applied,
// since the snapshot is taken under the same lock as Delete's mutation.
func (r *Registry) Pick(kind string) (ServerDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKind, ok := r.byID[kind]
	if !ok || len(byKind) == 0 {
		return ServerDescriptor{}, ErrNotFound
	}
	n := rand.Intn(len(byKind))
	i := 0
	for _, d := range byKind {
		if i == n {
			return d, nil
		}
		i++
	}
	// Unreachable: n < len(byKind) guarantees the loop returns above.
	return ServerDescriptor{}, ErrNotFound
}

// Stats returns cumulative put/delete counts for observability.
func (r *Registry) Stats() (puts, deletes int64) {
	return r.puts.Load(), r.deletes.Load()
}
