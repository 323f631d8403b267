package dom

import (
	"sync"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"golang.org/x/net/html"
)

// Finder locates role elements, preferring the user's picked descriptors
// and falling back to the registry.
type Finder struct {
	mu       sync.RWMutex
	picked   schemas.PickedElements
	registry *Registry
}

// NewFinder returns a finder with an empty descriptor cache.
func NewFinder(registry *Registry) *Finder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Finder{picked: schemas.PickedElements{}, registry: registry}
}

// Replace swaps the whole descriptor cache. An empty map clears it.
func (f *Finder) Replace(picked schemas.PickedElements) {
	next := make(schemas.PickedElements, len(picked))
	for k, v := range picked {
		next[k] = v
	}
	f.mu.Lock()
	f.picked = next
	f.mu.Unlock()
}

// Descriptor returns the cached descriptor for role.
func (f *Finder) Descriptor(role schemas.ElementRole) (schemas.ElementDescriptor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.picked[role]
	return d, ok
}

// Find locates role in snap.
func (f *Finder) Find(snap *Snapshot, role schemas.ElementRole) (*html.Node, bool) {
	if desc, ok := f.Descriptor(role); ok {
		if m, found := snap.Resolve(desc); found {
			return m.Node, true
		}
	}
	return f.registry.Lookup(snap.Doc, role)
}
