package results

import (
	"cmp"
	"slices"
	"sync"

	"github.com/tasooshi/pukpuk/internal/models"
)

// Set collects discovered endpoints from concurrent probers.
// It is append-only; duplicates are folded away by Unique.
type Set struct {
	mu    sync.Mutex
	items []models.Endpoint
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{}
}

// Add records an endpoint. The host is lower-cased.
func (s *Set) Add(ep models.Endpoint) {
	ep = models.NewEndpoint(ep.Host, ep.Port, ep.Protocol)
	s.mu.Lock()
	s.items = append(s.items, ep)
	s.mu.Unlock()
}

// Len returns the number of endpoints added so far, duplicates included.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Unique returns a deduplicated, sorted snapshot.
func (s *Set) Unique() []models.Endpoint {
	s.mu.Lock()
	snapshot := append([]models.Endpoint(nil), s.items...)
	s.mu.Unlock()

	Sort(snapshot)
	return slices.Compact(snapshot)
}

// Sort orders endpoints by host, port, then protocol.
func Sort(eps []models.Endpoint) {
	slices.SortFunc(eps, func(a, b models.Endpoint) int {
		return cmp.Or(
			cmp.Compare(a.Host, b.Host),
			cmp.Compare(a.Port, b.Port),
			cmp.Compare(a.Protocol, b.Protocol),
		)
	})
}

// Diff compares two endpoint lists and returns what appeared in cur and what
// disappeared from prev.
func Diff(prev, cur []models.Endpoint) (added, removed []models.Endpoint) {
	before := make(map[models.Endpoint]struct{}, len(prev))
	for _, ep := range prev {
		before[ep] = struct{}{}
	}
	after := make(map[models.Endpoint]struct{}, len(cur))
	for _, ep := range cur {
		after[ep] = struct{}{}
		if _, ok := before[ep]; !ok {
			added = append(added, ep)
		}
	}
	for _, ep := range prev {
		if _, ok := after[ep]; !ok {
			removed = append(removed, ep)
		}
	}
	return added, removed
}
