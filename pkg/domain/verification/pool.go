package verification

import (
	"sort"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
)

// WorkPool is the per-release set of work items eligible for assignment.
// The pool itself carries no lock; the owning session serializes access.
type WorkPool struct {
	items map[string]*WorkItem
}

// NewWorkPool builds a pool from a release snapshot of work items.
func NewWorkPool(items []*WorkItem) *WorkPool {
	p := &WorkPool{items: make(map[string]*WorkItem, len(items))}
	for _, item := range items {
		p.items[item.StoryID.String()] = item
	}
	return p
}

// Get returns the item for a story, or nil.
func (p *WorkPool) Get(storyID domain.StoryID) *WorkItem {
	return p.items[storyID.String()]
}

// Next returns the next eligible item under the selection policy: highest
// priority first, ties broken by earliest creation order. Returns nil when
// the pool is empty (a defined outcome, not an error).
func (p *WorkPool) Next() *WorkItem {
	var best *WorkItem
	for _, item := range p.items {
		if !item.Eligible() {
			continue
		}
		if best == nil || item.Priority > best.Priority ||
			(item.Priority == best.Priority && item.Seq < best.Seq) {
			best = item
		}
	}
	return best
}

// EligibleCount returns the number of items currently eligible for claim.
func (p *WorkPool) EligibleCount() int {
	n := 0
	for _, item := range p.items {
		if item.Eligible() {
			n++
		}
	}
	return n
}

// Items returns all items ordered by creation sequence. The slice is fresh
// but the elements are the pool's live items.
func (p *WorkPool) Items() []*WorkItem {
	out := make([]*WorkItem, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Len returns the total number of items in the pool, eligible or not.
func (p *WorkPool) Len() int {
	return len(p.items)
}
