package notify

import "sync"

// ViewRegistry tracks which reviewer-facing messages currently show a
// given item, so a state change can be synced to every live view instead
// of only the reviewers freshly notified. Without this, a reviewer's
// interface could keep showing action controls for an item someone else
// already resolved.
type ViewRegistry struct {
	mu    sync.Mutex
	views map[string]map[string]MessageRef // item id -> reviewer id -> message
}

// NewViewRegistry creates an empty registry.
func NewViewRegistry() *ViewRegistry {
	return &ViewRegistry{views: make(map[string]map[string]MessageRef)}
}

// Register records that a reviewer's message shows the item. A newer
// message for the same reviewer replaces the old reference.
func (r *ViewRegistry) Register(itemID, reviewerID string, ref MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byReviewer, ok := r.views[itemID]
	if !ok {
		byReviewer = make(map[string]MessageRef)
		r.views[itemID] = byReviewer
	}
	byReviewer[reviewerID] = ref
}

// Views returns the live views of an item keyed by reviewer id.
func (r *ViewRegistry) Views(itemID string) map[string]MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]MessageRef, len(r.views[itemID]))
	for reviewerID, ref := range r.views[itemID] {
		out[reviewerID] = ref
	}
	return out
}

// Drop forgets all views of an item. Called after a terminal state was
// synced: the frozen message needs no further updates.
func (r *ViewRegistry) Drop(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, itemID)
}
