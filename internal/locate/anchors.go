package locate

import (
	"sync"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

// AnchorSet is the read-mostly, writer-locked store of known anchor
// points used by the multilateration engine. Anchors are set once at
// startup or updated administratively via Set; reads never block on
// each other.
type AnchorSet struct {
	mu      sync.RWMutex
	anchors map[string]models.Anchor
}

// NewAnchorSet creates an empty anchor set.
func NewAnchorSet() *AnchorSet {
	return &AnchorSet{anchors: make(map[string]models.Anchor)}
}

// Set creates or updates the anchor with the given id.
func (a *AnchorSet) Set(id string, x, y, refRSSIAt1 float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anchors[id] = models.Anchor{ID: id, X: x, Y: y, RefRSSIAt1: refRSSIAt1}
}

// Remove deletes an anchor by id, if present.
func (a *AnchorSet) Remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.anchors, id)
}

// All returns a point-in-time copy of the anchor set.
func (a *AnchorSet) All() []models.Anchor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Anchor, 0, len(a.anchors))
	for _, anc := range a.anchors {
		out = append(out, anc)
	}
	return out
}

// Len returns the number of anchors currently set.
func (a *AnchorSet) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.anchors)
}

// Get returns a single anchor by id.
func (a *AnchorSet) Get(id string) (models.Anchor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	anc, ok := a.anchors[id]
	return anc, ok
}
