package index

import (
	"sync/atomic"

	"element-indexer/internal/entity"
)

// Holder publishes the current generation behind an atomic pointer.
// Rebuilds swap the whole generation at once; readers never observe a
// partially built index, and handles from a replaced generation simply
// stop resolving.
type Holder struct {
	current atomic.Pointer[entity.Generation]
}

func NewHolder() *Holder {
	return &Holder{}
}

// Current returns the live generation, or nil before the first build.
func (h *Holder) Current() *entity.Generation {
	return h.current.Load()
}

// Swap installs a new generation and returns the one it replaced.
func (h *Holder) Swap(gen *entity.Generation) *entity.Generation {
	return h.current.Swap(gen)
}
