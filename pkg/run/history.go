package run

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrRunNotFound = errors.New("run not found")

const DefaultHistorySize = 100

// History keeps the last runs in memory. The oldest finished runs are evicted first.
// Queued and running runs are never evicted, the history grows over size while they exist.
type History struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Run]
	// order of insertion, newest last.
	order []string

	size     int
	capacity int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	h := &History{order: make([]string, 0, size), size: size, capacity: size}
	// New returns error only for non-positive size.
	h.cache, _ = lru.NewWithEvict[string, *Run](size, func(id string, _ *Run) {
		h.removeFromOrder(id)
	})
	return h
}

// Add stores a run. Runs are stored when queued and updated in place.
func (h *History) Add(r *Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cache.Contains(r.ID) {
		return
	}

	for h.cache.Len() >= h.size {
		id, ok := h.oldestFinished()
		if !ok {
			break
		}
		h.cache.Remove(id)
	}
	if capacity := max(h.size, h.cache.Len()+1); capacity != h.capacity {
		h.capacity = capacity
		h.cache.Resize(capacity)
	}

	h.order = append(h.order, r.ID)
	h.cache.Add(r.ID, r)
}

// oldestFinished is called under h.mu.
func (h *History) oldestFinished() (string, bool) {
	for _, id := range h.order {
		if r, ok := h.cache.Peek(id); ok && r.GetStatus().Finished() {
			return id, true
		}
	}
	return "", false
}

// Get returns a run by id. Lookups do not change the eviction order.
func (h *History) Get(id string) (*Run, error) {
	r, ok := h.cache.Peek(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

// List returns runs, newest first.
func (h *History) List() []*Run {
	h.mu.Lock()
	defer h.mu.Unlock()

	res := make([]*Run, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		if r, ok := h.cache.Peek(h.order[i]); ok {
			res = append(res, r)
		}
	}
	return res
}

// Last returns the newest finished run or nil.
func (h *History) Last() *Run {
	for _, r := range h.List() {
		if r.GetStatus().Finished() {
			return r
		}
	}
	return nil
}

func (h *History) Len() int {
	return h.cache.Len()
}

// removeFromOrder is called by the cache under h.mu.
func (h *History) removeFromOrder(id string) {
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}
