package proxy

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// ExchangeRecord is the retained summary of one completed (or abandoned)
// exchange. History lives in memory only and is bounded by
// Config.HistorySize; nothing survives a restart.
type ExchangeRecord struct {
	ID             string    `json:"id"`
	Time           time.Time `json:"time"`
	Method         string    `json:"method"`
	URL            string    `json:"url"`
	Failure        string    `json:"failure"`
	UpstreamStatus int       `json:"upstreamStatus"` // 0 when the upstream was never reached
	ClientStatus   int       `json:"clientStatus"`   // 0 when no response was written
}

// history keeps the recent exchange records. The lru cache only decides
// which ID to evict next; the records live in their own map so that reads
// never promote entries and eviction stays strictly oldest-first.
type history struct {
	mu      sync.Mutex
	evictor *lru.Cache
	recs    map[string]ExchangeRecord
	order   []string // exchange IDs, oldest first
}

func newHistory(maxEntries int) *history {
	h := &history{recs: make(map[string]ExchangeRecord)}
	h.evictor = &lru.Cache{
		MaxEntries: maxEntries,
		// Runs under h.mu from add(); must not re-lock.
		OnEvicted: func(key lru.Key, _ any) {
			h.dropKey(key.(string))
		},
	}
	return h
}

func (h *history) dropKey(id string) {
	delete(h.recs, id)
	for i, k := range h.order {
		if k == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			return
		}
	}
}

func (h *history) add(rec ExchangeRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs[rec.ID] = rec
	h.order = append(h.order, rec.ID)
	h.evictor.Add(rec.ID, nil)
}

// records returns the retained exchanges, newest first.
func (h *history) records() []ExchangeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ExchangeRecord, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		if rec, ok := h.recs[h.order[i]]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (h *history) record(id string) (ExchangeRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.recs[id]
	return rec, ok
}
