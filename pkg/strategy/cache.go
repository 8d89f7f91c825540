package strategy

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"mercator-hq/janus/pkg/providers"
)

// Fingerprint derives a stable cache key for a request from its virtual
// model and message content. Sampling parameters are excluded so a retried
// request with a tweaked temperature still hits.
func Fingerprint(vmID string, req *providers.CompletionRequest) string {
	h := sha256.New()
	h.Write([]byte(vmID))
	h.Write([]byte{0})
	h.Write([]byte(req.Model))
	for _, m := range req.Messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	for _, t := range req.Tools {
		raw, _ := json.Marshal(t)
		h.Write([]byte{0})
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// responseCache is a bounded LRU of successful responses keyed by request
// fingerprint.
type responseCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key  string
	resp *providers.CompletionResponse
}

func newResponseCache(maxSize int) *responseCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &responseCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *responseCache) Put(key string, resp *providers.CompletionResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).resp = resp
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, resp: resp})
	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *responseCache) Get(key string) (*providers.CompletionResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).resp, true
}
