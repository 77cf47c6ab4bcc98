package github

import "sync"

// defaultETagEntries bounds the cache. Only job listings are stored; one
// entry per page of each open run.
const defaultETagEntries = 1024

type etagEntry struct {
	etag string
	body []byte
}

// etagCache maps request URLs to the ETag and body of their last 200
// response. A conditional GET answered with 304 is served from here and
// does not count against the rate limit.
//
// When full, the oldest inserted URL is evicted.
type etagCache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]etagEntry
	order   []string
}

func newETagCache(limit int) *etagCache {
	return &etagCache{limit: limit, entries: make(map[string]etagEntry)}
}

// get returns the cached ETag for url, or "".
func (cache *etagCache) get(url string) string {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.entries[url].etag
}

// body returns the cached body for url, or nil.
func (cache *etagCache) body(url string) []byte {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.entries[url].body
}

func (cache *etagCache) put(url, etag string, body []byte) {
	if etag == "" {
		return
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if _, ok := cache.entries[url]; !ok {
		cache.order = append(cache.order, url)
		for len(cache.order) > cache.limit {
			delete(cache.entries, cache.order[0])
			cache.order = cache.order[1:]
		}
	}
	cache.entries[url] = etagEntry{etag: etag, body: body}
}

func (cache *etagCache) len() int {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return len(cache.entries)
}
