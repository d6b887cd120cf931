package admission

import (
	"container/list"
	"sync"
	"time"

	"horse.fit/harvest/internal/globaltime"
)

const (
	DefaultCacheTTL      = time.Hour
	DefaultCacheCapacity = 1000
)

// Stats are the running counters of a filter State. Passed counts every passing verdict,
// cache-served ones included; FilteredByCache counts rejections served from the cache.
// InflightShared counts callers that joined a concurrent evaluation of the same URL
// instead of reading the cache; their rejections count under the deciding stage.
type Stats struct {
	Total             int64 `json:"total"`
	Passed            int64 `json:"passed"`
	FilteredByPattern int64 `json:"filtered_by_pattern"`
	FilteredByProbe   int64 `json:"filtered_by_probe"`
	FilteredByCache   int64 `json:"filtered_by_cache"`
	CacheHits         int64 `json:"cache_hits"`
	InflightShared    int64 `json:"inflight_shared"`
	CreditsSaved      int64 `json:"credits_saved"`
}

// Filtered is the number of rejections across stages.
func (s Stats) Filtered() int64 {
	return s.FilteredByPattern + s.FilteredByProbe + s.FilteredByCache
}

// StateOptions configures a State.
type StateOptions struct {
	TTL      time.Duration
	Capacity int
	Clock    func() time.Time
}

// State owns the verdict cache and the counters shared by every evaluation routed through
// it. Build one per process and hand it to each Filter.
type State struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time
	entries  map[string]*list.Element
	order    *list.List
	stats    Stats
}

type cacheEntry struct {
	url        string
	verdict    Verdict
	insertedAt time.Time
}

// NewState builds an empty State.
func NewState(opts StateOptions) *State {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	now := opts.Clock
	if now == nil {
		now = globaltime.Now
	}
	return &State{
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (s *State) lookup(url string) (Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[url]
	if !ok {
		return Verdict{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if s.now().Sub(entry.insertedAt) > s.ttl {
		s.order.Remove(elem)
		delete(s.entries, url)
		return Verdict{}, false
	}
	return entry.verdict, true
}

// store inserts or refreshes url, then evicts oldest-inserted entries beyond capacity.
func (s *State) store(url string, verdict Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[url]; ok {
		s.order.Remove(elem)
	}
	s.entries[url] = s.order.PushBack(&cacheEntry{url: url, verdict: verdict, insertedAt: s.now()})

	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*cacheEntry).url)
	}
}

func (s *State) recordDecision(v Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countDecision(v)
}

func (s *State) recordInflightShared(v Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.InflightShared++
	s.countDecision(v)
}

// countDecision must be called with mu held.
func (s *State) countDecision(v Verdict) {
	s.stats.Total++
	if v.Passed {
		s.stats.Passed++
		return
	}
	switch v.Stage {
	case StageProbe:
		s.stats.FilteredByProbe++
	default:
		s.stats.FilteredByPattern++
	}
	s.stats.CreditsSaved++
}

func (s *State) recordCacheHit(v Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Total++
	s.stats.CacheHits++
	if v.Passed {
		s.stats.Passed++
	} else {
		s.stats.FilteredByCache++
	}
}

// Stats returns a snapshot of the counters.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// CacheSize is the number of live and not-yet-collected entries.
func (s *State) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Reset zeroes the counters. The cache is left intact.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Stats{}
}

// ClearCache drops every cached verdict.
func (s *State) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
}
