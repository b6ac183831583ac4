package weir

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// evictionStormThreshold is how many evictions a cache accumulates between
// CacheEvictionStorm warnings, so a cache running hot at capacity logs
// periodically instead of once per eviction.
const evictionStormThreshold = 64

// lruCache is a fixed-capacity, least-recently-used map, the primitive
// behind the route cache and URL parse cache. Any Set moves its
// key to most-recently-used; exceeding capacity evicts the least-recently-
// used entry.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	onEvict  func()
}

type lruEntry struct {
	key   string
	value interface{}
}

func newLRUCache(capacity int) *lruCache {
	if capacity < 1 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		ll:       list.New(),
		items:    map[string]*list.Element{},
	}
}

func (c *lruCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lruCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
			if c.onEvict != nil {
				c.onEvict()
			}
		}
	}
}

// setEvictHook installs fn to run every time Set evicts an entry. fn runs
// with the shard's lock held, so it must be cheap and must not call back
// into this lruCache.
func (c *lruCache) setEvictHook(fn func()) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = map[string]*list.Element{}
}

func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// shardedLRU splits an lruCache into N independently-locked shards, chosen
// by hashing the key with xxhash, to bound lock contention under concurrent
// traffic without changing the single-cache LRU semantics observed by a
// caller of one key.
type shardedLRU struct {
	shards []*lruCache
	mask   uint64
}

func newShardedLRU(capacity, shardCount int) *shardedLRU {
	if shardCount < 1 {
		shardCount = 1
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	perShard := capacity / n
	if perShard < 1 {
		perShard = 1
	}
	s := &shardedLRU{mask: uint64(n - 1)}
	for i := 0; i < n; i++ {
		s.shards = append(s.shards, newLRUCache(perShard))
	}
	return s
}

func (s *shardedLRU) shardFor(key string) *lruCache {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

func (s *shardedLRU) Get(key string) (interface{}, bool) {
	return s.shardFor(key).Get(key)
}

func (s *shardedLRU) Set(key string, value interface{}) {
	s.shardFor(key).Set(key, value)
}

func (s *shardedLRU) Clear() {
	for _, sh := range s.shards {
		sh.Clear()
	}
}

// setEvictHook installs fn on every shard.
func (s *shardedLRU) setEvictHook(fn func()) {
	for _, sh := range s.shards {
		sh.setEvictHook(fn)
	}
}

// routeCacheEntry is a cached route lookup result: a frozen (handler,
// params) pair. Multiple concurrent hits share the same instance, so its
// Params must never be returned to the params pool.
type routeCacheEntry struct {
	handler Handler
	params  Params
}

// RouteCache is the LRU route cache, keyed by "METHOD:path". It collapses
// concurrent misses for the same key into a single trie walk via
// singleflight, turning N redundant redos of the same lookup into one.
type RouteCache struct {
	cache     *shardedLRU
	group     singleflight.Group
	evictions int64
	logger    *Logger
}

// loadResult carries a RouteCache miss's outcome through singleflight's
// group.Do return value, the only channel a "follower" call (one that
// arrived while a "leader" was already loading the same key) actually
// observes. A closure-captured variable set inside load would stay zero for
// every follower, since singleflight never runs their copy of the closure.
type loadResult struct {
	entry   routeCacheEntry
	outcome LookupOutcome
}

// NewRouteCache returns a RouteCache with the given total capacity spread
// across shards.
func NewRouteCache(capacity int) *RouteCache {
	rc := &RouteCache{cache: newShardedLRU(capacity, 8)}
	rc.cache.setEvictHook(rc.recordEviction)
	return rc
}

// SetLogger attaches l so sustained eviction pressure gets reported. Called
// once by the owning Dispatcher; nil until then, so recordEviction tolerates
// a nil logger.
func (rc *RouteCache) SetLogger(l *Logger) {
	rc.logger = l
}

func (rc *RouteCache) recordEviction() {
	n := atomic.AddInt64(&rc.evictions, 1)
	if rc.logger != nil && n%evictionStormThreshold == 0 {
		rc.logger.CacheEvictionStorm("route", n)
	}
}

// Get returns the cached entry for key, if present.
func (rc *RouteCache) Get(key string) (routeCacheEntry, bool) {
	v, ok := rc.cache.Get(key)
	if !ok {
		return routeCacheEntry{}, false
	}
	return v.(routeCacheEntry), true
}

// GetOrLoad returns the cached entry for key, or computes it once via load
// (even under concurrent misses for the same key) and populates the cache.
// The returned LookupOutcome mirrors load's own outcome: only a Matched
// result is ever cached, so a MethodMismatch or NoMatch is recomputed on
// every call until a route is registered.
func (rc *RouteCache) GetOrLoad(key string, load func() (Handler, Params, LookupOutcome)) (routeCacheEntry, LookupOutcome) {
	if v, ok := rc.cache.Get(key); ok {
		return v.(routeCacheEntry), Matched
	}

	v, _, _ := rc.group.Do(key, func() (interface{}, error) {
		h, p, outcome := load()
		if outcome != Matched {
			return loadResult{outcome: outcome}, nil
		}
		entry := routeCacheEntry{handler: h, params: p}
		rc.cache.Set(key, entry)
		return loadResult{entry: entry, outcome: Matched}, nil
	})
	res := v.(loadResult)
	return res.entry, res.outcome
}

// Clear invalidates every cached entry. The Dispatcher calls this on every
// trie mutation it performs (AddRoute, MergeRouter, NestRouter).
func (rc *RouteCache) Clear() {
	rc.cache.Clear()
}

// urlParseEntry is one cached path/query split.
type urlParseEntry struct {
	Path  string
	Query string
}

// URLParseCache caches the path/query split of a raw URL, keyed by the raw
// URL string itself.
type URLParseCache struct {
	cache     *lruCache
	evictions int64
	logger    *Logger
}

// NewURLParseCache returns a URLParseCache with the given capacity.
func NewURLParseCache(capacity int) *URLParseCache {
	u := &URLParseCache{cache: newLRUCache(capacity)}
	u.cache.setEvictHook(u.recordEviction)
	return u
}

// SetLogger attaches l so sustained eviction pressure gets reported.
func (u *URLParseCache) SetLogger(l *Logger) {
	u.logger = l
}

func (u *URLParseCache) recordEviction() {
	n := atomic.AddInt64(&u.evictions, 1)
	if u.logger != nil && n%evictionStormThreshold == 0 {
		u.logger.CacheEvictionStorm("url parse", n)
	}
}

func (u *URLParseCache) Get(rawURL string) (urlParseEntry, bool) {
	v, ok := u.cache.Get(rawURL)
	if !ok {
		return urlParseEntry{}, false
	}
	return v.(urlParseEntry), true
}

func (u *URLParseCache) Set(rawURL string, entry urlParseEntry) {
	u.cache.Set(rawURL, entry)
}

func (u *URLParseCache) Clear() {
	u.cache.Clear()
}

// ExactRouteMap is a non-LRU hash map of purely-static routes, rebuilt from
// the Router's Routes() on every mutation.
type ExactRouteMap struct {
	mu sync.RWMutex
	m  map[string]Handler
}

// NewExactRouteMap returns an empty ExactRouteMap.
func NewExactRouteMap() *ExactRouteMap {
	return &ExactRouteMap{m: map[string]Handler{}}
}

func exactRouteKey(method, path string) string {
	return method + ":" + path
}

// Get returns the handler for a purely-static "METHOD:path" key.
func (e *ExactRouteMap) Get(method, path string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.m[exactRouteKey(method, path)]
	return h, ok
}

// Rebuild repopulates e from router, keeping only routes whose path has no
// param, wildcard, catch-all or pattern component.
func (e *ExactRouteMap) Rebuild(router *Router, resolve func(method, path string) (Handler, bool)) {
	m := map[string]Handler{}
	for _, rr := range router.Routes() {
		if !isPureStaticPath(rr.Path) {
			continue
		}
		if h, ok := resolve(rr.Method, rr.Path); ok {
			m[exactRouteKey(rr.Method, rr.Path)] = h
		}
	}

	e.mu.Lock()
	e.m = m
	e.mu.Unlock()
}

func isPureStaticPath(path string) bool {
	for _, seg := range segments(path) {
		kind, _ := classifySegment(seg, false)
		if kind != segStatic {
			return false
		}
	}
	return true
}

// ParamsPool is an object pool of empty Params: it supplies them to
// requests and reclaims them when the response terminates, skipping any
// Params still frozen and shared by the RouteCache.
type ParamsPool struct {
	pool sync.Pool
}

// NewParamsPool returns a ready ParamsPool.
func NewParamsPool() *ParamsPool {
	return &ParamsPool{
		pool: sync.Pool{New: func() interface{} { p := NewParams(); return &p }},
	}
}

// Get returns an empty, unfrozen Params from the pool.
func (pp *ParamsPool) Get() Params {
	p := pp.pool.Get().(*Params)
	return *p
}

// Release returns p to the pool when owned is true, meaning p was built
// fresh for this one request (a cache miss) rather than borrowed from a
// shared, frozen RouteCache entry. A borrowed Params is left alone: the
// cache still owns it and will hand it to future hits.
func (pp *ParamsPool) Release(p Params, owned bool) {
	if !owned {
		return
	}
	p.reset()
	pp.pool.Put(&p)
}
