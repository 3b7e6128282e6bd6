package cache

import (
	"context"
	"sync"
	"time"
)

// Entry はキャッシュされたレスポンス。
type Entry struct {
	Body        []byte
	ContentType string
	Tags        []string
	expiresAt   time.Time
}

// HitObserver はページキャッシュのヒット率の計測フック。
type HitObserver interface {
	ObservePageCache(hit bool)
}

// PageCache は公開APIのレスポンスをパス単位で保持する。
// タグからパスへの索引を持ち、タグ単位で無効化できる。
type PageCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]*Entry
	byTag    map[string]map[string]struct{}
	observer HitObserver
	now      func() time.Time
	// Invalidateのたびに増える
	generation uint64
}

// NewPageCache はPageCacheを生成する。ttlが0以下の場合は期限なし。
func NewPageCache(ttl time.Duration, observer HitObserver) *PageCache {
	return &PageCache{
		ttl:      ttl,
		entries:  make(map[string]*Entry),
		byTag:    make(map[string]map[string]struct{}),
		observer: observer,
		now:      time.Now,
	}
}

// Get はパスに対応するエントリを返す。期限切れのエントリは破棄する。
func (c *PageCache) Get(path string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if ok && c.ttl > 0 && !c.now().Before(e.expiresAt) {
		c.removeLocked(path)
		ok = false
	}
	if c.observer != nil {
		c.observer.ObservePageCache(ok)
	}
	if !ok {
		return nil, false
	}
	return e, true
}

// Set はレスポンスを保存する。tagsのいずれかが無効化されると破棄される。
func (c *PageCache) Set(path string, body []byte, contentType string, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(path, body, contentType, tags)
}

// Generation は現在の無効化世代を返す。レスポンスを組み立てる前に取得し、SetIfCurrentに渡す。
func (c *PageCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfCurrent はgen以降に無効化がなかった場合だけレスポンスを保存する。
// 組み立て中に無効化された古いレスポンスは保存せずfalseを返す。
func (c *PageCache) SetIfCurrent(gen uint64, path string, body []byte, contentType string, tags ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.setLocked(path, body, contentType, tags)
	return true
}

func (c *PageCache) setLocked(path string, body []byte, contentType string, tags []string) {
	c.removeLocked(path)
	e := &Entry{
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
		Tags:        append([]string(nil), tags...),
	}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[path] = e
	for _, t := range tags {
		paths, ok := c.byTag[t]
		if !ok {
			paths = make(map[string]struct{})
			c.byTag[t] = paths
		}
		paths[path] = struct{}{}
	}
}

// Len は保持しているエントリ数を返す。
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate はsetに含まれるタグとパスのエントリを破棄する。
func (c *PageCache) Invalidate(_ context.Context, set Set) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	for _, t := range set.Tags {
		for p := range c.byTag[t] {
			c.removeLocked(p)
		}
		delete(c.byTag, t)
	}
	for _, p := range set.Paths {
		c.removeLocked(p)
	}
	return nil
}

func (c *PageCache) removeLocked(path string) {
	e, ok := c.entries[path]
	if !ok {
		return
	}
	delete(c.entries, path)
	for _, t := range e.Tags {
		if paths, ok := c.byTag[t]; ok {
			delete(paths, path)
			if len(paths) == 0 {
				delete(c.byTag, t)
			}
		}
	}
}
