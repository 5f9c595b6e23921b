package memory

import (
	"hash/maphash"
	"sort"
	"sync"

	"github.com/danmuck/shardline/internal/cache"
)

// DefaultStripes is the lock-stripe count of every table.
const DefaultStripes = 64

var seed = maphash.MakeSeed()

type stripe[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// table is a map split across independently locked stripes. A compute on
// one key holds only that key's stripe, and only for the one operation.
type table[V any] struct {
	stripes []*stripe[V]
}

func newTable[V any](n int) *table[V] {
	if n <= 0 {
		n = DefaultStripes
	}
	t := &table[V]{stripes: make([]*stripe[V], n)}
	for i := range t.stripes {
		t.stripes[i] = &stripe[V]{items: make(map[string]V)}
	}
	return t
}

func (t *table[V]) stripeFor(key string) *stripe[V] {
	return t.stripes[maphash.String(seed, key)%uint64(len(t.stripes))]
}

func (t *table[V]) get(key string) (V, bool) {
	s := t.stripeFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (t *table[V]) put(key string, v V) {
	s := t.stripeFor(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

func (t *table[V]) remove(key string) (V, bool) {
	s := t.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// computeAction tells compute what to do with the value fn produced.
type computeAction int

const (
	keepValue computeAction = iota
	storeValue
	deleteValue
)

// compute runs fn under the key's stripe lock. fn sees the current value and
// decides whether to store, delete or leave it.
func (t *table[V]) compute(key string, fn func(cur V, ok bool) (V, computeAction, error)) (V, error) {
	s := t.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[key]
	next, action, err := fn(cur, ok)
	if err != nil {
		return next, err
	}
	switch action {
	case storeValue:
		s.items[key] = next
	case deleteValue:
		delete(s.items, key)
	}
	return next, nil
}

func (t *table[V]) len() int {
	n := 0
	for _, s := range t.stripes {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

func (t *table[V]) cursor() cache.Cursor[V] {
	return &tableCursor[V]{t: t}
}

// tableCursor walks stripes in index order and keys in sorted order inside
// a stripe, so a Position stays meaningful across calls.
type tableCursor[V any] struct {
	t   *table[V]
	pos cache.Position
}

func (c *tableCursor[V]) Next(limit int) ([]cache.Entry[V], bool) {
	if limit <= 0 {
		limit = 1
	}
	out := make([]cache.Entry[V], 0, limit)
	for c.pos.Stripe < len(c.t.stripes) {
		s := c.t.stripes[c.pos.Stripe]
		s.mu.RLock()
		keys := make([]string, 0, len(s.items))
		for k := range s.items {
			if k > c.pos.After {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		taken := 0
		for _, k := range keys {
			if len(out) == limit {
				break
			}
			out = append(out, cache.Entry[V]{Key: k, Value: s.items[k]})
			c.pos.After = k
			taken++
		}
		s.mu.RUnlock()
		if taken < len(keys) {
			return out, false
		}
		c.advance()
		if len(out) == limit {
			return out, c.pos.Stripe >= len(c.t.stripes)
		}
	}
	return out, true
}

func (c *tableCursor[V]) advance() {
	c.pos.Stripe++
	c.pos.After = ""
}

func (c *tableCursor[V]) Position() cache.Position { return c.pos }

func (c *tableCursor[V]) Seek(p cache.Position) { c.pos = p }

func (c *tableCursor[V]) Reset() { c.pos = cache.Position{} }
