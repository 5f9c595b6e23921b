package memory

import (
	"iter"
	"sort"
	"sync"
)

// group is the per-guild bucket of a groupTable.
type group[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// groupTable stores values keyed by (group, key), e.g. (guild id, user id),
// with one lock per group so per-guild enumeration never scans other guilds.
type groupTable[V any] struct {
	groups *table[*group[V]]
}

func newGroupTable[V any](stripes int) *groupTable[V] {
	return &groupTable[V]{groups: newTable[*group[V]](stripes)}
}

func (t *groupTable[V]) lookup(groupID string) (*group[V], bool) {
	return t.groups.get(groupID)
}

func (t *groupTable[V]) ensure(groupID string) *group[V] {
	g, _ := t.groups.compute(groupID, func(cur *group[V], ok bool) (*group[V], computeAction, error) {
		if ok {
			return cur, keepValue, nil
		}
		return &group[V]{items: make(map[string]V)}, storeValue, nil
	})
	return g
}

func (t *groupTable[V]) get(groupID, key string) (V, bool) {
	g, ok := t.lookup(groupID)
	if !ok {
		var zero V
		return zero, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.items[key]
	return v, ok
}

func (t *groupTable[V]) put(groupID, key string, v V) {
	g := t.ensure(groupID)
	g.mu.Lock()
	g.items[key] = v
	g.mu.Unlock()
}

func (t *groupTable[V]) putAll(groupID string, values map[string]V) int {
	if len(values) == 0 {
		return 0
	}
	g := t.ensure(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, v := range values {
		g.items[k] = v
	}
	return len(values)
}

func (t *groupTable[V]) compute(groupID, key string, fn func(cur V, ok bool) (V, computeAction, error)) (V, error) {
	g := t.ensure(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.items[key]
	next, action, err := fn(cur, ok)
	if err != nil {
		return next, err
	}
	switch action {
	case storeValue:
		g.items[key] = next
	case deleteValue:
		delete(g.items, key)
	}
	return next, nil
}

func (t *groupTable[V]) remove(groupID, key string) (V, bool) {
	var zero V
	g, ok := t.lookup(groupID)
	if !ok {
		return zero, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.items[key]
	if !ok {
		return zero, false
	}
	delete(g.items, key)
	return v, true
}

func (t *groupTable[V]) dropGroup(groupID string) int {
	g, ok := t.groups.remove(groupID)
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

func (t *groupTable[V]) groupLen(groupID string) int {
	g, ok := t.lookup(groupID)
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

// each yields one group's entries in key order, pageSize keys per lock hold.
func (t *groupTable[V]) each(groupID string, pageSize int) iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		g, ok := t.lookup(groupID)
		if !ok {
			return
		}
		after := ""
		for {
			page := g.page(after, pageSize)
			for _, e := range page {
				if !yield(e.key, e.value) {
					return
				}
				after = e.key
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

type groupEntry[V any] struct {
	key   string
	value V
}

func (g *group[V]) page(after string, size int) []groupEntry[V] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.items))
	for k := range g.items {
		if k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > size {
		keys = keys[:size]
	}
	out := make([]groupEntry[V], 0, len(keys))
	for _, k := range keys {
		out = append(out, groupEntry[V]{key: k, value: g.items[k]})
	}
	return out
}
