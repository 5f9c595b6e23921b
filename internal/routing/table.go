// Package routing maps guild ids onto the shard whose session owns them.
//
// Entries are written by sessions as guild-scoped events arrive and read by
// the shard supervisor when a command must reach exactly one session. An
// owner only changes on a full reshard, so entries are never evicted.
package routing

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
)

const defaultStripes = 32

// Entry is one guild -> shard assignment.
type Entry struct {
	GuildID string `json:"guild_id"`
	ShardID int    `json:"shard_id"`
}

type stripe struct {
	mu     sync.RWMutex
	owners map[string]int
}

// Table is a concurrent guild -> shard lookup.
type Table struct {
	stripes []*stripe
}

func NewTable() *Table {
	return NewTableWithStripes(defaultStripes)
}

func NewTableWithStripes(n int) *Table {
	if n <= 0 {
		n = defaultStripes
	}
	t := &Table{stripes: make([]*stripe, n)}
	for i := range t.stripes {
		t.stripes[i] = &stripe{owners: make(map[string]int)}
	}
	return t
}

// Set records shardID as the owner of guildID. Blank ids are ignored.
func (t *Table) Set(guildID string, shardID int) {
	key := strings.TrimSpace(guildID)
	if key == "" || shardID < 0 {
		return
	}
	s := t.stripeFor(key)
	s.mu.Lock()
	s.owners[key] = shardID
	s.mu.Unlock()
}

// Get returns the owning shard for guildID.
func (t *Table) Get(guildID string) (int, bool) {
	key := strings.TrimSpace(guildID)
	s := t.stripeFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	shardID, ok := s.owners[key]
	return shardID, ok
}

func (t *Table) Len() int {
	n := 0
	for _, s := range t.stripes {
		s.mu.RLock()
		n += len(s.owners)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot copies every entry, ordered by guild id.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0)
	for _, s := range t.stripes {
		s.mu.RLock()
		for guildID, shardID := range s.owners {
			out = append(out, Entry{GuildID: guildID, ShardID: shardID})
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GuildID < out[j].GuildID
	})
	return out
}

func (t *Table) stripeFor(key string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return t.stripes[h.Sum32()%uint32(len(t.stripes))]
}
