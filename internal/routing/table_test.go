package routing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/shardline/internal/testutil/testlog"
)

func TestSetGet(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable()
	if _, ok := tbl.Get("100"); ok {
		t.Fatalf("expected empty table miss")
	}
	tbl.Set("100", 3)
	got, ok := tbl.Get("100")
	if !ok || got != 3 {
		t.Fatalf("get got=%d ok=%v", got, ok)
	}
	tbl.Set("100", 4)
	if got, _ := tbl.Get("100"); got != 4 {
		t.Fatalf("overwrite got=%d", got)
	}
}

func TestSetIgnoresBlankAndNegative(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable()
	tbl.Set("  ", 1)
	tbl.Set("200", -1)
	if tbl.Len() != 0 {
		t.Fatalf("expected no entries, got %d", tbl.Len())
	}
}

func TestSnapshotSorted(t *testing.T) {
	testlog.Start(t)
	tbl := NewTableWithStripes(4)
	tbl.Set("c", 2)
	tbl.Set("a", 0)
	tbl.Set("b", 1)
	snap := tbl.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len=%d", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].GuildID != want || snap[i].ShardID != i {
			t.Fatalf("snapshot[%d]=%+v", i, snap[i])
		}
	}
}

func TestConcurrentWriters(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable()
	var wg sync.WaitGroup
	for shard := 0; shard < 8; shard++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tbl.Set(fmt.Sprintf("g-%d-%d", shard, i), shard)
			}
		}(shard)
	}
	wg.Wait()
	if tbl.Len() != 8*200 {
		t.Fatalf("len=%d", tbl.Len())
	}
	if got, ok := tbl.Get("g-5-17"); !ok || got != 5 {
		t.Fatalf("lookup got=%d ok=%v", got, ok)
	}
}
