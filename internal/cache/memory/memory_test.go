package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func seedGuild(t *testing.T, s *Guilds) cache.Guild {
	t.Helper()
	count := 40
	g := cache.Guild{
		ID:          "100",
		Name:        "guild",
		Icon:        strptr("icon-hash"),
		MemberCount: &count,
		Channels: cache.NewIDMap([]cache.Channel{
			{ID: "1", Name: strptr("general")},
			{ID: "2", Name: strptr("random")},
		}),
	}
	if _, err := s.Create(g); err != nil {
		t.Fatalf("create guild: %v", err)
	}
	return g
}

func TestGuildCreateGetRoundTrip(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	g := seedGuild(t, s)
	got, err := s.Get(g.ID)
	require.NoError(t, err)
	require.Equal(t, g, got)
}

func TestGuildCreateReplacesExisting(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)
	_, err := s.Create(cache.Guild{ID: "100", Name: "fresh"})
	require.NoError(t, err)
	got, err := s.Get("100")
	require.NoError(t, err)
	require.Equal(t, "fresh", got.Name)
	require.Nil(t, got.MemberCount)
	require.Nil(t, got.Channels)
}

func TestGuildUpdateKeepsOmittedSessionField(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)

	p, err := cache.DecodePatch([]byte(`{"id":"100","name":"renamed"}`))
	require.NoError(t, err)
	old, updated, err := s.Update(p)
	require.NoError(t, err)
	require.NotNil(t, old)
	require.Equal(t, "guild", old.Name)
	require.Equal(t, "renamed", updated.Name)
	require.NotNil(t, updated.MemberCount)
	require.Equal(t, 40, *updated.MemberCount)
	require.Len(t, updated.Channels, 2)
}

func TestGuildUpdateStoresExplicitNull(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)

	p, err := cache.DecodePatch([]byte(`{"id":"100","icon":null,"member_count":null}`))
	require.NoError(t, err)
	old, updated, err := s.Update(p)
	require.NoError(t, err)
	require.Nil(t, updated.Icon)
	require.NotNil(t, updated.MemberCount, "session-scoped null must not clear")
	require.NotNil(t, old.Icon)
	require.Equal(t, "icon-hash", *old.Icon)

	got, err := s.Get("100")
	require.NoError(t, err)
	require.Nil(t, got.Icon)
}

func TestGuildUpdateMissingIsNotFound(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	p, err := cache.DecodePatch([]byte(`{"id":"404","name":"x"}`))
	require.NoError(t, err)
	_, _, err = s.Update(p)
	if !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = s.ChannelCreate("404", cache.Channel{ID: "1"})
	if !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for channel create, got %v", err)
	}
}

func TestGuildDeleteIsIdempotent(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	g := seedGuild(t, s)

	if _, ok := s.Delete("nope"); ok {
		t.Fatalf("expected no-op delete for absent guild")
	}
	old, ok := s.Delete(g.ID)
	if !ok {
		t.Fatalf("expected delete to report removal")
	}
	require.Equal(t, g, old)
	if _, err := s.Get(g.ID); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, ok := s.Delete(g.ID); ok {
		t.Fatalf("expected second delete to be a no-op")
	}
}

func TestChannelCreateLeavesPublishedSnapshotIntact(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)
	before, err := s.Get("100")
	require.NoError(t, err)

	_, err = s.ChannelCreate("100", cache.Channel{ID: "3", Name: strptr("new")})
	require.NoError(t, err)

	after, err := s.Get("100")
	require.NoError(t, err)
	require.Len(t, before.Channels, 2)
	require.Len(t, after.Channels, 3)
}

func TestChannelUpdateAndDelete(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)

	p, err := cache.DecodePatch([]byte(`{"id":"1","name":"lobby","topic":"hi"}`))
	require.NoError(t, err)
	old, updated, err := s.ChannelUpdate("100", p)
	require.NoError(t, err)
	require.NotNil(t, old)
	require.Equal(t, "general", *old.Name)
	require.Equal(t, "lobby", *updated.Name)
	require.Equal(t, "hi", *updated.Topic)

	removed, ok := s.ChannelDelete("100", "1")
	require.True(t, ok)
	require.Equal(t, "lobby", *removed.Name)
	_, ok = s.ChannelDelete("100", "1")
	require.False(t, ok)
	_, ok = s.ChannelDelete("missing-guild", "1")
	require.False(t, ok)
}

func TestRoleCreateUpdateDelete(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)

	change, err := s.RoleCreate("100", cache.Role{ID: "r1", Name: "mod"})
	require.NoError(t, err)
	require.Nil(t, change.Old)
	require.Equal(t, "100", change.GuildID)

	p, err := cache.DecodePatch([]byte(`{"id":"r1","name":"admin","color":7}`))
	require.NoError(t, err)
	change, err = s.RoleUpdate("100", p)
	require.NoError(t, err)
	require.NotNil(t, change.Old)
	require.Equal(t, "mod", change.Old.Name)
	require.Equal(t, "admin", change.New.Name)
	require.Equal(t, 7, change.New.Color)

	old, ok := s.RoleDelete("100", "r1")
	require.True(t, ok)
	require.Equal(t, "admin", old.Name)
}

func TestVoiceStateUpdateRemovesAndReplaces(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)

	_, err := s.VoiceStateUpdate("100", cache.VoiceState{UserID: "u1", ChannelID: strptr("1")})
	require.NoError(t, err)
	_, err = s.VoiceStateUpdate("100", cache.VoiceState{UserID: "u2", ChannelID: strptr("1")})
	require.NoError(t, err)

	res, err := s.VoiceStateUpdate("100", cache.VoiceState{UserID: "u1", ChannelID: strptr("2"), SelfMute: true})
	require.NoError(t, err)
	require.Len(t, res.States, 2)
	require.Equal(t, "u1", res.States[0].UserID)
	require.Equal(t, "2", *res.States[0].ChannelID)
	require.True(t, res.States[0].SelfMute)
	require.Equal(t, "1", *res.States[1].ChannelID)

	res, err = s.VoiceStateUpdate("100", cache.VoiceState{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "100", res.GuildID)
	require.Len(t, res.States, 1)
	require.Equal(t, "u2", res.States[0].UserID)
}

func TestMemberCountDeltaClampsAtZero(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)
	n, err := s.MemberCountDelta("100", 1)
	require.NoError(t, err)
	require.Equal(t, 41, n)
	n, err = s.MemberCountDelta("100", -100)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestEmojisUpdateReplacesSet(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(4)
	seedGuild(t, s)
	_, _, err := s.EmojisUpdate("100", []cache.Emoji{{ID: "e1"}, {ID: "e2"}})
	require.NoError(t, err)
	old, updated, err := s.EmojisUpdate("100", []cache.Emoji{{ID: "e3"}})
	require.NoError(t, err)
	require.Len(t, old, 2)
	require.Len(t, updated, 1)
	require.Equal(t, "e3", updated[0].ID)
}

func TestMembersUpdateMergesByUser(t *testing.T) {
	testlog.Start(t)

	s := NewMembers(4)
	_, added, err := s.Add("g", cache.Member{User: &cache.User{ID: "u"}, Nick: strptr("a"), Roles: []string{"r1"}})
	require.NoError(t, err)
	require.True(t, added)
	stored, added, err := s.Add("g", cache.Member{User: &cache.User{ID: "u"}, Nick: strptr("a"), Roles: []string{"r1"}})
	require.NoError(t, err)
	if added {
		t.Fatalf("expected a repeated add to report an existing member")
	}
	require.Equal(t, "a", *stored.Nick)
	require.Equal(t, 1, s.Len("g"))

	p, err := cache.DecodePatch([]byte(`{"guild_id":"g","user":{"id":"u","username":"name"},"nick":null}`))
	require.NoError(t, err)
	old, updated, err := s.Update("g", p)
	require.NoError(t, err)
	require.NotNil(t, old)
	require.Equal(t, "a", *old.Nick)
	require.Nil(t, updated.Nick)
	require.Equal(t, []string{"r1"}, updated.Roles)
	require.Equal(t, "name", updated.User.Username)

	_, ok := s.Remove("g", "u")
	require.True(t, ok)
	_, ok = s.Remove("g", "u")
	require.False(t, ok)

	_, _, err = s.Update("g", cache.Patch{})
	require.ErrorIs(t, err, cache.ErrInvalidKey)
}

func TestMembersChunkAndByGuild(t *testing.T) {
	testlog.Start(t)

	s := NewMembers(4)
	members := make([]cache.Member, 0, 600)
	for i := range 600 {
		members = append(members, cache.Member{User: &cache.User{ID: fmt.Sprintf("u%04d", i)}})
	}
	require.Equal(t, 600, s.Chunk("g", members))
	require.Equal(t, 600, s.Len("g"))

	seen := make(map[string]bool)
	last := ""
	for id := range s.ByGuild("g") {
		if seen[id] {
			t.Fatalf("duplicate member %s", id)
		}
		if id <= last {
			t.Fatalf("out of order: %s after %s", id, last)
		}
		seen[id] = true
		last = id
	}
	require.Len(t, seen, 600)
	require.Equal(t, 600, s.DropGuild("g"))
	require.Equal(t, 0, s.Len("g"))
}

func TestPresenceUpdateCreatesUnseen(t *testing.T) {
	testlog.Start(t)

	s := NewPresences(4)
	p, err := cache.DecodePatch([]byte(`{"user":{"id":"u"},"guild_id":"g","status":"online","activities":[]}`))
	require.NoError(t, err)
	old, updated, err := s.Update("g", p)
	require.NoError(t, err)
	require.Nil(t, old)
	require.Equal(t, "online", updated.Status)

	got, err := s.Get("g", "u")
	require.NoError(t, err)
	require.Equal(t, updated, got)
}

func TestUnavailableMarkers(t *testing.T) {
	testlog.Start(t)

	s := NewUnavailable(2)
	s.Mark("a")
	s.Mark("b")
	s.Mark("")
	require.True(t, s.Has("a"))
	require.Equal(t, 2, s.Len())

	var ids []string
	for id := range s.All() {
		ids = append(ids, id)
	}
	require.ElementsMatch(t, []string{"a", "b"}, ids)
	require.True(t, s.Clear("a"))
	require.False(t, s.Clear("a"))
}

func TestCursorYieldsEveryEntryOnce(t *testing.T) {
	testlog.Start(t)

	s := NewUsers(8)
	for i := range 1000 {
		_, err := s.Create(cache.User{ID: fmt.Sprintf("%d", i)})
		require.NoError(t, err)
	}

	for _, limit := range []int{1, 7, 64, 1000, 5000} {
		cur := s.Cursor()
		seen := make(map[string]int)
		for {
			page, done := cur.Next(limit)
			if len(page) > limit {
				t.Fatalf("page of %d exceeds limit %d", len(page), limit)
			}
			for _, e := range page {
				seen[e.Key]++
			}
			if done {
				break
			}
		}
		require.Len(t, seen, 1000, "limit %d", limit)
		for k, n := range seen {
			if n != 1 {
				t.Fatalf("limit %d: key %s yielded %d times", limit, k, n)
			}
		}

		cur.Reset()
		page, _ := cur.Next(1)
		require.Len(t, page, 1)
	}
}

func TestCursorResumesFromPosition(t *testing.T) {
	testlog.Start(t)

	s := NewUsers(4)
	for i := range 50 {
		_, err := s.Create(cache.User{ID: fmt.Sprintf("%02d", i)})
		require.NoError(t, err)
	}
	first := s.Cursor()
	page, done := first.Next(20)
	require.False(t, done)
	seen := make(map[string]bool)
	for _, e := range page {
		seen[e.Key] = true
	}

	token := first.Position().String()
	pos, err := cache.ParsePosition(token)
	require.NoError(t, err)
	second := s.Cursor()
	second.Seek(pos)
	for {
		page, done := second.Next(20)
		for _, e := range page {
			if seen[e.Key] {
				t.Fatalf("key %s yielded twice across resume", e.Key)
			}
			seen[e.Key] = true
		}
		if done {
			break
		}
	}
	require.Len(t, seen, 50)
}

func TestAllIsRestartable(t *testing.T) {
	testlog.Start(t)

	c := NewWithStripes(4)
	for i := range 10 {
		_, err := c.Guilds.Create(cache.Guild{ID: fmt.Sprintf("g%d", i)})
		require.NoError(t, err)
	}
	all := c.Guilds.All()
	count := func() int {
		n := 0
		for range all {
			n++
		}
		return n
	}
	require.Equal(t, 10, count())
	require.Equal(t, 10, count())

	n := 0
	for range all {
		n++
		if n == 3 {
			break
		}
	}
	require.Equal(t, 3, n)
}

func TestConcurrentWritersOnDistinctGuilds(t *testing.T) {
	testlog.Start(t)

	s := NewGuilds(16)
	for i := range 8 {
		_, err := s.Create(cache.Guild{ID: fmt.Sprintf("g%d", i)})
		require.NoError(t, err)
	}
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := range 100 {
				if _, err := s.ChannelCreate(id, cache.Channel{ID: fmt.Sprintf("c%d", j)}); err != nil {
					t.Errorf("channel create: %v", err)
					return
				}
			}
		}(fmt.Sprintf("g%d", i))
	}
	wg.Wait()
	for i := range 8 {
		g, err := s.Get(fmt.Sprintf("g%d", i))
		require.NoError(t, err)
		require.Len(t, g.Channels, 100)
	}
}
