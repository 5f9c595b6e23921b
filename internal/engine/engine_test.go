package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/dispatch"
	"github.com/danmuck/shardline/internal/events"
	"github.com/danmuck/shardline/internal/gateway"
	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/session"
	"github.com/danmuck/shardline/internal/shard"
	"github.com/danmuck/shardline/internal/testutil/gatewaytest"
	"github.com/danmuck/shardline/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestChannelCreateReachesCacheAndSubscriber(t *testing.T) {
	testlog.Start(t)
	gw := gatewaytest.New()
	e := newEngine(t, gw, shard.Count(1))
	sub := e.Subscribe(events.ChannelCreate)
	all := e.Subscribe(dispatch.All)

	require.NoError(t, e.Start(context.Background()))
	c := gw.Accept(t)
	c.Hello(t, time.Hour)
	c.Expect(t, protocol.OpIdentify)
	c.SendReady(t, 1, "sess-1", "wss://resume.test", "g1")
	c.Dispatch(t, 2, events.GuildCreate, map[string]any{
		"id":       "g1",
		"name":     "guild one",
		"owner_id": "u1",
		"channels": []map[string]any{
			{"id": "c1", "type": 0, "name": "general"},
			{"id": "c2", "type": 2, "name": "voice"},
		},
		"members": []map[string]any{
			{"user": map[string]any{"id": "u1", "username": "owner"}, "roles": []string{}},
		},
	})
	c.Dispatch(t, 41, events.ChannelCreate, map[string]any{
		"id": "c3", "guild_id": "g1", "type": 0, "name": "new",
	})

	select {
	case ev := <-sub.Events():
		require.Equal(t, events.ChannelCreate, ev.Name)
		require.Equal(t, int64(41), ev.Sequence)
		require.Equal(t, "g1", ev.GuildID())
		created, ok := ev.Data.(events.Created[cache.Channel])
		require.True(t, ok, "unexpected payload %T", ev.Data)
		require.Equal(t, "c3", created.Value.ID)
	case <-time.After(3 * time.Second):
		t.Fatalf("no CHANNEL_CREATE delivered")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event %s", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}

	g, err := e.Guild("g1")
	require.NoError(t, err)
	require.Len(t, g.Channels, 3)

	waitFor(t, "sequence 41", func() bool {
		st := e.Shards()
		return len(st) == 1 && st[0].LastSequence == 41
	})

	owner, ok := e.Routes().Get("g1")
	require.True(t, ok)
	require.Equal(t, 0, owner)

	_, err = e.Member("g1", "u1")
	require.NoError(t, err)
	_, err = e.User("u1")
	require.NoError(t, err)
	require.Empty(t, e.Unavailable())

	names := drain(all, 3)
	require.Equal(t, []string{protocol.EventReady, events.GuildCreate, events.ChannelCreate}, names)
}

func TestCacheErrorStillDelivers(t *testing.T) {
	testlog.Start(t)
	e := New(Config{Stripes: 4})
	sub := e.Subscribe(dispatch.All)

	body, err := cache.PatchOf(map[string]any{"id": "c9", "guild_id": "missing", "name": "x"})
	require.NoError(t, err)
	require.NoError(t, e.HandleDispatch(context.Background(), session.Dispatch{
		ShardID: 0, Sequence: 3, Name: events.ChannelUpdate, Body: body,
	}))

	ev := <-sub.Events()
	require.Equal(t, events.ChannelUpdate, ev.Name)
	require.Equal(t, int64(3), ev.Sequence)
}

func TestCommandsBeforeStart(t *testing.T) {
	testlog.Start(t)
	e := New(Config{})
	ctx := context.Background()
	if err := e.SetStatus(ctx, "online", "", "", 0); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := e.SetVoiceState(ctx, "g1", nil, false, false); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	require.Empty(t, e.Shards())
	require.Nil(t, e.Fatal())
	require.False(t, e.Started())
	require.NoError(t, e.Shutdown(ctx))
}

func TestSetVoiceStateRoutesThroughOwner(t *testing.T) {
	testlog.Start(t)
	gw := gatewaytest.New()
	e := newEngine(t, gw, shard.Count(1))
	require.NoError(t, e.Start(context.Background()))
	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	c := gw.Accept(t)
	c.Hello(t, time.Hour)
	c.Expect(t, protocol.OpIdentify)
	c.SendReady(t, 1, "sess-1", "wss://resume.test", "g1")
	waitFor(t, "ready", func() bool {
		st := e.Shards()
		return len(st) == 1 && st[0].State == session.StateReady.String()
	})
	require.Equal(t, []string{"g1"}, e.Unavailable())

	channel := "v1"
	require.NoError(t, e.SetVoiceState(context.Background(), "g1", &channel, true, false))
	var vs protocol.VoiceStateUpdate
	gatewaytest.DecodeBody(t, c.Expect(t, protocol.OpVoiceStateUpdate), &vs)
	require.Equal(t, "g1", vs.GuildID)
	require.True(t, vs.SelfMute)

	err := e.SetVoiceState(context.Background(), "elsewhere", nil, false, false)
	require.ErrorIs(t, err, shard.ErrGuildNotRoutable)

	require.NoError(t, e.SetStatus(context.Background(), "idle", "tests", "", 0))
	var su protocol.StatusUpdate
	gatewaytest.DecodeBody(t, c.Expect(t, protocol.OpPresenceUpdate), &su)
	require.Equal(t, "idle", su.Status)
	require.Len(t, su.Activities, 1)
}

func TestGuildsPageWalksEveryGuild(t *testing.T) {
	testlog.Start(t)
	e := New(Config{Stripes: 4})
	for _, id := range []string{"g1", "g2", "g3", "g4", "g5"} {
		_, err := e.Cache().Guilds.Create(cache.Guild{ID: id, Name: id})
		require.NoError(t, err)
	}

	seen := map[string]int{}
	token := ""
	for pages := 0; pages < 20; pages++ {
		page, next, err := e.GuildsPage(token, 2)
		require.NoError(t, err)
		for _, entry := range page {
			seen[entry.Key]++
		}
		if next == "" {
			break
		}
		token = next
	}
	require.Len(t, seen, 5)
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("guild %s seen %d times", id, n)
		}
	}

	count := 0
	for range e.Guilds() {
		count++
	}
	require.Equal(t, 5, count)

	_, _, err := e.GuildsPage("garbage", 2)
	require.ErrorIs(t, err, cache.ErrInvalidPosition)
}

func newEngine(t *testing.T, gw *gatewaytest.Gateway, spec shard.Spec) *Engine {
	t.Helper()
	scfg := session.DefaultConfig()
	scfg.Token = "tok"
	scfg.Backoff = session.BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1, MaxDelay: 5 * time.Millisecond}

	cfg := shard.DefaultConfig()
	cfg.Spec = spec
	cfg.Bootstrapper = gateway.Static{URL: "wss://gateway.test", Shards: 1}
	cfg.Dialer = gw.Dialer()
	cfg.Session = scfg
	cfg.SpawnInterval = 0

	e := New(Config{Shard: cfg, Stripes: 4})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return e
}

func drain(sub *dispatch.Subscription, n int) []string {
	var out []string
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case ev := <-sub.Events():
			out = append(out, ev.Name)
		case <-timeout:
			return out
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
