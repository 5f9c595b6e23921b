// Package engine is the consumer-facing facade. It owns the cache, the
// routing table, the event dispatcher and the shard supervisor, and joins
// them: every session dispatch is written to the cache, enriched, and
// handed to subscribers in shard order.
package engine

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/cache/memory"
	"github.com/danmuck/shardline/internal/dispatch"
	"github.com/danmuck/shardline/internal/events"
	"github.com/danmuck/shardline/internal/observability"
	"github.com/danmuck/shardline/internal/protocol"
	"github.com/danmuck/shardline/internal/protocol/session"
	"github.com/danmuck/shardline/internal/routing"
	"github.com/danmuck/shardline/internal/shard"
	logs "github.com/danmuck/smplog"
)

var (
	ErrNotStarted     = errors.New("engine: not started")
	ErrAlreadyStarted = errors.New("engine: already started")
)

const DefaultPageSize = 100

// Config wires an Engine. Shard carries the supervisor settings; its Sink,
// Routes and Vocabulary are owned by the engine and overwritten on Start.
type Config struct {
	Shard shard.Config
	// Cache defaults to a shared-memory backend with Stripes stripes.
	Cache   *cache.Cache
	Stripes int
	// SubscriberBuffer is the default mailbox size for Subscribe.
	SubscriberBuffer int
}

type Engine struct {
	cfg        Config
	cache      *cache.Cache
	routes     *routing.Table
	vocab      *protocol.Vocabulary
	handler    *events.Handler
	dispatcher *dispatch.Dispatcher

	mu  sync.Mutex
	sup *shard.Supervisor
}

func New(cfg Config) *Engine {
	c := cfg.Cache
	if c == nil {
		if cfg.Stripes > 0 {
			c = memory.NewWithStripes(cfg.Stripes)
		} else {
			c = memory.New()
		}
	}
	routes := routing.NewTable()
	vocab := cfg.Shard.Vocabulary
	if vocab == nil {
		vocab = protocol.DefaultVocabulary()
	}
	return &Engine{
		cfg:        cfg,
		cache:      c,
		routes:     routes,
		vocab:      vocab,
		handler:    events.NewHandler(c, routes),
		dispatcher: dispatch.New(),
	}
}

// Start bootstraps and begins supervising sessions.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sup != nil {
		return ErrAlreadyStarted
	}
	cfg := e.cfg.Shard
	cfg.Sink = e
	cfg.Routes = e.routes
	cfg.Vocabulary = e.vocab
	sup, err := shard.Start(ctx, cfg)
	if err != nil {
		return err
	}
	e.sup = sup
	logs.Infof("engine.Engine.Start")
	return nil
}

// HandleDispatch is the session sink: cache write, then delivery. A cache
// error is logged and counted and the event is still delivered.
func (e *Engine) HandleDispatch(ctx context.Context, d session.Dispatch) error {
	ev, err := e.handler.Handle(d.ShardID, d.Name, d.Body)
	ev.Sequence = d.Sequence
	ev.Raw = d.Raw
	if err != nil {
		observability.RecordCacheError(d.Name)
		logs.Warnf("engine.Engine.HandleDispatch shard=%d seq=%d event=%s cache: %v", d.ShardID, d.Sequence, d.Name, err)
	}
	if _, err := e.dispatcher.Dispatch(ctx, ev); err != nil {
		return err
	}
	return nil
}

func (e *Engine) supervisor() (*shard.Supervisor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sup == nil {
		return nil, ErrNotStarted
	}
	return e.sup, nil
}

// Subscribe registers for one event name, or every event with
// dispatch.All.
func (e *Engine) Subscribe(name string) *dispatch.Subscription {
	return e.dispatcher.Subscribe(name, e.cfg.SubscriberBuffer)
}

// SetStatus broadcasts a presence to every shard.
func (e *Engine) SetStatus(ctx context.Context, status, activity, stream string, activityType int) error {
	sup, err := e.supervisor()
	if err != nil {
		return err
	}
	return sup.BroadcastStatus(ctx, protocol.NewStatusUpdate(status, activity, stream, activityType))
}

// SetVoiceState joins, moves or (nil channelID) leaves voice in a guild.
func (e *Engine) SetVoiceState(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error {
	sup, err := e.supervisor()
	if err != nil {
		return err
	}
	return sup.UpdateVoiceState(ctx, protocol.VoiceStateUpdate{
		GuildID:   guildID,
		ChannelID: channelID,
		SelfMute:  selfMute,
		SelfDeaf:  selfDeaf,
	})
}

func (e *Engine) RequestGuildMembers(ctx context.Context, req protocol.RequestGuildMembers) error {
	sup, err := e.supervisor()
	if err != nil {
		return err
	}
	return sup.RequestGuildMembers(ctx, req)
}

func (e *Engine) Connect(url string, num, total int) error {
	sup, err := e.supervisor()
	if err != nil {
		return err
	}
	return sup.Connect(url, num, total)
}

func (e *Engine) Disconnect(ctx context.Context, num int) (session.ResumeState, error) {
	sup, err := e.supervisor()
	if err != nil {
		return session.ResumeState{}, err
	}
	return sup.Disconnect(ctx, num)
}

func (e *Engine) Reconnect(rs session.ResumeState) error {
	sup, err := e.supervisor()
	if err != nil {
		return err
	}
	return sup.Reconnect(rs)
}

func (e *Engine) Guild(id string) (cache.Guild, error) { return e.cache.Guilds.Get(id) }

func (e *Engine) Member(guildID, userID string) (cache.Member, error) {
	return e.cache.Members.Get(guildID, userID)
}

func (e *Engine) User(id string) (cache.User, error) { return e.cache.Users.Get(id) }

func (e *Engine) Presence(guildID, userID string) (cache.Presence, error) {
	return e.cache.Presences.Get(guildID, userID)
}

// Guilds walks every cached guild lazily.
func (e *Engine) Guilds() iter.Seq2[string, cache.Guild] { return e.cache.Guilds.All() }

// GuildsPage returns up to limit guilds after the position encoded in
// token, and the token of the next page ("" once the walk is done).
func (e *Engine) GuildsPage(token string, limit int) ([]cache.Entry[cache.Guild], string, error) {
	pos, err := cache.ParsePosition(token)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	cur := e.cache.Guilds.Cursor()
	cur.Seek(pos)
	page, done := cur.Next(limit)
	if done {
		return page, "", nil
	}
	return page, cur.Position().String(), nil
}

// Unavailable lists guilds known to exist whose data has not arrived.
func (e *Engine) Unavailable() []string {
	var out []string
	for id := range e.cache.Unavailable.All() {
		out = append(out, id)
	}
	return out
}

func (e *Engine) Cache() *cache.Cache { return e.cache }

func (e *Engine) Routes() *routing.Table { return e.routes }

func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Started reports whether Start succeeded.
func (e *Engine) Started() bool {
	_, err := e.supervisor()
	return err == nil
}

// Shards lists running shards; empty before Start.
func (e *Engine) Shards() []shard.ShardStatus {
	sup, err := e.supervisor()
	if err != nil {
		return nil
	}
	return sup.Status()
}

// Fatal delivers a supervisor failure. Nil before Start.
func (e *Engine) Fatal() <-chan error {
	sup, err := e.supervisor()
	if err != nil {
		return nil
	}
	return sup.Fatal()
}

// Shutdown stops every session, then closes all subscriptions.
func (e *Engine) Shutdown(ctx context.Context) error {
	sup, err := e.supervisor()
	if err == nil {
		err = sup.Shutdown(ctx)
	} else if errors.Is(err, ErrNotStarted) {
		err = nil
	}
	e.dispatcher.Close()
	logs.Infof("engine.Engine.Shutdown err=%v", err)
	return err
}
