package events

import (
	"fmt"

	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/routing"
)

// Handler applies dispatches to a cache and records guild ownership.
type Handler struct {
	cache  *cache.Cache
	routes *routing.Table
}

func NewHandler(c *cache.Cache, routes *routing.Table) *Handler {
	return &Handler{cache: c, routes: routes}
}

// Handle writes one dispatch into the cache and returns its enriched event.
// A cache contract error comes back together with the best-effort event;
// callers deliver the event and report the error.
func (h *Handler) Handle(shard int, name string, p cache.Patch) (Event, error) {
	ev := Event{Shard: shard, Name: name}
	if p == nil && name != Resumed {
		ev.Data = Raw{}
		if _, known := handlers[name]; known {
			return ev, fmt.Errorf("%w: %s body is not an object", ErrMalformedPayload, name)
		}
		return ev, nil
	}

	fn, ok := handlers[name]
	if !ok {
		ev.Data = Raw{Body: p}
		h.route(p.GuildID(), shard)
		return ev, nil
	}
	data, err := fn(h, shard, p)
	ev.Data = data
	if err != nil {
		return ev, fmt.Errorf("events: %s: %w", name, err)
	}
	return ev, nil
}

func (h *Handler) route(guildID string, shard int) {
	if h.routes != nil && guildID != "" {
		h.routes.Set(guildID, shard)
	}
}

// guildScope returns the guild id a sub-entity event is about, and routes it.
func (h *Handler) guildScope(shard int, p cache.Patch) (string, error) {
	gid := p.GuildID()
	if gid == "" {
		return "", ErrMissingGuildID
	}
	h.route(gid, shard)
	return gid, nil
}

type handlerFunc func(h *Handler, shard int, p cache.Patch) (any, error)

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		Ready:                     (*Handler).ready,
		Resumed:                   func(*Handler, int, cache.Patch) (any, error) { return ResumedData{}, nil },
		GuildCreate:               (*Handler).guildCreate,
		GuildUpdate:               (*Handler).guildUpdate,
		GuildDelete:               (*Handler).guildDelete,
		ChannelCreate:             channelCreate(cache.GuildStore.ChannelCreate),
		ChannelUpdate:             channelUpdate(cache.GuildStore.ChannelUpdate),
		ChannelDelete:             channelDelete(cache.GuildStore.ChannelDelete),
		ThreadCreate:              channelCreate(cache.GuildStore.ThreadCreate),
		ThreadUpdate:              channelUpdate(cache.GuildStore.ThreadUpdate),
		ThreadDelete:              channelDelete(cache.GuildStore.ThreadDelete),
		GuildRoleCreate:           (*Handler).roleCreate,
		GuildRoleUpdate:           (*Handler).roleUpdate,
		GuildRoleDelete:           (*Handler).roleDelete,
		GuildEmojisUpdate:         (*Handler).emojisUpdate,
		GuildStickersUpdate:       (*Handler).stickersUpdate,
		GuildMemberAdd:            (*Handler).memberAdd,
		GuildMemberUpdate:         (*Handler).memberUpdate,
		GuildMemberRemove:         (*Handler).memberRemove,
		GuildMembersChunk:         (*Handler).membersChunk,
		PresenceUpdate:            (*Handler).presenceUpdate,
		UserUpdate:                (*Handler).userUpdate,
		VoiceStateUpdate:          (*Handler).voiceStateUpdate,
		GuildScheduledEventCreate: (*Handler).scheduledEventCreate,
		GuildScheduledEventUpdate: (*Handler).scheduledEventUpdate,
		GuildScheduledEventDelete: (*Handler).scheduledEventDelete,
	}
}

func (h *Handler) ready(shard int, p cache.Patch) (any, error) {
	var data ReadyData
	data.SessionID, _ = p.String("session_id")
	if _, err := p.Decode("user", &data.User); err != nil {
		return data, err
	}
	if data.User.ID != "" {
		if _, err := h.cache.Users.Create(data.User); err != nil {
			return data, err
		}
	}
	var guilds []struct {
		ID string `json:"id"`
	}
	if _, err := p.Decode("guilds", &guilds); err != nil {
		return data, err
	}
	for _, g := range guilds {
		if g.ID == "" {
			continue
		}
		data.GuildIDs = append(data.GuildIDs, g.ID)
		h.cache.Unavailable.Mark(g.ID)
		h.route(g.ID, shard)
	}
	return data, nil
}

func (h *Handler) guildCreate(shard int, p cache.Patch) (any, error) {
	var g cache.Guild
	if err := p.Into(&g); err != nil {
		return Raw{Body: p}, err
	}
	if g.ID == "" {
		return Raw{Body: p}, cache.ErrInvalidKey
	}
	h.route(g.ID, shard)
	if g.Unavailable != nil && *g.Unavailable {
		h.cache.Unavailable.Mark(g.ID)
		return GuildCreated{Guild: g}, nil
	}

	var members []cache.Member
	if _, err := p.Decode("members", &members); err != nil {
		return GuildCreated{Guild: g}, err
	}
	var presences []cache.Presence
	if _, err := p.Decode("presences", &presences); err != nil {
		return GuildCreated{Guild: g}, err
	}

	stored, err := h.cache.Guilds.Create(g)
	if err != nil {
		return GuildCreated{Guild: g}, err
	}
	h.cache.Members.Chunk(g.ID, members)
	h.cache.Users.Bulk(memberUsers(members))
	h.cache.Presences.Bulk(g.ID, presences)
	recovered := h.cache.Unavailable.Clear(g.ID)
	return GuildCreated{Guild: stored, Recovered: recovered}, nil
}

func (h *Handler) guildUpdate(shard int, p cache.Patch) (any, error) {
	h.route(p.ID(), shard)
	old, updated, err := h.cache.Guilds.Update(p)
	return Updated[cache.Guild]{GuildID: p.ID(), Old: old, New: updated}, err
}

func (h *Handler) guildDelete(shard int, p cache.Patch) (any, error) {
	id := p.ID()
	if id == "" {
		return GuildDeleted{}, cache.ErrInvalidKey
	}
	var unavailable bool
	if _, err := p.Decode("unavailable", &unavailable); err != nil {
		return GuildDeleted{ID: id}, err
	}
	if unavailable {
		h.cache.Unavailable.Mark(id)
		h.route(id, shard)
		ev := GuildDeleted{ID: id, Unavailable: true}
		if g, err := h.cache.Guilds.Get(id); err == nil {
			ev.Old = &g
		}
		return ev, nil
	}
	ev := GuildDeleted{ID: id}
	if old, ok := h.cache.Guilds.Delete(id); ok {
		ev.Old = &old
	}
	h.cache.Members.DropGuild(id)
	h.cache.Presences.DropGuild(id)
	h.cache.Unavailable.Clear(id)
	return ev, nil
}

func channelCreate(create func(cache.GuildStore, string, cache.Channel) (cache.Channel, error)) handlerFunc {
	return func(h *Handler, shard int, p cache.Patch) (any, error) {
		var ch cache.Channel
		if err := p.Into(&ch); err != nil {
			return Raw{Body: p}, err
		}
		gid := p.GuildID()
		if gid == "" {
			// Direct message channels are not cached.
			return Created[cache.Channel]{Value: ch}, nil
		}
		h.route(gid, shard)
		stored, err := create(h.cache.Guilds, gid, ch)
		return Created[cache.Channel]{GuildID: gid, Value: stored}, err
	}
}

func channelUpdate(update func(cache.GuildStore, string, cache.Patch) (*cache.Channel, cache.Channel, error)) handlerFunc {
	return func(h *Handler, shard int, p cache.Patch) (any, error) {
		gid := p.GuildID()
		if gid == "" {
			var ch cache.Channel
			err := p.Into(&ch)
			return Updated[cache.Channel]{New: ch}, err
		}
		h.route(gid, shard)
		old, updated, err := update(h.cache.Guilds, gid, p)
		return Updated[cache.Channel]{GuildID: gid, Old: old, New: updated}, err
	}
}

func channelDelete(del func(cache.GuildStore, string, string) (cache.Channel, bool)) handlerFunc {
	return func(h *Handler, shard int, p cache.Patch) (any, error) {
		gid := p.GuildID()
		ev := Deleted[cache.Channel]{GuildID: gid, ID: p.ID()}
		if gid == "" {
			return ev, nil
		}
		h.route(gid, shard)
		if old, ok := del(h.cache.Guilds, gid, ev.ID); ok {
			ev.Old = &old
		}
		return ev, nil
	}
}

func (h *Handler) roleCreate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Created[cache.Role]{}, err
	}
	var r cache.Role
	if _, err := p.Decode("role", &r); err != nil {
		return Created[cache.Role]{GuildID: gid}, err
	}
	rc, err := h.cache.Guilds.RoleCreate(gid, r)
	if err != nil {
		return Created[cache.Role]{GuildID: gid, Value: r}, err
	}
	return Created[cache.Role]{GuildID: gid, Value: rc.New}, nil
}

func (h *Handler) roleUpdate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Updated[cache.Role]{}, err
	}
	raw, ok := p["role"]
	if !ok {
		return Updated[cache.Role]{GuildID: gid}, fmt.Errorf("%w: missing role", ErrMalformedPayload)
	}
	rp, err := cache.DecodePatch(raw)
	if err != nil {
		return Updated[cache.Role]{GuildID: gid}, err
	}
	rc, err := h.cache.Guilds.RoleUpdate(gid, rp)
	return Updated[cache.Role]{GuildID: gid, Old: rc.Old, New: rc.New}, err
}

func (h *Handler) roleDelete(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Deleted[cache.Role]{}, err
	}
	id, _ := p.String("role_id")
	ev := Deleted[cache.Role]{GuildID: gid, ID: id}
	if old, ok := h.cache.Guilds.RoleDelete(gid, id); ok {
		ev.Old = &old
	}
	return ev, nil
}

func (h *Handler) emojisUpdate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return ListUpdated[cache.Emoji]{}, err
	}
	var emojis []cache.Emoji
	if _, err := p.Decode("emojis", &emojis); err != nil {
		return ListUpdated[cache.Emoji]{GuildID: gid}, err
	}
	old, updated, err := h.cache.Guilds.EmojisUpdate(gid, emojis)
	return ListUpdated[cache.Emoji]{GuildID: gid, Old: old, New: updated}, err
}

func (h *Handler) stickersUpdate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return ListUpdated[cache.Sticker]{}, err
	}
	var stickers []cache.Sticker
	if _, err := p.Decode("stickers", &stickers); err != nil {
		return ListUpdated[cache.Sticker]{GuildID: gid}, err
	}
	old, updated, err := h.cache.Guilds.StickersUpdate(gid, stickers)
	return ListUpdated[cache.Sticker]{GuildID: gid, Old: old, New: updated}, err
}

func (h *Handler) memberAdd(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Created[cache.Member]{}, err
	}
	var m cache.Member
	if err := p.Without("guild_id").Into(&m); err != nil {
		return Created[cache.Member]{GuildID: gid}, err
	}
	stored, added, err := h.cache.Members.Add(gid, m)
	if err != nil {
		return Created[cache.Member]{GuildID: gid, Value: m}, err
	}
	h.cache.Users.Bulk(memberUsers([]cache.Member{stored}))
	if added {
		_, err = h.cache.Guilds.MemberCountDelta(gid, 1)
	}
	return Created[cache.Member]{GuildID: gid, Value: stored}, err
}

func (h *Handler) memberUpdate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Updated[cache.Member]{}, err
	}
	old, updated, err := h.cache.Members.Update(gid, p.Without("guild_id"))
	return Updated[cache.Member]{GuildID: gid, Old: old, New: updated}, err
}

func (h *Handler) memberRemove(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Deleted[cache.Member]{}, err
	}
	var user cache.User
	if _, err := p.Decode("user", &user); err != nil {
		return Deleted[cache.Member]{GuildID: gid}, err
	}
	ev := Deleted[cache.Member]{GuildID: gid, ID: user.ID}
	old, ok := h.cache.Members.Remove(gid, user.ID)
	if !ok {
		return ev, nil
	}
	ev.Old = &old
	h.cache.Presences.Delete(gid, user.ID)
	_, err = h.cache.Guilds.MemberCountDelta(gid, -1)
	return ev, err
}

func (h *Handler) membersChunk(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return MembersChunk{}, err
	}
	var chunk MembersChunk
	if err := p.Into(&chunk); err != nil {
		return MembersChunk{GuildID: gid}, err
	}
	var presences []cache.Presence
	if _, err := p.Decode("presences", &presences); err != nil {
		return chunk, err
	}
	h.cache.Members.Chunk(gid, chunk.Members)
	h.cache.Users.Bulk(memberUsers(chunk.Members))
	if len(presences) > 0 {
		h.cache.Presences.Bulk(gid, presences)
	}
	return chunk, nil
}

func (h *Handler) presenceUpdate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Updated[cache.Presence]{}, err
	}
	old, updated, err := h.cache.Presences.Update(gid, p)
	return Updated[cache.Presence]{GuildID: gid, Old: old, New: updated}, err
}

func (h *Handler) userUpdate(_ int, p cache.Patch) (any, error) {
	old, updated, err := h.cache.Users.Update(p)
	return Updated[cache.User]{Old: old, New: updated}, err
}

func (h *Handler) voiceStateUpdate(shard int, p cache.Patch) (any, error) {
	var vs cache.VoiceState
	if err := p.Into(&vs); err != nil {
		return VoiceStateChanged{}, err
	}
	gid := p.GuildID()
	if gid == "" {
		return VoiceStateChanged{State: vs}, nil
	}
	h.route(gid, shard)
	states, err := h.cache.Guilds.VoiceStateUpdate(gid, vs)
	return VoiceStateChanged{GuildID: gid, State: vs, States: states.States}, err
}

func (h *Handler) scheduledEventCreate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Created[cache.ScheduledEvent]{}, err
	}
	var se cache.ScheduledEvent
	if err := p.Into(&se); err != nil {
		return Created[cache.ScheduledEvent]{GuildID: gid}, err
	}
	stored, err := h.cache.Guilds.ScheduledEventCreate(gid, se)
	return Created[cache.ScheduledEvent]{GuildID: gid, Value: stored}, err
}

func (h *Handler) scheduledEventUpdate(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Updated[cache.ScheduledEvent]{}, err
	}
	old, updated, err := h.cache.Guilds.ScheduledEventUpdate(gid, p)
	return Updated[cache.ScheduledEvent]{GuildID: gid, Old: old, New: updated}, err
}

func (h *Handler) scheduledEventDelete(shard int, p cache.Patch) (any, error) {
	gid, err := h.guildScope(shard, p)
	if err != nil {
		return Deleted[cache.ScheduledEvent]{}, err
	}
	ev := Deleted[cache.ScheduledEvent]{GuildID: gid, ID: p.ID()}
	if old, ok := h.cache.Guilds.ScheduledEventDelete(gid, ev.ID); ok {
		ev.Old = &old
	}
	return ev, nil
}

func memberUsers(members []cache.Member) []cache.User {
	users := make([]cache.User, 0, len(members))
	for _, m := range members {
		if m.User != nil && m.User.ID != "" {
			users = append(users, *m.User)
		}
	}
	return users
}
