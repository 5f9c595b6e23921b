package memory

import (
	"iter"
	"strings"

	"github.com/danmuck/shardline/internal/cache"
)

const familyGuild = "guild"

// Guilds is the shared-memory GuildStore.
type Guilds struct {
	t *table[cache.Guild]
}

var _ cache.GuildStore = (*Guilds)(nil)

func NewGuilds(stripes int) *Guilds {
	return &Guilds{t: newTable[cache.Guild](stripes)}
}

func (s *Guilds) Get(id string) (cache.Guild, error) {
	g, ok := s.t.get(id)
	if !ok {
		return cache.Guild{}, cache.NotFound(familyGuild, id)
	}
	return g, nil
}

func (s *Guilds) Create(g cache.Guild) (cache.Guild, error) {
	if strings.TrimSpace(g.ID) == "" {
		return cache.Guild{}, cache.ErrInvalidKey
	}
	s.t.put(g.ID, g)
	return g, nil
}

func (s *Guilds) Update(p cache.Patch) (*cache.Guild, cache.Guild, error) {
	id := p.ID()
	if id == "" {
		return nil, cache.Guild{}, cache.ErrInvalidKey
	}
	var old cache.Guild
	updated, err := s.t.compute(id, func(cur cache.Guild, ok bool) (cache.Guild, computeAction, error) {
		if !ok {
			return cur, keepValue, cache.NotFound(familyGuild, id)
		}
		old = cur
		next := cur
		if err := p.ApplyTo(&next, cache.GuildSessionFields); err != nil {
			return cur, keepValue, err
		}
		next.ID = id
		return next, storeValue, nil
	})
	if err != nil {
		return nil, cache.Guild{}, err
	}
	return &old, updated, nil
}

func (s *Guilds) Delete(id string) (cache.Guild, bool) {
	return s.t.remove(id)
}

func (s *Guilds) All() iter.Seq2[string, cache.Guild] {
	return cache.Seq(s.Cursor, 0)
}

func (s *Guilds) Cursor() cache.Cursor[cache.Guild] {
	return s.t.cursor()
}

func (s *Guilds) Len() int {
	return s.t.len()
}

// mutate runs fn on a copy of the stored guild and stores the copy.
func (s *Guilds) mutate(guildID string, fn func(g *cache.Guild) error) error {
	_, err := s.t.compute(guildID, func(cur cache.Guild, ok bool) (cache.Guild, computeAction, error) {
		if !ok {
			return cur, keepValue, cache.NotFound(familyGuild, guildID)
		}
		next := cur
		if err := fn(&next); err != nil {
			return cur, keepValue, err
		}
		return next, storeValue, nil
	})
	return err
}

func (s *Guilds) ChannelCreate(guildID string, ch cache.Channel) (cache.Channel, error) {
	if ch.ID == "" {
		return cache.Channel{}, cache.ErrInvalidKey
	}
	err := s.mutate(guildID, func(g *cache.Guild) error {
		g.Channels = g.Channels.With(ch)
		return nil
	})
	return ch, err
}

func (s *Guilds) ChannelUpdate(guildID string, p cache.Patch) (*cache.Channel, cache.Channel, error) {
	return updateNested(s, guildID, p, "channel",
		func(g *cache.Guild) *cache.IDMap[cache.Channel] { return &g.Channels })
}

func (s *Guilds) ChannelDelete(guildID, channelID string) (cache.Channel, bool) {
	return deleteNested(s, guildID, channelID,
		func(g *cache.Guild) *cache.IDMap[cache.Channel] { return &g.Channels })
}

func (s *Guilds) ThreadCreate(guildID string, th cache.Channel) (cache.Channel, error) {
	if th.ID == "" {
		return cache.Channel{}, cache.ErrInvalidKey
	}
	err := s.mutate(guildID, func(g *cache.Guild) error {
		g.Threads = g.Threads.With(th)
		return nil
	})
	return th, err
}

func (s *Guilds) ThreadUpdate(guildID string, p cache.Patch) (*cache.Channel, cache.Channel, error) {
	return updateNested(s, guildID, p, "thread",
		func(g *cache.Guild) *cache.IDMap[cache.Channel] { return &g.Threads })
}

func (s *Guilds) ThreadDelete(guildID, threadID string) (cache.Channel, bool) {
	return deleteNested(s, guildID, threadID,
		func(g *cache.Guild) *cache.IDMap[cache.Channel] { return &g.Threads })
}

func (s *Guilds) RoleCreate(guildID string, r cache.Role) (cache.RoleChange, error) {
	if r.ID == "" {
		return cache.RoleChange{}, cache.ErrInvalidKey
	}
	var change cache.RoleChange
	err := s.mutate(guildID, func(g *cache.Guild) error {
		if prev, ok := g.Roles.Lookup(r.ID); ok {
			change.Old = &prev
		}
		g.Roles = g.Roles.With(r)
		return nil
	})
	if err != nil {
		return cache.RoleChange{}, err
	}
	change.GuildID = guildID
	change.New = r
	return change, nil
}

func (s *Guilds) RoleUpdate(guildID string, p cache.Patch) (cache.RoleChange, error) {
	old, updated, err := updateNested(s, guildID, p, "role",
		func(g *cache.Guild) *cache.IDMap[cache.Role] { return &g.Roles })
	if err != nil {
		return cache.RoleChange{}, err
	}
	return cache.RoleChange{GuildID: guildID, Old: old, New: updated}, nil
}

func (s *Guilds) RoleDelete(guildID, roleID string) (cache.Role, bool) {
	return deleteNested(s, guildID, roleID,
		func(g *cache.Guild) *cache.IDMap[cache.Role] { return &g.Roles })
}

func (s *Guilds) EmojisUpdate(guildID string, emojis []cache.Emoji) ([]cache.Emoji, []cache.Emoji, error) {
	var old, updated []cache.Emoji
	err := s.mutate(guildID, func(g *cache.Guild) error {
		old = g.Emojis.Values()
		g.Emojis = cache.NewIDMap(emojis)
		updated = g.Emojis.Values()
		return nil
	})
	return old, updated, err
}

func (s *Guilds) StickersUpdate(guildID string, stickers []cache.Sticker) ([]cache.Sticker, []cache.Sticker, error) {
	var old, updated []cache.Sticker
	err := s.mutate(guildID, func(g *cache.Guild) error {
		old = g.Stickers.Values()
		g.Stickers = cache.NewIDMap(stickers)
		updated = g.Stickers.Values()
		return nil
	})
	return old, updated, err
}

func (s *Guilds) VoiceStateUpdate(guildID string, vs cache.VoiceState) (cache.GuildVoiceStates, error) {
	if vs.UserID == "" {
		return cache.GuildVoiceStates{}, cache.ErrInvalidKey
	}
	var states []cache.VoiceState
	err := s.mutate(guildID, func(g *cache.Guild) error {
		if vs.ChannelID == nil {
			g.VoiceStates = g.VoiceStates.Without(vs.UserID)
		} else {
			g.VoiceStates = g.VoiceStates.With(vs)
		}
		states = g.VoiceStates.Values()
		return nil
	})
	if err != nil {
		return cache.GuildVoiceStates{}, err
	}
	return cache.GuildVoiceStates{GuildID: guildID, States: states}, nil
}

func (s *Guilds) MemberCountDelta(guildID string, delta int) (int, error) {
	var count int
	err := s.mutate(guildID, func(g *cache.Guild) error {
		if g.MemberCount != nil {
			count = *g.MemberCount
		}
		count = max(count+delta, 0)
		g.MemberCount = &count
		return nil
	})
	return count, err
}

func (s *Guilds) ScheduledEventCreate(guildID string, ev cache.ScheduledEvent) (cache.ScheduledEvent, error) {
	if ev.ID == "" {
		return cache.ScheduledEvent{}, cache.ErrInvalidKey
	}
	err := s.mutate(guildID, func(g *cache.Guild) error {
		g.ScheduledEvents = g.ScheduledEvents.With(ev)
		return nil
	})
	return ev, err
}

func (s *Guilds) ScheduledEventUpdate(guildID string, p cache.Patch) (*cache.ScheduledEvent, cache.ScheduledEvent, error) {
	return updateNested(s, guildID, p, "scheduled_event",
		func(g *cache.Guild) *cache.IDMap[cache.ScheduledEvent] { return &g.ScheduledEvents })
}

func (s *Guilds) ScheduledEventDelete(guildID, eventID string) (cache.ScheduledEvent, bool) {
	return deleteNested(s, guildID, eventID,
		func(g *cache.Guild) *cache.IDMap[cache.ScheduledEvent] { return &g.ScheduledEvents })
}

// updateNested merges p into the sub-entity it names. A sub-entity the guild
// does not hold yet is created from the patch, since a partial update for an
// unseen channel or role still carries its full payload.
func updateNested[T cache.Keyed](s *Guilds, guildID string, p cache.Patch, family string, field func(*cache.Guild) *cache.IDMap[T]) (*T, T, error) {
	id := p.ID()
	var zero T
	if id == "" {
		return nil, zero, cache.ErrInvalidKey
	}
	var (
		old     *T
		updated T
	)
	err := s.mutate(guildID, func(g *cache.Guild) error {
		m := field(g)
		next, ok := m.Lookup(id)
		if ok {
			prev := next
			old = &prev
		}
		if err := p.ApplyTo(&next, nil); err != nil {
			return err
		}
		if next.Key() != id {
			return cache.NotFound(family, id)
		}
		*m = m.With(next)
		updated = next
		return nil
	})
	if err != nil {
		return nil, zero, err
	}
	return old, updated, nil
}

func deleteNested[T cache.Keyed](s *Guilds, guildID, id string, field func(*cache.Guild) *cache.IDMap[T]) (T, bool) {
	var (
		old   T
		found bool
	)
	_ = s.mutate(guildID, func(g *cache.Guild) error {
		m := field(g)
		old, found = m.Lookup(id)
		if found {
			*m = m.Without(id)
		}
		return nil
	})
	return old, found
}
