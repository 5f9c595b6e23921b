package memory

import (
	"iter"

	"github.com/danmuck/shardline/internal/cache"
)

const (
	familyMember   = "member"
	familyPresence = "presence"
	familyUser     = "user"
	pageSize       = 256
)

// Members is the shared-memory MemberStore.
type Members struct {
	t *groupTable[cache.Member]
}

var _ cache.MemberStore = (*Members)(nil)

func NewMembers(stripes int) *Members {
	return &Members{t: newGroupTable[cache.Member](stripes)}
}

func (s *Members) Get(guildID, userID string) (cache.Member, error) {
	m, ok := s.t.get(guildID, userID)
	if !ok {
		return cache.Member{}, cache.NotFound(familyMember, guildID+"/"+userID)
	}
	return m, nil
}

// Add stores m, replacing any previous entry. added is false when the
// member was already present, as on a replayed GUILD_MEMBER_ADD.
func (s *Members) Add(guildID string, m cache.Member) (stored cache.Member, added bool, err error) {
	userID := m.Key()
	if guildID == "" || userID == "" {
		return cache.Member{}, false, cache.ErrInvalidKey
	}
	stored, err = s.t.compute(guildID, userID, func(_ cache.Member, ok bool) (cache.Member, computeAction, error) {
		added = !ok
		return m, storeValue, nil
	})
	return stored, added, err
}

func (s *Members) Update(guildID string, p cache.Patch) (*cache.Member, cache.Member, error) {
	var user cache.User
	if ok, err := p.Decode("user", &user); err != nil {
		return nil, cache.Member{}, err
	} else if !ok || user.ID == "" || guildID == "" {
		return nil, cache.Member{}, cache.ErrInvalidKey
	}
	var old *cache.Member
	updated, err := s.t.compute(guildID, user.ID, func(cur cache.Member, ok bool) (cache.Member, computeAction, error) {
		next := cur
		if ok {
			prev := cur
			old = &prev
		}
		if err := p.ApplyTo(&next, nil); err != nil {
			return cur, keepValue, err
		}
		return next, storeValue, nil
	})
	if err != nil {
		return nil, cache.Member{}, err
	}
	return old, updated, nil
}

func (s *Members) Remove(guildID, userID string) (cache.Member, bool) {
	return s.t.remove(guildID, userID)
}

func (s *Members) Chunk(guildID string, members []cache.Member) int {
	values := make(map[string]cache.Member, len(members))
	for _, m := range members {
		if k := m.Key(); k != "" {
			values[k] = m
		}
	}
	return s.t.putAll(guildID, values)
}

func (s *Members) ByGuild(guildID string) iter.Seq2[string, cache.Member] {
	return s.t.each(guildID, pageSize)
}

func (s *Members) DropGuild(guildID string) int {
	return s.t.dropGroup(guildID)
}

func (s *Members) Len(guildID string) int {
	return s.t.groupLen(guildID)
}

// Presences is the shared-memory PresenceStore.
type Presences struct {
	t *groupTable[cache.Presence]
}

var _ cache.PresenceStore = (*Presences)(nil)

func NewPresences(stripes int) *Presences {
	return &Presences{t: newGroupTable[cache.Presence](stripes)}
}

func (s *Presences) Get(guildID, userID string) (cache.Presence, error) {
	p, ok := s.t.get(guildID, userID)
	if !ok {
		return cache.Presence{}, cache.NotFound(familyPresence, guildID+"/"+userID)
	}
	return p, nil
}

func (s *Presences) Create(guildID string, p cache.Presence) (cache.Presence, error) {
	userID := p.Key()
	if guildID == "" || userID == "" {
		return cache.Presence{}, cache.ErrInvalidKey
	}
	s.t.put(guildID, userID, p)
	return p, nil
}

// Update merges a PRESENCE_UPDATE body. An unseen presence is created.
func (s *Presences) Update(guildID string, p cache.Patch) (*cache.Presence, cache.Presence, error) {
	var user cache.PartialUser
	if ok, err := p.Decode("user", &user); err != nil {
		return nil, cache.Presence{}, err
	} else if !ok || user.ID == "" || guildID == "" {
		return nil, cache.Presence{}, cache.ErrInvalidKey
	}
	var old *cache.Presence
	updated, err := s.t.compute(guildID, user.ID, func(cur cache.Presence, ok bool) (cache.Presence, computeAction, error) {
		next := cur
		if ok {
			prev := cur
			old = &prev
		}
		if err := p.ApplyTo(&next, nil); err != nil {
			return cur, keepValue, err
		}
		return next, storeValue, nil
	})
	if err != nil {
		return nil, cache.Presence{}, err
	}
	return old, updated, nil
}

func (s *Presences) Delete(guildID, userID string) (cache.Presence, bool) {
	return s.t.remove(guildID, userID)
}

func (s *Presences) Bulk(guildID string, presences []cache.Presence) int {
	values := make(map[string]cache.Presence, len(presences))
	for _, p := range presences {
		if k := p.Key(); k != "" {
			values[k] = p
		}
	}
	return s.t.putAll(guildID, values)
}

func (s *Presences) DropGuild(guildID string) int {
	return s.t.dropGroup(guildID)
}

// Users is the shared-memory UserStore.
type Users struct {
	t *table[cache.User]
}

var _ cache.UserStore = (*Users)(nil)

func NewUsers(stripes int) *Users {
	return &Users{t: newTable[cache.User](stripes)}
}

func (s *Users) Get(id string) (cache.User, error) {
	u, ok := s.t.get(id)
	if !ok {
		return cache.User{}, cache.NotFound(familyUser, id)
	}
	return u, nil
}

func (s *Users) Create(u cache.User) (cache.User, error) {
	if u.ID == "" {
		return cache.User{}, cache.ErrInvalidKey
	}
	s.t.put(u.ID, u)
	return u, nil
}

func (s *Users) Update(p cache.Patch) (*cache.User, cache.User, error) {
	id := p.ID()
	if id == "" {
		return nil, cache.User{}, cache.ErrInvalidKey
	}
	var old *cache.User
	updated, err := s.t.compute(id, func(cur cache.User, ok bool) (cache.User, computeAction, error) {
		next := cur
		if ok {
			prev := cur
			old = &prev
		}
		if err := p.ApplyTo(&next, nil); err != nil {
			return cur, keepValue, err
		}
		return next, storeValue, nil
	})
	if err != nil {
		return nil, cache.User{}, err
	}
	return old, updated, nil
}

func (s *Users) Delete(id string) (cache.User, bool) {
	return s.t.remove(id)
}

func (s *Users) Bulk(users []cache.User) int {
	n := 0
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		s.t.put(u.ID, u)
		n++
	}
	return n
}

func (s *Users) All() iter.Seq2[string, cache.User] {
	return cache.Seq(s.Cursor, pageSize)
}

func (s *Users) Cursor() cache.Cursor[cache.User] {
	return s.t.cursor()
}

func (s *Users) Len() int {
	return s.t.len()
}

// Unavailable is the shared-memory UnavailableStore.
type Unavailable struct {
	t *table[struct{}]
}

var _ cache.UnavailableStore = (*Unavailable)(nil)

func NewUnavailable(stripes int) *Unavailable {
	return &Unavailable{t: newTable[struct{}](stripes)}
}

func (s *Unavailable) Mark(guildID string) {
	if guildID == "" {
		return
	}
	s.t.put(guildID, struct{}{})
}

func (s *Unavailable) Has(guildID string) bool {
	_, ok := s.t.get(guildID)
	return ok
}

func (s *Unavailable) Clear(guildID string) bool {
	_, ok := s.t.remove(guildID)
	return ok
}

func (s *Unavailable) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range cache.Seq(s.t.cursor, pageSize) {
			if !yield(k) {
				return
			}
		}
	}
}

func (s *Unavailable) Len() int {
	return s.t.len()
}

// New builds a Cache backed entirely by shared-memory tables.
func New() *cache.Cache {
	return NewWithStripes(DefaultStripes)
}

func NewWithStripes(stripes int) *cache.Cache {
	return &cache.Cache{
		Guilds:      NewGuilds(stripes),
		Members:     NewMembers(stripes),
		Users:       NewUsers(stripes),
		Presences:   NewPresences(stripes),
		Unavailable: NewUnavailable(stripes),
	}
}
