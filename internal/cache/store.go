package cache

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

var (
	ErrNotFound        = errors.New("cache: not found")
	ErrInvalidKey      = errors.New("cache: invalid key")
	ErrInvalidPosition = errors.New("cache: invalid cursor position")
)

// NotFound wraps ErrNotFound with the entity family and key.
func NotFound(family, key string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, family, key)
}

// Entry is one key/value pair yielded by a cursor.
type Entry[V any] struct {
	Key   string
	Value V
}

// Position is a resumable cursor location: the stripe being walked and the
// last key returned from it.
type Position struct {
	Stripe int
	After  string
}

func (p Position) String() string {
	return strconv.Itoa(p.Stripe) + ":" + p.After
}

// ParsePosition reverses Position.String. An empty token is the start.
func ParsePosition(token string) (Position, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Position{}, nil
	}
	head, after, ok := strings.Cut(token, ":")
	if !ok {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidPosition, token)
	}
	stripe, err := strconv.Atoi(head)
	if err != nil || stripe < 0 {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidPosition, token)
	}
	return Position{Stripe: stripe, After: after}, nil
}

// Cursor pulls a store's entries page by page without materializing the
// whole store. Entries written during a walk may or may not be observed;
// entries present for the whole walk are yielded exactly once.
type Cursor[V any] interface {
	// Next returns up to limit entries; done reports the walk is finished.
	Next(limit int) (page []Entry[V], done bool)
	Position() Position
	Seek(Position)
	Reset()
}

// Seq adapts a cursor into a lazy sequence that restarts on every range.
func Seq[V any](newCursor func() Cursor[V], page int) iter.Seq2[string, V] {
	if page <= 0 {
		page = 256
	}
	return func(yield func(string, V) bool) {
		cur := newCursor()
		for {
			entries, done := cur.Next(page)
			for _, e := range entries {
				if !yield(e.Key, e.Value) {
					return
				}
			}
			if done {
				return
			}
		}
	}
}

// RoleChange is the result of a role write.
type RoleChange struct {
	GuildID string
	Old     *Role
	New     Role
}

// GuildVoiceStates is the voice-state list of one guild after an update.
type GuildVoiceStates struct {
	GuildID string
	States  []VoiceState
}

// GuildStore holds guild aggregates. Every method is atomic with respect to
// the one guild it touches.
type GuildStore interface {
	Get(id string) (Guild, error)
	// Create stores g, fully replacing any guild with the same id.
	Create(g Guild) (Guild, error)
	// Update merges p into the stored guild named by p's "id".
	Update(p Patch) (old *Guild, updated Guild, err error)
	// Delete removes the guild; ok is false when nothing was stored.
	Delete(id string) (old Guild, ok bool)
	All() iter.Seq2[string, Guild]
	Cursor() Cursor[Guild]
	Len() int

	ChannelCreate(guildID string, ch Channel) (Channel, error)
	ChannelUpdate(guildID string, p Patch) (old *Channel, updated Channel, err error)
	ChannelDelete(guildID, channelID string) (old Channel, ok bool)

	ThreadCreate(guildID string, th Channel) (Channel, error)
	ThreadUpdate(guildID string, p Patch) (old *Channel, updated Channel, err error)
	ThreadDelete(guildID, threadID string) (old Channel, ok bool)

	RoleCreate(guildID string, r Role) (RoleChange, error)
	RoleUpdate(guildID string, p Patch) (RoleChange, error)
	RoleDelete(guildID, roleID string) (old Role, ok bool)

	EmojisUpdate(guildID string, emojis []Emoji) (old, updated []Emoji, err error)
	StickersUpdate(guildID string, stickers []Sticker) (old, updated []Sticker, err error)

	// VoiceStateUpdate replaces the user's voice state, or removes it when
	// the state carries no channel.
	VoiceStateUpdate(guildID string, vs VoiceState) (GuildVoiceStates, error)
	MemberCountDelta(guildID string, delta int) (int, error)

	ScheduledEventCreate(guildID string, ev ScheduledEvent) (ScheduledEvent, error)
	ScheduledEventUpdate(guildID string, p Patch) (old *ScheduledEvent, updated ScheduledEvent, err error)
	ScheduledEventDelete(guildID, eventID string) (old ScheduledEvent, ok bool)
}

// MemberStore holds guild members keyed by (guild id, user id).
type MemberStore interface {
	Get(guildID, userID string) (Member, error)
	Add(guildID string, m Member) (stored Member, added bool, err error)
	Update(guildID string, p Patch) (old *Member, updated Member, err error)
	Remove(guildID, userID string) (old Member, ok bool)
	Chunk(guildID string, members []Member) int
	ByGuild(guildID string) iter.Seq2[string, Member]
	DropGuild(guildID string) int
	Len(guildID string) int
}

// UserStore holds users by id.
type UserStore interface {
	Get(id string) (User, error)
	Create(u User) (User, error)
	Update(p Patch) (old *User, updated User, err error)
	Delete(id string) (old User, ok bool)
	Bulk(users []User) int
	All() iter.Seq2[string, User]
	Cursor() Cursor[User]
	Len() int
}

// PresenceStore holds presences keyed by (guild id, user id).
type PresenceStore interface {
	Get(guildID, userID string) (Presence, error)
	Create(guildID string, p Presence) (Presence, error)
	Update(guildID string, p Patch) (old *Presence, updated Presence, err error)
	Delete(guildID, userID string) (old Presence, ok bool)
	Bulk(guildID string, presences []Presence) int
	DropGuild(guildID string) int
}

// UnavailableStore is the set of guilds known to exist without data.
type UnavailableStore interface {
	Mark(guildID string)
	Has(guildID string) bool
	Clear(guildID string) bool
	All() iter.Seq[string]
	Len() int
}

// Cache bundles every entity family. Any backend satisfying the store
// interfaces may be plugged in.
type Cache struct {
	Guilds      GuildStore
	Members     MemberStore
	Users       UserStore
	Presences   PresenceStore
	Unavailable UnavailableStore
}
