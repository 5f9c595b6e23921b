// Package events turns decoded dispatches into cache writes and the
// enriched events handed to subscribers.
package events

import (
	"encoding/json"
	"errors"

	"github.com/danmuck/shardline/internal/cache"
)

var (
	ErrMalformedPayload = errors.New("events: malformed payload")
	ErrMissingGuildID   = errors.New("events: missing guild id")
)

// Dispatch names handled by the pipeline.
const (
	Ready                     = "READY"
	Resumed                   = "RESUMED"
	GuildCreate               = "GUILD_CREATE"
	GuildUpdate               = "GUILD_UPDATE"
	GuildDelete               = "GUILD_DELETE"
	ChannelCreate             = "CHANNEL_CREATE"
	ChannelUpdate             = "CHANNEL_UPDATE"
	ChannelDelete             = "CHANNEL_DELETE"
	ThreadCreate              = "THREAD_CREATE"
	ThreadUpdate              = "THREAD_UPDATE"
	ThreadDelete              = "THREAD_DELETE"
	GuildRoleCreate           = "GUILD_ROLE_CREATE"
	GuildRoleUpdate           = "GUILD_ROLE_UPDATE"
	GuildRoleDelete           = "GUILD_ROLE_DELETE"
	GuildEmojisUpdate         = "GUILD_EMOJIS_UPDATE"
	GuildStickersUpdate       = "GUILD_STICKERS_UPDATE"
	GuildMemberAdd            = "GUILD_MEMBER_ADD"
	GuildMemberUpdate         = "GUILD_MEMBER_UPDATE"
	GuildMemberRemove         = "GUILD_MEMBER_REMOVE"
	GuildMembersChunk         = "GUILD_MEMBERS_CHUNK"
	PresenceUpdate            = "PRESENCE_UPDATE"
	UserUpdate                = "USER_UPDATE"
	VoiceStateUpdate          = "VOICE_STATE_UPDATE"
	GuildScheduledEventCreate = "GUILD_SCHEDULED_EVENT_CREATE"
	GuildScheduledEventUpdate = "GUILD_SCHEDULED_EVENT_UPDATE"
	GuildScheduledEventDelete = "GUILD_SCHEDULED_EVENT_DELETE"
)

// Event is one dispatch after its cache write. Data holds one of the
// payload types below; unhandled dispatch names carry Raw.
type Event struct {
	Shard    int             `json:"shard"`
	Sequence int64           `json:"seq"`
	Name     string          `json:"name"`
	Data     any             `json:"data"`
	Raw      json.RawMessage `json:"-"`
}

// GuildID reports the guild the event is scoped to, if any.
func (e Event) GuildID() string {
	if s, ok := e.Data.(interface{ scope() string }); ok {
		return s.scope()
	}
	return ""
}

type ReadyData struct {
	SessionID string     `json:"session_id"`
	User      cache.User `json:"user"`
	GuildIDs  []string   `json:"guild_ids"`
}

type ResumedData struct{}

// GuildCreated is a full guild snapshot. Recovered is set when the guild
// was marked unavailable before.
type GuildCreated struct {
	Guild     cache.Guild `json:"guild"`
	Recovered bool        `json:"recovered"`
}

func (e GuildCreated) scope() string { return e.Guild.ID }

// GuildDeleted is a guild leaving the cache, or going dark when Unavailable
// is set.
type GuildDeleted struct {
	ID          string       `json:"id"`
	Unavailable bool         `json:"unavailable"`
	Old         *cache.Guild `json:"old,omitempty"`
}

func (e GuildDeleted) scope() string { return e.ID }

type Created[T any] struct {
	GuildID string `json:"guild_id,omitempty"`
	Value   T      `json:"value"`
}

func (e Created[T]) scope() string { return e.GuildID }

// Updated carries the value before the write, nil when it was not cached.
type Updated[T any] struct {
	GuildID string `json:"guild_id,omitempty"`
	Old     *T     `json:"old,omitempty"`
	New     T      `json:"new"`
}

func (e Updated[T]) scope() string { return e.GuildID }

// Deleted carries the removed value, nil when nothing was cached.
type Deleted[T any] struct {
	GuildID string `json:"guild_id,omitempty"`
	ID      string `json:"id"`
	Old     *T     `json:"old,omitempty"`
}

func (e Deleted[T]) scope() string { return e.GuildID }

// ListUpdated replaces a whole nested list, such as a guild's emojis.
type ListUpdated[T any] struct {
	GuildID string `json:"guild_id"`
	Old     []T    `json:"old"`
	New     []T    `json:"new"`
}

func (e ListUpdated[T]) scope() string { return e.GuildID }

type MembersChunk struct {
	GuildID    string         `json:"guild_id"`
	ChunkIndex int            `json:"chunk_index"`
	ChunkCount int            `json:"chunk_count"`
	Nonce      string         `json:"nonce,omitempty"`
	Members    []cache.Member `json:"members"`
	NotFound   []string       `json:"not_found,omitempty"`
}

func (e MembersChunk) scope() string { return e.GuildID }

// VoiceStateChanged carries the user's new state and the guild's voice
// state list after the write.
type VoiceStateChanged struct {
	GuildID string             `json:"guild_id"`
	State   cache.VoiceState   `json:"state"`
	States  []cache.VoiceState `json:"states"`
}

func (e VoiceStateChanged) scope() string { return e.GuildID }

// Raw is an event the pipeline does not interpret.
type Raw struct {
	Body cache.Patch `json:"body"`
}

func (e Raw) scope() string { return e.Body.GuildID() }
