package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultVocabularyLimit caps how many keys a vocabulary may learn beyond
// its seed set.
const DefaultVocabularyLimit = 4096

// KnownKeys seeds the default vocabulary with the top-level keys of the
// dispatch bodies the engine handles.
var KnownKeys = []string{
	"id", "guild_id", "channel_id", "user_id", "user", "name", "icon", "splash",
	"owner_id", "region", "afk_channel_id", "afk_timeout", "verification_level",
	"default_message_notifications", "explicit_content_filter", "features",
	"mfa_level", "application_id", "widget_enabled", "widget_channel_id",
	"system_channel_id", "system_channel_flags", "rules_channel_id",
	"max_members", "vanity_url_code", "description", "banner", "premium_tier",
	"premium_subscription_count", "preferred_locale", "public_updates_channel_id",
	"nsfw_level", "roles", "emojis", "stickers", "joined_at", "large",
	"unavailable", "member_count", "voice_states", "members", "channels",
	"threads", "presences", "stage_instances", "guild_scheduled_events",
	"role", "role_id", "type", "position", "permission_overwrites", "topic",
	"nsfw", "last_message_id", "bitrate", "user_limit", "rate_limit_per_user",
	"parent_id", "last_pin_timestamp", "rtc_region", "message_count",
	"thread_metadata", "flags", "nick", "avatar", "premium_since", "deaf",
	"mute", "pending", "communication_disabled_until", "status", "activities",
	"client_status", "session_id", "self_deaf", "self_mute", "self_stream",
	"self_video", "suppress", "request_to_speak_timestamp", "member",
	"chunk_index", "chunk_count", "not_found", "nonce", "v", "guilds",
	"resume_gateway_url", "shard", "username", "discriminator", "global_name",
	"bot", "creator_id", "scheduled_start_time", "scheduled_end_time",
	"privacy_level", "entity_type", "entity_id", "user_count", "image",
}

// Vocabulary interns payload keys so every decoded body shares one copy of
// each key string. Keys outside the seed set are learned on first sight and
// counted, so unbounded growth from untrusted key names stays visible.
type Vocabulary struct {
	mu    sync.RWMutex
	keys  map[string]string
	seed  int
	limit int

	grown    atomic.Uint64
	overflow atomic.Uint64
}

// NewVocabulary returns a vocabulary seeded with seed that learns at most
// limit further keys. limit <= 0 uses DefaultVocabularyLimit.
func NewVocabulary(limit int, seed ...string) *Vocabulary {
	if limit <= 0 {
		limit = DefaultVocabularyLimit
	}
	v := &Vocabulary{keys: make(map[string]string, len(seed)), limit: limit}
	for _, k := range seed {
		v.keys[k] = k
	}
	v.seed = len(v.keys)
	return v
}

func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(DefaultVocabularyLimit, KnownKeys...)
}

// Intern returns the canonical copy of key. grown is true when the key was
// learned by this call. Once the limit is reached unseen keys are returned
// as-is with ErrVocabularyFull.
func (v *Vocabulary) Intern(key string) (canonical string, grown bool, err error) {
	v.mu.RLock()
	c, ok := v.keys[key]
	v.mu.RUnlock()
	if ok {
		return c, false, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.keys[key]; ok {
		return c, false, nil
	}
	if len(v.keys)-v.seed >= v.limit {
		v.overflow.Add(1)
		return key, false, ErrVocabularyFull
	}
	v.keys[key] = key
	v.grown.Add(1)
	return key, true, nil
}

// Normalize splits a JSON object into its top-level keys, interned. It
// reports how many keys were newly learned.
func (v *Vocabulary) Normalize(raw json.RawMessage) (map[string]json.RawMessage, int, error) {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, 0, fmt.Errorf("%w: body: %v", ErrMalformedFrame, err)
	}
	out := make(map[string]json.RawMessage, len(in))
	learned := 0
	for k, val := range in {
		c, grown, _ := v.Intern(k)
		if grown {
			learned++
		}
		out[c] = val
	}
	return out, learned, nil
}

// Grown is the number of keys learned beyond the seed set.
func (v *Vocabulary) Grown() uint64 { return v.grown.Load() }

// Overflow is the number of keys rejected because the limit was reached.
func (v *Vocabulary) Overflow() uint64 { return v.overflow.Load() }

func (v *Vocabulary) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}
