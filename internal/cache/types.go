package cache

// Guild is the unit of storage for guild state. Channels, roles, emojis,
// stickers, threads and voice states live in id-keyed maps inside it.
//
// Values handed out by a store share their maps with the store. Stores never
// mutate a map they have published, so a returned Guild is a stable snapshot;
// callers must treat it as read-only.
type Guild struct {
	ID                          string   `json:"id"`
	Name                        string   `json:"name"`
	Icon                        *string  `json:"icon"`
	Splash                      *string  `json:"splash"`
	OwnerID                     string   `json:"owner_id"`
	Region                      *string  `json:"region,omitempty"`
	AFKChannelID                *string  `json:"afk_channel_id"`
	AFKTimeout                  int      `json:"afk_timeout"`
	VerificationLevel           int      `json:"verification_level"`
	DefaultMessageNotifications int      `json:"default_message_notifications"`
	ExplicitContentFilter       int      `json:"explicit_content_filter"`
	Features                    []string `json:"features"`
	MFALevel                    int      `json:"mfa_level"`
	ApplicationID               *string  `json:"application_id"`
	WidgetEnabled               *bool    `json:"widget_enabled,omitempty"`
	WidgetChannelID             *string  `json:"widget_channel_id,omitempty"`
	SystemChannelID             *string  `json:"system_channel_id"`
	SystemChannelFlags          int      `json:"system_channel_flags"`
	RulesChannelID              *string  `json:"rules_channel_id"`
	MaxMembers                  *int     `json:"max_members,omitempty"`
	VanityURLCode               *string  `json:"vanity_url_code"`
	Description                 *string  `json:"description"`
	Banner                      *string  `json:"banner"`
	PremiumTier                 int      `json:"premium_tier"`
	PremiumSubscriptionCount    *int     `json:"premium_subscription_count,omitempty"`
	PreferredLocale             string   `json:"preferred_locale"`
	PublicUpdatesChannelID      *string  `json:"public_updates_channel_id"`
	NSFWLevel                   int      `json:"nsfw_level"`

	Roles    IDMap[Role]    `json:"roles"`
	Emojis   IDMap[Emoji]   `json:"emojis"`
	Stickers IDMap[Sticker] `json:"stickers,omitempty"`

	// Session-scoped: only ever delivered on the initial snapshot.
	JoinedAt        *string               `json:"joined_at,omitempty"`
	Large           *bool                 `json:"large,omitempty"`
	Unavailable     *bool                 `json:"unavailable,omitempty"`
	MemberCount     *int                  `json:"member_count,omitempty"`
	VoiceStates     IDMap[VoiceState]     `json:"voice_states,omitempty"`
	Channels        IDMap[Channel]        `json:"channels,omitempty"`
	Threads         IDMap[Channel]        `json:"threads,omitempty"`
	StageInstances  IDMap[StageInstance]  `json:"stage_instances,omitempty"`
	ScheduledEvents IDMap[ScheduledEvent] `json:"guild_scheduled_events,omitempty"`
}

// GuildSessionFields are the guild keys a partial update may never clear.
var GuildSessionFields = NewFieldSet(
	"joined_at",
	"large",
	"unavailable",
	"member_count",
	"voice_states",
	"members",
	"channels",
	"threads",
	"presences",
	"stage_instances",
	"guild_scheduled_events",
)

func (g Guild) Key() string { return g.ID }

type Overwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

type ThreadMetadata struct {
	Archived            bool    `json:"archived"`
	AutoArchiveDuration int     `json:"auto_archive_duration"`
	ArchiveTimestamp    string  `json:"archive_timestamp"`
	Locked              bool    `json:"locked"`
	Invitable           *bool   `json:"invitable,omitempty"`
	CreateTimestamp     *string `json:"create_timestamp,omitempty"`
}

// Channel covers guild channels and threads.
type Channel struct {
	ID                   string          `json:"id"`
	Type                 int             `json:"type"`
	GuildID              *string         `json:"guild_id,omitempty"`
	Position             *int            `json:"position,omitempty"`
	PermissionOverwrites []Overwrite     `json:"permission_overwrites,omitempty"`
	Name                 *string         `json:"name"`
	Topic                *string         `json:"topic"`
	NSFW                 *bool           `json:"nsfw,omitempty"`
	LastMessageID        *string         `json:"last_message_id"`
	Bitrate              *int            `json:"bitrate,omitempty"`
	UserLimit            *int            `json:"user_limit,omitempty"`
	RateLimitPerUser     *int            `json:"rate_limit_per_user,omitempty"`
	ParentID             *string         `json:"parent_id"`
	OwnerID              *string         `json:"owner_id,omitempty"`
	LastPinTimestamp     *string         `json:"last_pin_timestamp"`
	RTCRegion            *string         `json:"rtc_region"`
	MessageCount         *int            `json:"message_count,omitempty"`
	MemberCount          *int            `json:"member_count,omitempty"`
	ThreadMetadata       *ThreadMetadata `json:"thread_metadata,omitempty"`
	Flags                *int            `json:"flags,omitempty"`
}

func (c Channel) Key() string { return c.ID }

type RoleTags struct {
	BotID         *string `json:"bot_id,omitempty"`
	IntegrationID *string `json:"integration_id,omitempty"`
}

type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Color        int       `json:"color"`
	Hoist        bool      `json:"hoist"`
	Icon         *string   `json:"icon"`
	UnicodeEmoji *string   `json:"unicode_emoji"`
	Position     int       `json:"position"`
	Permissions  string    `json:"permissions"`
	Managed      bool      `json:"managed"`
	Mentionable  bool      `json:"mentionable"`
	Tags         *RoleTags `json:"tags,omitempty"`
	Flags        int       `json:"flags"`
}

func (r Role) Key() string { return r.ID }

type Emoji struct {
	ID            string   `json:"id"`
	Name          *string  `json:"name"`
	Roles         []string `json:"roles,omitempty"`
	User          *User    `json:"user,omitempty"`
	RequireColons *bool    `json:"require_colons,omitempty"`
	Managed       *bool    `json:"managed,omitempty"`
	Animated      *bool    `json:"animated,omitempty"`
	Available     *bool    `json:"available,omitempty"`
}

func (e Emoji) Key() string { return e.ID }

type Sticker struct {
	ID          string  `json:"id"`
	PackID      *string `json:"pack_id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Tags        string  `json:"tags"`
	Type        int     `json:"type"`
	FormatType  int     `json:"format_type"`
	Available   *bool   `json:"available,omitempty"`
	GuildID     *string `json:"guild_id,omitempty"`
}

func (s Sticker) Key() string { return s.ID }

type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	GlobalName    *string `json:"global_name"`
	Avatar        *string `json:"avatar"`
	Bot           *bool   `json:"bot,omitempty"`
	System        *bool   `json:"system,omitempty"`
	Banner        *string `json:"banner,omitempty"`
	AccentColor   *int    `json:"accent_color,omitempty"`
	PublicFlags   *int    `json:"public_flags,omitempty"`
}

func (u User) Key() string { return u.ID }

type Member struct {
	User                       *User    `json:"user,omitempty"`
	Nick                       *string  `json:"nick"`
	Avatar                     *string  `json:"avatar"`
	Roles                      []string `json:"roles"`
	JoinedAt                   *string  `json:"joined_at"`
	PremiumSince               *string  `json:"premium_since"`
	Deaf                       *bool    `json:"deaf,omitempty"`
	Mute                       *bool    `json:"mute,omitempty"`
	Flags                      int      `json:"flags"`
	Pending                    *bool    `json:"pending,omitempty"`
	CommunicationDisabledUntil *string  `json:"communication_disabled_until"`
}

// Key is the member's user id.
func (m Member) Key() string {
	if m.User == nil {
		return ""
	}
	return m.User.ID
}

type Activity struct {
	Name      string  `json:"name"`
	Type      int     `json:"type"`
	URL       *string `json:"url,omitempty"`
	State     *string `json:"state,omitempty"`
	Details   *string `json:"details,omitempty"`
	CreatedAt *int64  `json:"created_at,omitempty"`
}

type ClientStatus struct {
	Desktop *string `json:"desktop,omitempty"`
	Mobile  *string `json:"mobile,omitempty"`
	Web     *string `json:"web,omitempty"`
}

// PartialUser is the user stub carried by presence updates.
type PartialUser struct {
	ID string `json:"id"`
}

type Presence struct {
	User         *PartialUser  `json:"user"`
	GuildID      *string       `json:"guild_id,omitempty"`
	Status       string        `json:"status"`
	Activities   []Activity    `json:"activities"`
	ClientStatus *ClientStatus `json:"client_status,omitempty"`
}

// Key is the presence's user id.
func (p Presence) Key() string {
	if p.User == nil {
		return ""
	}
	return p.User.ID
}

type VoiceState struct {
	GuildID                 *string `json:"guild_id,omitempty"`
	ChannelID               *string `json:"channel_id"`
	UserID                  string  `json:"user_id"`
	Member                  *Member `json:"member,omitempty"`
	SessionID               string  `json:"session_id"`
	Deaf                    bool    `json:"deaf"`
	Mute                    bool    `json:"mute"`
	SelfDeaf                bool    `json:"self_deaf"`
	SelfMute                bool    `json:"self_mute"`
	SelfStream              *bool   `json:"self_stream,omitempty"`
	SelfVideo               bool    `json:"self_video"`
	Suppress                bool    `json:"suppress"`
	RequestToSpeakTimestamp *string `json:"request_to_speak_timestamp"`
}

// Key is the voice state's user id.
func (v VoiceState) Key() string { return v.UserID }

type StageInstance struct {
	ID                    string  `json:"id"`
	GuildID               string  `json:"guild_id"`
	ChannelID             string  `json:"channel_id"`
	Topic                 string  `json:"topic"`
	PrivacyLevel          int     `json:"privacy_level"`
	GuildScheduledEventID *string `json:"guild_scheduled_event_id"`
}

func (s StageInstance) Key() string { return s.ID }

type ScheduledEvent struct {
	ID                 string  `json:"id"`
	GuildID            string  `json:"guild_id"`
	ChannelID          *string `json:"channel_id"`
	CreatorID          *string `json:"creator_id,omitempty"`
	Name               string  `json:"name"`
	Description        *string `json:"description,omitempty"`
	ScheduledStartTime string  `json:"scheduled_start_time"`
	ScheduledEndTime   *string `json:"scheduled_end_time"`
	PrivacyLevel       int     `json:"privacy_level"`
	Status             int     `json:"status"`
	EntityType         int     `json:"entity_type"`
	EntityID           *string `json:"entity_id"`
	UserCount          *int    `json:"user_count,omitempty"`
	Image              *string `json:"image,omitempty"`
}

func (e ScheduledEvent) Key() string { return e.ID }
