package protocol

import (
	"encoding/json"
	"strconv"
)

// Opcode is the gateway frame class.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatACK        Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpVoiceStateUpdate:
		return "voice_state_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpRequestGuildMembers:
		return "request_guild_members"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatACK:
		return "heartbeat_ack"
	default:
		return "op_" + strconv.Itoa(int(o))
	}
}

// Dispatch event names with dedicated session handling.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Frame is the gateway envelope. S and T are only set on dispatch frames.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

// Sequence returns the frame's sequence number, zero when absent.
func (f Frame) Sequence() int64 {
	if f.S == nil {
		return 0
	}
	return *f.S
}

// Event returns the dispatch event name, empty when absent.
func (f Frame) Event() string {
	if f.T == nil {
		return ""
	}
	return *f.T
}

// Hello is the op 10 body.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// ReadyUser is the bot user carried by READY.
type ReadyUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

// ReadyGuild is one entry of READY's guild list; all are unavailable at
// READY time and arrive later as GUILD_CREATE.
type ReadyGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// Ready is the READY dispatch body.
type Ready struct {
	Version          int          `json:"v"`
	User             ReadyUser    `json:"user"`
	Guilds           []ReadyGuild `json:"guilds"`
	SessionID        string       `json:"session_id"`
	ResumeGatewayURL string       `json:"resume_gateway_url"`
	Shard            []int        `json:"shard,omitempty"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify is the op 2 body.
type Identify struct {
	Token          string             `json:"token"`
	Intents        int                `json:"intents"`
	Properties     IdentifyProperties `json:"properties"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Presence       *StatusUpdate      `json:"presence,omitempty"`
}

// Resume is the op 6 body.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Activity is one presence activity.
type Activity struct {
	Name string  `json:"name"`
	Type int     `json:"type"`
	URL  *string `json:"url,omitempty"`
}

// StatusUpdate is the op 3 body.
type StatusUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// NewStatusUpdate builds a presence from the status/activity/stream/type
// tuple consumers use. An empty activity name clears activities; a non-empty
// stream URL is attached to the activity.
func NewStatusUpdate(status, activity, stream string, activityType int) StatusUpdate {
	if status == "" {
		status = "online"
	}
	su := StatusUpdate{Status: status, Activities: []Activity{}}
	if activity != "" {
		a := Activity{Name: activity, Type: activityType}
		if stream != "" {
			a.URL = &stream
		}
		su.Activities = append(su.Activities, a)
	}
	return su
}

// VoiceStateUpdate is the op 4 body. A nil ChannelID leaves voice.
type VoiceStateUpdate struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// RequestGuildMembers is the op 8 body.
type RequestGuildMembers struct {
	GuildID   string   `json:"guild_id"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
}
