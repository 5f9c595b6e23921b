package protocol

import (
	"encoding/json"
	"fmt"
)

type outbound struct {
	Op Opcode `json:"op"`
	D  any    `json:"d"`
}

// Encode renders an outbound frame.
func Encode(op Opcode, d any) ([]byte, error) {
	raw, err := json.Marshal(outbound{Op: op, D: d})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", op, err)
	}
	return raw, nil
}

// EncodeHeartbeat renders op 1. A zero sequence is sent as null, meaning no
// dispatch has been seen yet.
func EncodeHeartbeat(seq int64) ([]byte, error) {
	if seq <= 0 {
		return Encode(OpHeartbeat, nil)
	}
	return Encode(OpHeartbeat, seq)
}

func EncodeIdentify(id Identify) ([]byte, error) {
	return Encode(OpIdentify, id)
}

func EncodeResume(r Resume) ([]byte, error) {
	return Encode(OpResume, r)
}

func EncodeStatusUpdate(su StatusUpdate) ([]byte, error) {
	if su.Activities == nil {
		su.Activities = []Activity{}
	}
	return Encode(OpPresenceUpdate, su)
}

func EncodeVoiceStateUpdate(vs VoiceStateUpdate) ([]byte, error) {
	return Encode(OpVoiceStateUpdate, vs)
}

func EncodeRequestGuildMembers(req RequestGuildMembers) ([]byte, error) {
	return Encode(OpRequestGuildMembers, req)
}
