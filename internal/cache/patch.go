package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldState is the presence of one key in a Patch.
type FieldState int

const (
	FieldAbsent FieldState = iota
	FieldNull
	FieldPresent
)

func (s FieldState) String() string {
	switch s {
	case FieldAbsent:
		return "absent"
	case FieldNull:
		return "null"
	case FieldPresent:
		return "set"
	default:
		return "unknown"
	}
}

var nullRaw = json.RawMessage("null")

// Patch is one decoded event body keyed by top-level field name. It keeps
// the difference between an absent key and an explicit null, which a struct
// decode would lose.
type Patch map[string]json.RawMessage

// DecodePatch splits a JSON object into a Patch.
func DecodePatch(data []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("cache: decode patch: %w", err)
	}
	if p == nil {
		return Patch{}, nil
	}
	return p, nil
}

// PatchOf encodes v and splits it into a Patch.
func PatchOf(v any) (Patch, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodePatch(raw)
}

func (p Patch) State(key string) FieldState {
	raw, ok := p[key]
	if !ok {
		return FieldAbsent
	}
	if isNull(raw) {
		return FieldNull
	}
	return FieldPresent
}

// String returns the string value at key, false when absent, null or not a
// string.
func (p Patch) String(key string) (string, bool) {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (p Patch) ID() string {
	s, _ := p.String("id")
	return s
}

func (p Patch) GuildID() string {
	s, _ := p.String("guild_id")
	return s
}

// Decode unmarshals the value at key into out. It reports false without
// touching out when the key is absent or null.
func (p Patch) Decode(key string, out any) (bool, error) {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("cache: decode field %q: %w", key, err)
	}
	return true, nil
}

// Into decodes the whole patch into out as a fresh value.
func (p Patch) Into(out any) error {
	raw, err := json.Marshal(map[string]json.RawMessage(p))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cache: decode patch: %w", err)
	}
	return nil
}

// Without returns a copy of p lacking keys.
func (p Patch) Without(keys ...string) Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// ApplyTo merges p into the value dst points at.
//
// Keys in scoped are only written when the patch carries a value for them;
// an absent or null scoped key leaves dst untouched. Every other key present
// in p is written, and an explicit null resets pointer, slice and map fields
// to nil. Absent keys are never touched.
//
// dst is usually a shallow copy of a published value. Each written field is
// nulled before it is decoded so the decoder allocates fresh pointees instead
// of writing through pointers the copy still shares with the original.
func (p Patch) ApplyTo(dst any, scoped FieldSet) error {
	reset := make(map[string]json.RawMessage, len(p))
	set := make(map[string]json.RawMessage, len(p))
	for k, v := range p {
		null := isNull(v)
		if null && scoped.Has(k) {
			continue
		}
		reset[k] = nullRaw
		if !null {
			set[k] = v
		}
	}
	if len(reset) == 0 {
		return nil
	}
	if err := decodeObject(reset, dst); err != nil {
		return err
	}
	if len(set) == 0 {
		return nil
	}
	return decodeObject(set, dst)
}

func decodeObject(fields map[string]json.RawMessage, dst any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("cache: merge patch: %w", err)
	}
	return nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), nullRaw)
}

// FieldSet is a fixed set of top-level keys.
type FieldSet map[string]struct{}

func NewFieldSet(keys ...string) FieldSet {
	out := make(FieldSet, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func (s FieldSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}
