package cache

import (
	"encoding/json"
	"sort"
)

// Keyed is implemented by every entity stored in an IDMap.
type Keyed interface {
	Key() string
}

// IDMap holds sub-entities by id. On the wire it is a JSON array.
//
// An IDMap reachable from a published value is never mutated in place: With
// and Without return modified copies.
type IDMap[T Keyed] map[string]T

// NewIDMap indexes list by key; entries with an empty key are dropped.
func NewIDMap[T Keyed](list []T) IDMap[T] {
	out := make(IDMap[T], len(list))
	for _, v := range list {
		if k := v.Key(); k != "" {
			out[k] = v
		}
	}
	return out
}

func (m IDMap[T]) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m.Values())
}

func (m *IDMap[T]) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*m = nil
		return nil
	}
	var list []T
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*m = NewIDMap(list)
	return nil
}

// Values returns entries ordered by key.
func (m IDMap[T]) Values() []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func (m IDMap[T]) Clone() IDMap[T] {
	out := make(IDMap[T], len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// With returns a copy of m holding v.
func (m IDMap[T]) With(v T) IDMap[T] {
	out := m.Clone()
	out[v.Key()] = v
	return out
}

// Without returns a copy of m lacking key. m itself is returned when key is
// absent.
func (m IDMap[T]) Without(key string) IDMap[T] {
	if _, ok := m[key]; !ok {
		return m
	}
	out := m.Clone()
	delete(out, key)
	return out
}

func (m IDMap[T]) Lookup(key string) (T, bool) {
	v, ok := m[key]
	return v, ok
}
