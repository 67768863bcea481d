package entity

import (
	"bytes"
	"encoding/json"
)

// Field is an optional payload value that remembers whether the key was
// present in the decoded JSON and whether it was an explicit null.
//
// Absent fields leave the stored value untouched, null clears it, and a
// value replaces it.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns a Field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null returns a Field that is present but explicitly null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// Present reports whether the field carries a non-null value.
func (f Field[T]) Present() bool {
	return f.Set && !f.Null
}

// IsZero reports whether the field was absent. Used by `omitzero`.
func (f Field[T]) IsZero() bool {
	return !f.Set
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(b, &f.Value)
}

// MarshalJSON implements json.Marshaler.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Echoed lists the record bookkeeping fields clients commonly send back
// with their local copy. They are accepted on decode and never applied.
type Echoed struct {
	SyncVersion       json.RawMessage `json:"syncVersion,omitempty"`
	SyncStatus        json.RawMessage `json:"syncStatus,omitempty"`
	LastSyncedAt      json.RawMessage `json:"lastSyncedAt,omitempty"`
	ClientGeneratedID json.RawMessage `json:"clientGeneratedId,omitempty"`
	CreatedAt         json.RawMessage `json:"createdAt,omitempty"`
	UpdatedAt         json.RawMessage `json:"updatedAt,omitempty"`
	UserID            json.RawMessage `json:"userId,omitempty"`
	OwnerID           json.RawMessage `json:"ownerId,omitempty"`
}

// BookkeepingFields are the record keys that never count as domain data.
var BookkeepingFields = []string{
	"id",
	"ownerId",
	"userId",
	"clientGeneratedId",
	"syncVersion",
	"syncStatus",
	"lastSyncedAt",
	"createdAt",
	"updatedAt",
}

// IsBookkeeping reports whether key is a bookkeeping field.
func IsBookkeeping(key string) bool {
	for _, k := range BookkeepingFields {
		if k == key {
			return true
		}
	}
	return false
}

// decodeStrict decodes a JSON object into v, rejecting unknown fields.
func decodeStrict(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return &PayloadError{Message: "data must be a JSON object"}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &PayloadError{Message: err.Error()}
	}
	return nil
}
