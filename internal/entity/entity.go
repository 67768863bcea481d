// Package entity defines the synchronized records (tasks and projects) and
// their typed mutation payloads.
package entity

import (
	"errors"
	"strings"
	"time"

	"github.com/hyperengineering/tasksync/internal/validation"
)

// SyncStatus is the replication state of a record. The server only writes
// StatusSynced; the other values belong to client outboxes.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
	StatusError   SyncStatus = "error"
)

// ErrInvalidPayload is the sentinel wrapped by every PayloadError.
var ErrInvalidPayload = errors.New("invalid payload")

// PayloadError reports a payload that could not be decoded or failed
// field validation.
type PayloadError struct {
	Message string
	Fields  []validation.ValidationError
}

func (e *PayloadError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid payload: " + e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// Unwrap returns ErrInvalidPayload for errors.Is() compatibility.
func (e *PayloadError) Unwrap() error {
	return ErrInvalidPayload
}

// SyncMeta holds the bookkeeping columns shared by every record kind.
type SyncMeta struct {
	SyncVersion  int64      `json:"syncVersion"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Version returns the stored sync version.
func (m *SyncMeta) Version() int64 {
	return m.SyncVersion
}

// Created initializes the metadata of a freshly inserted record.
func (m *SyncMeta) Created(now time.Time) {
	now = now.UTC()
	m.SyncVersion = 1
	m.SyncStatus = StatusSynced
	m.LastSyncedAt = &now
	m.CreatedAt = now
	m.UpdatedAt = now
}

// Applied stamps the metadata after a successful server-side mutation.
func (m *SyncMeta) Applied(version int64, now time.Time) {
	now = now.UTC()
	m.SyncVersion = version
	m.SyncStatus = StatusSynced
	m.LastSyncedAt = &now
	m.UpdatedAt = now
}

func payloadErr(c *validation.Collector) error {
	if !c.HasErrors() {
		return nil
	}
	return &PayloadError{Message: "validation failed", Fields: c.Errors()}
}

func nonNullable(field string, present, null bool) *validation.ValidationError {
	if present && null {
		return &validation.ValidationError{Field: field, Message: "must not be null"}
	}
	return nil
}

func strPtr(f Field[string]) *string {
	if !f.Present() {
		return nil
	}
	v := f.Value
	return &v
}

func timePtr(f Field[time.Time]) *time.Time {
	if !f.Present() {
		return nil
	}
	v := f.Value.UTC()
	return &v
}
