// Package sync holds the wire types of the push/pull protocol and the
// version conflict decision shared by the engine and the resolver.
package sync

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/hyperengineering/tasksync/internal/entity"
)

// Entity kinds understood by the default kind registry.
const (
	KindTask    = "task"
	KindProject = "project"
)

// OperationType is the mutation a client submits.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Valid reports whether op is one of the known operation types.
func (op OperationType) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Operation is one client-originated mutation inside a push batch.
type Operation struct {
	EntityKind        string          `json:"entityKind" validate:"required"`
	Operation         OperationType   `json:"operation" validate:"required"`
	Data              json.RawMessage `json:"data" validate:"json_object"`
	EntityID          string          `json:"entityId,omitempty"`
	ClientGeneratedID string          `json:"clientGeneratedId,omitempty"`
	ClientVersion     *int64          `json:"clientVersion,omitempty"`
}

// DataID returns data.id when the payload carries a string id.
func (op Operation) DataID() string {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(op.Data, &probe); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(probe.ID, &id); err != nil {
		return ""
	}
	return id
}

// TargetID returns the server id an update or delete addresses:
// entityId first, then data.id.
func (op Operation) TargetID() string {
	if op.EntityID != "" {
		return op.EntityID
	}
	return op.DataID()
}

// IsJSONObject reports whether raw is a JSON object literal.
func IsJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// OutcomeType classifies a per-operation result.
type OutcomeType string

const (
	OutcomeCreated  OutcomeType = "created"
	OutcomeUpdated  OutcomeType = "updated"
	OutcomeDeleted  OutcomeType = "deleted"
	OutcomeConflict OutcomeType = "conflict"
	OutcomeError    OutcomeType = "error"
)

// Conflict reasons.
const (
	ReasonVersionConflict = "version_conflict"
	ReasonDuplicateCreate = "duplicate_create"
	ReasonNotFound        = "not_found"
)

// Outcome is the result of one operation. Applied outcomes go to
// PushResponse.Processed; conflicts and errors go to PushResponse.Conflicts.
type Outcome struct {
	Type              OutcomeType     `json:"type"`
	EntityType        string          `json:"entityType,omitempty"`
	ID                string          `json:"id,omitempty"`
	EntityID          string          `json:"entityId,omitempty"`
	ClientGeneratedID string          `json:"clientGeneratedId,omitempty"`
	Version           int64           `json:"version,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	ConflictID        string          `json:"conflictId,omitempty"`
	ClientData        json.RawMessage `json:"clientData,omitempty"`
	ServerData        json.RawMessage `json:"serverData,omitempty"`
}

// Applied reports whether the outcome belongs in the processed list.
func (o Outcome) Applied() bool {
	switch o.Type {
	case OutcomeCreated, OutcomeUpdated, OutcomeDeleted:
		return true
	}
	return false
}

// PushRequest is the request body of POST /api/v1/sync/push.
type PushRequest struct {
	PushID     string      `json:"pushId,omitempty"`
	Operations []Operation `json:"operations" validate:"min=1,dive"`
}

// PushResponse is the response body of POST /api/v1/sync/push.
type PushResponse struct {
	Processed []Outcome `json:"processed"`
	Conflicts []Outcome `json:"conflicts"`
	Timestamp time.Time `json:"timestamp"`
}

// ConflictRecord is a persisted logical conflict awaiting resolution.
type ConflictRecord struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"-"`
	EntityType        string          `json:"entityType"`
	EntityID          string          `json:"entityId,omitempty"`
	ClientGeneratedID string          `json:"clientGeneratedId,omitempty"`
	Operation         OperationType   `json:"operation"`
	Reason            string          `json:"reason"`
	ClientVersion     *int64          `json:"clientVersion,omitempty"`
	ClientData        json.RawMessage `json:"clientData,omitempty"`
	ServerData        json.RawMessage `json:"serverData,omitempty"`
	DetectedAt        time.Time       `json:"detectedAt"`
	ResolvedAt        *time.Time      `json:"resolvedAt,omitempty"`
	Resolution        string          `json:"resolution,omitempty"`
}

// Resolved reports whether the conflict has been closed.
func (c *ConflictRecord) Resolved() bool {
	return c.ResolvedAt != nil
}

// Tombstone reports a soft-deleted record in a pull response.
type Tombstone struct {
	ID                string    `json:"id"`
	ClientGeneratedID string    `json:"clientGeneratedId,omitempty"`
	DeletedAt         time.Time `json:"deletedAt"`
}

// DeletedSet groups tombstones by kind.
type DeletedSet struct {
	Tasks    []Tombstone `json:"tasks"`
	Projects []Tombstone `json:"projects"`
}

// PullResponse is the response body of GET /api/v1/sync/pull. Cursor is
// passed back on the next pull.
type PullResponse struct {
	Tasks    []entity.Task    `json:"tasks"`
	Projects []entity.Project `json:"projects"`
	Deleted  DeletedSet       `json:"deleted"`
	Cursor   int64            `json:"cursor"`
	LastSync time.Time        `json:"lastSync"`
}
