package client

import (
	"encoding/json"
	"time"
)

// Entity kinds served by a default tasksync server
const (
	KindTask    = "task"
	KindProject = "project"
)

// OperationType is the mutation a push operation performs
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Operation is one queued local mutation
type Operation struct {
	EntityKind        string          `json:"entityKind"`
	Operation         OperationType   `json:"operation"`
	Data              json.RawMessage `json:"data"`
	EntityID          string          `json:"entityId,omitempty"`
	ClientGeneratedID string          `json:"clientGeneratedId,omitempty"`
	ClientVersion     *int64          `json:"clientVersion,omitempty"`
}

// PushRequest is a batch of operations applied in one server transaction
type PushRequest struct {
	PushID     string      `json:"pushId,omitempty"` // retry key, replayed for 24h by default
	Operations []Operation `json:"operations"`
}

// OutcomeType classifies the result of one operation
type OutcomeType string

const (
	OutcomeCreated  OutcomeType = "created"
	OutcomeUpdated  OutcomeType = "updated"
	OutcomeDeleted  OutcomeType = "deleted"
	OutcomeConflict OutcomeType = "conflict"
	OutcomeError    OutcomeType = "error"
)

// Conflict reasons reported in Outcome.Reason
const (
	ReasonVersionConflict = "version_conflict"
	ReasonDuplicateCreate = "duplicate_create"
	ReasonNotFound        = "not_found"
)

// Outcome is the server's answer for one operation
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

// PushResponse splits outcomes into applied and not applied
type PushResponse struct {
	Processed []Outcome `json:"processed"`
	Conflicts []Outcome `json:"conflicts"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncMeta is the bookkeeping every record carries
type SyncMeta struct {
	SyncVersion  int64      `json:"syncVersion"`
	SyncStatus   string     `json:"syncStatus"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Task is a server task record
type Task struct {
	ID                string     `json:"id"`
	ClientGeneratedID string     `json:"clientGeneratedId,omitempty"`
	ProjectID         *string    `json:"projectId"`
	ParentTaskID      *string    `json:"parentTaskId"`
	Title             string     `json:"title"`
	Description       *string    `json:"description"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	DueDate           *time.Time `json:"dueDate"`
	CompletedAt       *time.Time `json:"completedAt"`
	Tags              []string   `json:"tags"`
	SyncMeta
}

// Project is a server project record
type Project struct {
	ID                string  `json:"id"`
	ClientGeneratedID string  `json:"clientGeneratedId,omitempty"`
	Name              string  `json:"name"`
	Description       *string `json:"description"`
	Color             string  `json:"color"`
	Archived          bool    `json:"archived"`
	SyncMeta
}

// Tombstone reports a record deleted on the server
type Tombstone struct {
	ID                string    `json:"id"`
	ClientGeneratedID string    `json:"clientGeneratedId,omitempty"`
	DeletedAt         time.Time `json:"deletedAt"`
}

// DeletedSet groups tombstones by kind
type DeletedSet struct {
	Tasks    []Tombstone `json:"tasks"`
	Projects []Tombstone `json:"projects"`
}

// PullResponse is one page of changes. Pass Cursor to the next Pull.
type PullResponse struct {
	Tasks    []Task     `json:"tasks"`
	Projects []Project  `json:"projects"`
	Deleted  DeletedSet `json:"deleted"`
	Cursor   int64      `json:"cursor"`
	LastSync time.Time  `json:"lastSync"`
}

// Conflict is a stored conflict awaiting (or closed by) a resolution
type Conflict struct {
	ID                string          `json:"id"`
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

// Resolved reports whether the conflict has been closed
func (c Conflict) Resolved() bool {
	return c.ResolvedAt != nil
}

// Strategy selects how a conflict is settled
type Strategy string

const (
	ServerWins Strategy = "server_wins"
	ClientWins Strategy = "client_wins"
	Merge      Strategy = "merge"
	Manual     Strategy = "manual"
)

// Resolution tells the client what to do locally after a resolve
type Resolution struct {
	Strategy    Strategy        `json:"strategy"`
	Resubmit    *Operation      `json:"resubmit,omitempty"`
	Adopt       json.RawMessage `json:"adopt,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	NeedsReview bool            `json:"needsReview"`
	Residuals   []string        `json:"residuals,omitempty"`
}

// ResolveResponse pairs the updated conflict with the decision
type ResolveResponse struct {
	Conflict   Conflict   `json:"conflict"`
	Resolution Resolution `json:"resolution"`
}

// Health is the public health report
type Health struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Kinds         []string `json:"kinds"`
	TaskCount     int64    `json:"taskCount"`
	ProjectCount  int64    `json:"projectCount"`
	OpenConflicts int64    `json:"openConflicts"`
}

// Error codes returned in APIError.Code
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeBadRequest   = "BAD_REQUEST"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_ERROR"
)

// FieldError is one rejected request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// EventChanges is the only change stream event type
const EventChanges = "changes"

// Event announces that the owner's data changed. Pull to fetch it.
type Event struct {
	Type      string    `json:"type"`
	Applied   int       `json:"applied"`
	Conflicts int       `json:"conflicts"`
	Timestamp time.Time `json:"timestamp"`
}
