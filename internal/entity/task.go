package entity

import (
	"encoding/json"
	"time"

	"github.com/hyperengineering/tasksync/internal/validation"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
	// TaskDeleted marks a soft-deleted task. Only a delete operation sets it.
	TaskDeleted TaskStatus = "deleted"
)

// TaskPriority orders tasks by urgency.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Task defaults applied on create when the payload omits a field.
const (
	DefaultTaskTitle    = "Untitled Task"
	DefaultTaskStatus   = TaskTodo
	DefaultTaskPriority = PriorityMedium

	MaxTitleLength       = 255
	MaxDescriptionLength = 10000
	MaxTags              = 50
	MaxTagLength         = 64
)

var (
	clientTaskStatuses = []string{string(TaskTodo), string(TaskInProgress), string(TaskDone), string(TaskCancelled)}
	taskPriorities     = []string{string(PriorityLow), string(PriorityMedium), string(PriorityHigh), string(PriorityUrgent)}
)

// Task is a persisted task record.
type Task struct {
	ID                string       `json:"id"`
	OwnerID           string       `json:"-"`
	ClientGeneratedID string       `json:"clientGeneratedId,omitempty"`
	ProjectID         *string      `json:"projectId"`
	ParentTaskID      *string      `json:"parentTaskId"`
	Title             string       `json:"title"`
	Description       *string      `json:"description"`
	Status            TaskStatus   `json:"status"`
	Priority          TaskPriority `json:"priority"`
	DueDate           *time.Time   `json:"dueDate"`
	CompletedAt       *time.Time   `json:"completedAt"`
	Tags              []string     `json:"tags"`
	SyncMeta
}

// Deleted reports whether the task carries the soft-delete marker.
func (t *Task) Deleted() bool {
	return t.Status == TaskDeleted
}

// TaskPayload is the typed `data` object of a task operation.
type TaskPayload struct {
	ID           Field[string]       `json:"id,omitzero"`
	ProjectID    Field[string]       `json:"projectId,omitzero"`
	ParentTaskID Field[string]       `json:"parentTaskId,omitzero"`
	Title        Field[string]       `json:"title,omitzero"`
	Description  Field[string]       `json:"description,omitzero"`
	Status       Field[TaskStatus]   `json:"status,omitzero"`
	Priority     Field[TaskPriority] `json:"priority,omitzero"`
	DueDate      Field[time.Time]    `json:"dueDate,omitzero"`
	CompletedAt  Field[time.Time]    `json:"completedAt,omitzero"`
	Tags         Field[[]string]     `json:"tags,omitzero"`
	Echoed
}

// DecodeTaskPayload decodes and validates a task payload.
func DecodeTaskPayload(data json.RawMessage) (TaskPayload, error) {
	var p TaskPayload
	if err := decodeStrict(data, &p); err != nil {
		return TaskPayload{}, err
	}
	if err := p.Validate(); err != nil {
		return TaskPayload{}, err
	}
	return p, nil
}

// Validate checks the fields present in the payload.
func (p TaskPayload) Validate() error {
	var c validation.Collector

	c.Add(nonNullable("title", p.Title.Set, p.Title.Null))
	if p.Title.Present() {
		c.Add(validation.ValidateRequired("title", p.Title.Value))
		c.Add(validation.ValidateMaxLength("title", p.Title.Value, MaxTitleLength))
		c.Add(validation.ValidateNoNullBytes("title", p.Title.Value))
	}
	if p.Description.Present() {
		c.Add(validation.ValidateMaxLength("description", p.Description.Value, MaxDescriptionLength))
		c.Add(validation.ValidateNoNullBytes("description", p.Description.Value))
	}

	c.Add(nonNullable("status", p.Status.Set, p.Status.Null))
	if p.Status.Present() {
		c.Add(validation.ValidateEnum("status", string(p.Status.Value), clientTaskStatuses))
	}
	c.Add(nonNullable("priority", p.Priority.Set, p.Priority.Null))
	if p.Priority.Present() {
		c.Add(validation.ValidateEnum("priority", string(p.Priority.Value), taskPriorities))
	}

	if p.ProjectID.Present() {
		c.Add(validation.ValidateRequired("projectId", p.ProjectID.Value))
	}
	if p.ParentTaskID.Present() {
		c.Add(validation.ValidateRequired("parentTaskId", p.ParentTaskID.Value))
	}

	if p.Tags.Present() {
		if len(p.Tags.Value) > MaxTags {
			c.Add(&validation.ValidationError{Field: "tags", Message: "exceeds maximum of 50 tags"})
		}
		for _, tag := range p.Tags.Value {
			c.Add(validation.ValidateRequired("tags", tag))
			c.Add(validation.ValidateMaxLength("tags", tag, MaxTagLength))
		}
	}

	return payloadErr(&c)
}

// NewTask materializes a task from a create payload, filling defaults for
// any required field the payload omits.
func NewTask(id, ownerID, clientGeneratedID string, p TaskPayload, now time.Time) *Task {
	t := &Task{
		ID:                id,
		OwnerID:           ownerID,
		ClientGeneratedID: clientGeneratedID,
		Title:             DefaultTaskTitle,
		Status:            DefaultTaskStatus,
		Priority:          DefaultTaskPriority,
		Tags:              []string{},
	}
	t.Apply(p)
	t.Created(now)
	return t
}

// Apply merges the payload into the task. Every field present in the
// payload replaces the stored value; absent fields are left untouched.
func (t *Task) Apply(p TaskPayload) {
	if p.ProjectID.Set {
		t.ProjectID = strPtr(p.ProjectID)
	}
	if p.ParentTaskID.Set {
		t.ParentTaskID = strPtr(p.ParentTaskID)
	}
	if p.Title.Present() {
		t.Title = p.Title.Value
	}
	if p.Description.Set {
		t.Description = strPtr(p.Description)
	}
	if p.Status.Present() {
		t.Status = p.Status.Value
	}
	if p.Priority.Present() {
		t.Priority = p.Priority.Value
	}
	if p.DueDate.Set {
		t.DueDate = timePtr(p.DueDate)
	}
	if p.CompletedAt.Set {
		t.CompletedAt = timePtr(p.CompletedAt)
	}
	if p.Tags.Set {
		if p.Tags.Null {
			t.Tags = []string{}
		} else {
			t.Tags = append([]string{}, p.Tags.Value...)
		}
	}
}

// MarkDeleted applies the task soft-delete marker.
func (t *Task) MarkDeleted() {
	t.Status = TaskDeleted
}
