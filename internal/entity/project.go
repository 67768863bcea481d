package entity

import (
	"encoding/json"
	"time"

	"github.com/hyperengineering/tasksync/internal/validation"
)

// Project defaults applied on create when the payload omits a field.
const (
	DefaultProjectName  = "Untitled Project"
	DefaultProjectColor = "#3b82f6"

	MaxNameLength = 255
)

// Project is a persisted project record. Projects are the containers tasks
// are filed under.
type Project struct {
	ID                string  `json:"id"`
	OwnerID           string  `json:"-"`
	ClientGeneratedID string  `json:"clientGeneratedId,omitempty"`
	Name              string  `json:"name"`
	Description       *string `json:"description"`
	Color             string  `json:"color"`
	Archived          bool    `json:"archived"`
	SyncMeta
}

// ProjectPayload is the typed `data` object of a project operation.
type ProjectPayload struct {
	ID          Field[string] `json:"id,omitzero"`
	Name        Field[string] `json:"name,omitzero"`
	Description Field[string] `json:"description,omitzero"`
	Color       Field[string] `json:"color,omitzero"`
	Archived    Field[bool]   `json:"archived,omitzero"`
	Echoed
}

// DecodeProjectPayload decodes and validates a project payload.
func DecodeProjectPayload(data json.RawMessage) (ProjectPayload, error) {
	var p ProjectPayload
	if err := decodeStrict(data, &p); err != nil {
		return ProjectPayload{}, err
	}
	if err := p.Validate(); err != nil {
		return ProjectPayload{}, err
	}
	return p, nil
}

// Validate checks the fields present in the payload.
func (p ProjectPayload) Validate() error {
	var c validation.Collector

	c.Add(nonNullable("name", p.Name.Set, p.Name.Null))
	if p.Name.Present() {
		c.Add(validation.ValidateRequired("name", p.Name.Value))
		c.Add(validation.ValidateMaxLength("name", p.Name.Value, MaxNameLength))
		c.Add(validation.ValidateNoNullBytes("name", p.Name.Value))
	}
	if p.Description.Present() {
		c.Add(validation.ValidateMaxLength("description", p.Description.Value, MaxDescriptionLength))
		c.Add(validation.ValidateNoNullBytes("description", p.Description.Value))
	}
	if p.Color.Present() {
		c.Add(validation.ValidateHexColor("color", p.Color.Value))
	}
	c.Add(nonNullable("archived", p.Archived.Set, p.Archived.Null))

	return payloadErr(&c)
}

// NewProject materializes a project from a create payload.
func NewProject(id, ownerID, clientGeneratedID string, p ProjectPayload, now time.Time) *Project {
	pr := &Project{
		ID:                id,
		OwnerID:           ownerID,
		ClientGeneratedID: clientGeneratedID,
		Name:              DefaultProjectName,
		Color:             DefaultProjectColor,
	}
	pr.Apply(p)
	pr.Created(now)
	return pr
}

// Apply merges the payload into the project, replacing present fields.
func (pr *Project) Apply(p ProjectPayload) {
	if p.Name.Present() {
		pr.Name = p.Name.Value
	}
	if p.Description.Set {
		pr.Description = strPtr(p.Description)
	}
	if p.Color.Set {
		if p.Color.Null {
			pr.Color = DefaultProjectColor
		} else {
			pr.Color = p.Color.Value
		}
	}
	if p.Archived.Present() {
		pr.Archived = p.Archived.Value
	}
}

// MarkDeleted applies the project soft-delete marker.
func (pr *Project) MarkDeleted() {
	pr.Archived = true
}
