// Package project applies sync operations to project records.
package project

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/tasksync/internal/entity"
	"github.com/hyperengineering/tasksync/internal/kind"
	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// Processor handles entityKind "project".
type Processor struct {
	newID func() string
}

var _ kind.Processor = (*Processor)(nil)

// New returns a project processor that assigns ULID server ids.
func New() *Processor {
	return &Processor{newID: func() string { return ulid.Make().String() }}
}

func (p *Processor) Kind() string { return tasksync.KindProject }

func (p *Processor) LookupClientID(ctx context.Context, tx store.Tx, ownerID, clientGeneratedID string) (string, error) {
	pr, err := tx.FindProjectByClientID(ctx, ownerID, clientGeneratedID)
	if err != nil {
		return "", err
	}
	return pr.ID, nil
}

func (p *Processor) Create(ctx context.Context, tx store.Tx, req kind.Request) (tasksync.Outcome, error) {
	payload, err := entity.DecodeProjectPayload(req.Op.Data)
	if err != nil {
		return tasksync.Outcome{}, err
	}

	if cid := req.Op.ClientGeneratedID; cid != "" {
		existing, err := tx.FindProjectByClientID(ctx, req.OwnerID, cid)
		if err == nil {
			return kind.Conflict(p.Kind(), tasksync.ReasonDuplicateCreate, existing.ID, req, existing)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return tasksync.Outcome{}, err
		}
	}

	pr := entity.NewProject(p.newID(), req.OwnerID, req.Op.ClientGeneratedID, payload, req.Now)
	if err := tx.InsertProject(ctx, pr); err != nil {
		return tasksync.Outcome{}, err
	}

	return kind.Applied(tasksync.OutcomeCreated, p.Kind(), pr.ID, pr.ClientGeneratedID, pr.SyncVersion), nil
}

func (p *Processor) Update(ctx context.Context, tx store.Tx, req kind.Request) (tasksync.Outcome, error) {
	payload, err := entity.DecodeProjectPayload(req.Op.Data)
	if err != nil {
		return tasksync.Outcome{}, err
	}

	current, outcome, err := kind.Load(ctx, p.Kind(), req, tx.GetProject)
	if current == nil {
		return outcome, err
	}

	prev := current.SyncVersion
	current.Apply(payload)
	current.Applied(tasksync.NextVersion(prev), req.Now)
	if err := tx.UpdateProject(ctx, current, prev); err != nil {
		return tasksync.Outcome{}, err
	}

	return kind.Applied(tasksync.OutcomeUpdated, p.Kind(), current.ID, current.ClientGeneratedID, current.SyncVersion), nil
}

// Delete archives the project. Tasks filed under it are left untouched.
func (p *Processor) Delete(ctx context.Context, tx store.Tx, req kind.Request) (tasksync.Outcome, error) {
	current, outcome, err := kind.Load(ctx, p.Kind(), req, tx.GetProject)
	if current == nil {
		return outcome, err
	}

	prev := current.SyncVersion
	current.MarkDeleted()
	current.Applied(tasksync.NextVersion(prev), req.Now)
	if err := tx.UpdateProject(ctx, current, prev); err != nil {
		return tasksync.Outcome{}, err
	}

	return kind.Applied(tasksync.OutcomeDeleted, p.Kind(), current.ID, current.ClientGeneratedID, current.SyncVersion), nil
}
