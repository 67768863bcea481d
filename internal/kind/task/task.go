// Package task applies sync operations to task records.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/tasksync/internal/entity"
	"github.com/hyperengineering/tasksync/internal/kind"
	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// Processor handles entityKind "task".
type Processor struct {
	newID func() string
}

var _ kind.Processor = (*Processor)(nil)

// New returns a task processor that assigns ULID server ids.
func New() *Processor {
	return &Processor{newID: func() string { return ulid.Make().String() }}
}

func (p *Processor) Kind() string { return tasksync.KindTask }

func (p *Processor) LookupClientID(ctx context.Context, tx store.Tx, ownerID, clientGeneratedID string) (string, error) {
	t, err := tx.FindTaskByClientID(ctx, ownerID, clientGeneratedID)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// Create inserts a new task, or reports duplicate_create when the owner
// already has a task with the operation's client generated id.
func (p *Processor) Create(ctx context.Context, tx store.Tx, req kind.Request) (tasksync.Outcome, error) {
	payload, err := entity.DecodeTaskPayload(req.Op.Data)
	if err != nil {
		return tasksync.Outcome{}, err
	}

	if cid := req.Op.ClientGeneratedID; cid != "" {
		existing, err := tx.FindTaskByClientID(ctx, req.OwnerID, cid)
		if err == nil {
			return kind.Conflict(p.Kind(), tasksync.ReasonDuplicateCreate, existing.ID, req, existing)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return tasksync.Outcome{}, err
		}
	}

	id := p.newID()
	if err := p.resolveRefs(ctx, tx, req, id, &payload); err != nil {
		return tasksync.Outcome{}, err
	}

	t := entity.NewTask(id, req.OwnerID, req.Op.ClientGeneratedID, payload, req.Now)
	if err := tx.InsertTask(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			if existing, ferr := tx.FindTaskByClientID(ctx, req.OwnerID, req.Op.ClientGeneratedID); ferr == nil {
				return kind.Conflict(p.Kind(), tasksync.ReasonDuplicateCreate, existing.ID, req, existing)
			}
		}
		return tasksync.Outcome{}, err
	}

	return kind.Applied(tasksync.OutcomeCreated, p.Kind(), t.ID, t.ClientGeneratedID, t.SyncVersion), nil
}

// Update merges the payload into the stored task when the client is not
// behind.
func (p *Processor) Update(ctx context.Context, tx store.Tx, req kind.Request) (tasksync.Outcome, error) {
	payload, err := entity.DecodeTaskPayload(req.Op.Data)
	if err != nil {
		return tasksync.Outcome{}, err
	}

	current, outcome, err := kind.Load(ctx, p.Kind(), req, tx.GetTask)
	if current == nil {
		return outcome, err
	}

	if err := p.resolveRefs(ctx, tx, req, current.ID, &payload); err != nil {
		return tasksync.Outcome{}, err
	}

	prev := current.SyncVersion
	current.Apply(payload)
	current.Applied(tasksync.NextVersion(prev), req.Now)
	if err := tx.UpdateTask(ctx, current, prev); err != nil {
		return tasksync.Outcome{}, err
	}

	return kind.Applied(tasksync.OutcomeUpdated, p.Kind(), current.ID, current.ClientGeneratedID, current.SyncVersion), nil
}

// Delete soft-deletes the task by moving it to status deleted.
func (p *Processor) Delete(ctx context.Context, tx store.Tx, req kind.Request) (tasksync.Outcome, error) {
	current, outcome, err := kind.Load(ctx, p.Kind(), req, tx.GetTask)
	if current == nil {
		return outcome, err
	}

	prev := current.SyncVersion
	current.MarkDeleted()
	current.Applied(tasksync.NextVersion(prev), req.Now)
	if err := tx.UpdateTask(ctx, current, prev); err != nil {
		return tasksync.Outcome{}, err
	}

	return kind.Applied(tasksync.OutcomeDeleted, p.Kind(), current.ID, current.ClientGeneratedID, current.SyncVersion), nil
}

// resolveRefs rewrites projectId and parentTaskId to server ids. Both may
// name a record by client generated id.
func (p *Processor) resolveRefs(ctx context.Context, tx store.Tx, req kind.Request, selfID string, payload *entity.TaskPayload) error {
	if payload.ProjectID.Present() {
		id, err := kind.ResolveRef(ctx, req, tasksync.KindProject, payload.ProjectID.Value,
			func(ctx context.Context, id string) error {
				_, err := tx.GetProject(ctx, req.OwnerID, id)
				return err
			},
			func(ctx context.Context, cid string) (string, error) {
				pr, err := tx.FindProjectByClientID(ctx, req.OwnerID, cid)
				if err != nil {
					return "", err
				}
				return pr.ID, nil
			})
		if err != nil {
			return fmt.Errorf("projectId: %w", err)
		}
		payload.ProjectID = entity.Some(id)
	}

	if payload.ParentTaskID.Present() {
		id, err := kind.ResolveRef(ctx, req, tasksync.KindTask, payload.ParentTaskID.Value,
			func(ctx context.Context, id string) error {
				_, err := tx.GetTask(ctx, req.OwnerID, id)
				return err
			},
			func(ctx context.Context, cid string) (string, error) {
				return p.LookupClientID(ctx, tx, req.OwnerID, cid)
			})
		if err != nil {
			return fmt.Errorf("parentTaskId: %w", err)
		}
		if err := checkAncestry(ctx, tx, req.OwnerID, selfID, id); err != nil {
			return fmt.Errorf("parentTaskId: %w", err)
		}
		payload.ParentTaskID = entity.Some(id)
	}

	return nil
}

// maxParentDepth bounds the walk up a parent chain.
const maxParentDepth = 1000

// checkAncestry rejects parentID when the task selfID is parentID itself
// or one of its ancestors.
func checkAncestry(ctx context.Context, tx store.Tx, ownerID, selfID, parentID string) error {
	if parentID == selfID {
		return fmt.Errorf("%w: task cannot be its own parent", kind.ErrInvalidReference)
	}
	id := parentID
	for depth := 0; depth < maxParentDepth; depth++ {
		t, err := tx.GetTask(ctx, ownerID, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.ParentTaskID == nil {
			return nil
		}
		id = *t.ParentTaskID
		if id == selfID {
			return fmt.Errorf("%w: task %s is an ancestor of %s", kind.ErrInvalidReference, selfID, parentID)
		}
	}
	return fmt.Errorf("%w: parent chain deeper than %d", kind.ErrInvalidReference, maxParentDepth)
}
