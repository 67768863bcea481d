// Package kind defines how one entity kind applies sync operations and the
// registry the batch coordinator dispatches through.
package kind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// Processor applies create, update and delete operations for one entity
// kind. Implementations return a conflict outcome for logical conflicts and
// an error for anything the caller got wrong; they never write outside tx.
type Processor interface {
	// Kind returns the entityKind value this processor handles.
	Kind() string

	Create(ctx context.Context, tx store.Tx, req Request) (tasksync.Outcome, error)
	Update(ctx context.Context, tx store.Tx, req Request) (tasksync.Outcome, error)
	Delete(ctx context.Context, tx store.Tx, req Request) (tasksync.Outcome, error)

	// LookupClientID returns the server id of the owner's record with the
	// given client generated id, or store.ErrNotFound.
	LookupClientID(ctx context.Context, tx store.Tx, ownerID, clientGeneratedID string) (string, error)
}

// Refs resolves client generated ids of records created earlier in the
// same batch.
type Refs interface {
	Lookup(kind, clientGeneratedID string) (string, bool)
}

// Request is one operation prepared for a processor.
type Request struct {
	OwnerID string
	Op      tasksync.Operation
	// TargetID is the resolved server id for update and delete. Empty when
	// the operation names no record the coordinator could find.
	TargetID string
	Refs     Refs
	Now      time.Time
}

// Dispatch routes req to the processor method for its operation type.
func Dispatch(ctx context.Context, p Processor, tx store.Tx, req Request) (tasksync.Outcome, error) {
	switch req.Op.Operation {
	case tasksync.OpCreate:
		return p.Create(ctx, tx, req)
	case tasksync.OpUpdate:
		return p.Update(ctx, tx, req)
	case tasksync.OpDelete:
		return p.Delete(ctx, tx, req)
	default:
		return tasksync.Outcome{}, fmt.Errorf("%w: %s", ErrUnsupportedOperation, req.Op.Operation)
	}
}

// ResolveRef maps ref to a server id of the given kind. ref may be a server
// id or a client generated id, including one created earlier in the batch.
// byID returns store.ErrNotFound when the owner has no record with that id.
func ResolveRef(
	ctx context.Context,
	req Request,
	kind, ref string,
	byID func(ctx context.Context, id string) error,
	byClientID func(ctx context.Context, clientGeneratedID string) (string, error),
) (string, error) {
	err := byID(ctx, ref)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if req.Refs != nil {
		if id, ok := req.Refs.Lookup(kind, ref); ok {
			return id, nil
		}
	}
	id, err := byClientID(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s %q not found", ErrInvalidReference, kind, ref)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Load reads the target of an update or delete through get and runs the
// version check. It returns nil together with the outcome to report when
// the mutation must not proceed.
func Load[E any, P interface {
	*E
	Version() int64
}](ctx context.Context, kind string, req Request, get func(ctx context.Context, ownerID, id string) (P, error)) (P, tasksync.Outcome, error) {
	var current P
	var stored *int64
	if req.TargetID != "" {
		rec, err := get(ctx, req.OwnerID, req.TargetID)
		switch {
		case err == nil:
			current = rec
			v := rec.Version()
			stored = &v
		case !errors.Is(err, store.ErrNotFound):
			return nil, tasksync.Outcome{}, err
		}
	}

	switch tasksync.Decide(stored, req.Op.ClientVersion, req.Op.Operation) {
	case tasksync.NotFound:
		return nil, NotFound(kind, req), nil
	case tasksync.Conflict:
		out, err := Conflict(kind, tasksync.ReasonVersionConflict, req.TargetID, req, current)
		return nil, out, err
	}
	return current, tasksync.Outcome{}, nil
}

// Applied builds the processed outcome of a successful mutation.
func Applied(typ tasksync.OutcomeType, kind, id, clientGeneratedID string, version int64) tasksync.Outcome {
	return tasksync.Outcome{
		Type:              typ,
		EntityType:        kind,
		ID:                id,
		ClientGeneratedID: clientGeneratedID,
		Version:           version,
	}
}

// NotFound builds the conflict outcome for an update or delete whose
// target the owner cannot see.
func NotFound(kind string, req Request) tasksync.Outcome {
	entityID := req.TargetID
	if entityID == "" {
		entityID = req.Op.TargetID()
	}
	return tasksync.Outcome{
		Type:              tasksync.OutcomeConflict,
		EntityType:        kind,
		EntityID:          entityID,
		ClientGeneratedID: req.Op.ClientGeneratedID,
		Reason:            tasksync.ReasonNotFound,
		ClientData:        req.Op.Data,
	}
}

// Conflict builds a conflict outcome carrying the authoritative record.
func Conflict(kind, reason, entityID string, req Request, server any) (tasksync.Outcome, error) {
	serverData, err := json.Marshal(server)
	if err != nil {
		return tasksync.Outcome{}, fmt.Errorf("marshal server copy: %w", err)
	}
	return tasksync.Outcome{
		Type:              tasksync.OutcomeConflict,
		EntityType:        kind,
		EntityID:          entityID,
		ClientGeneratedID: req.Op.ClientGeneratedID,
		Reason:            reason,
		ClientData:        req.Op.Data,
		ServerData:        serverData,
	}, nil
}
