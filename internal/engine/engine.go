// Package engine runs push batches: every operation of a batch is applied
// in order inside one store transaction and resolves to exactly one of
// applied, conflict or error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/tasksync/internal/kind"
	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// reasonInternal is reported for failures whose details stay in the logs.
const reasonInternal = "internal error"

// Engine is the batch coordinator.
type Engine struct {
	store    store.Store
	registry *kind.Registry
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver replaces the default logging observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock sets the time source used to stamp records and conflicts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine that dispatches through registry.
func New(s store.Store, registry *kind.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		registry: registry,
		observer: NewLogObserver(slog.Default()),
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a committed batch.
type Result struct {
	Processed []tasksync.Outcome
	Conflicts []tasksync.Outcome
	Timestamp time.Time
}

// ProcessBatch applies ops for ownerID. Per-operation failures become
// error outcomes and the batch continues. An error return means the
// transaction did not commit and nothing was applied.
func (e *Engine) ProcessBatch(ctx context.Context, ownerID string, ops []tasksync.Operation) (*Result, error) {
	start := time.Now()

	var (
		now      time.Time
		outcomes []tasksync.Outcome
	)
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		// Stamped once the write lock is held.
		now = e.now().UTC()
		outcomes = make([]tasksync.Outcome, 0, len(ops))
		refs := newBatchRefs()

		for i := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}

			op := ops[i]
			out := e.process(ctx, tx, ownerID, op, refs, now)

			switch {
			case out.Type == tasksync.OutcomeCreated:
				refs.add(op.EntityKind, op.ClientGeneratedID, out.ID)
			case out.Type == tasksync.OutcomeConflict:
				id, err := e.recordConflict(ctx, tx, ownerID, op, out, now)
				if err != nil {
					return err
				}
				out.ConflictID = id
			}
			outcomes = append(outcomes, out)
		}
		return nil
	})

	stats := BatchStats{Operations: len(ops), Duration: time.Since(start), Err: err}
	if err != nil {
		e.observer.BatchProcessed(ctx, ownerID, stats)
		return nil, fmt.Errorf("process batch: %w", err)
	}

	res := &Result{
		Processed: []tasksync.Outcome{},
		Conflicts: []tasksync.Outcome{},
		Timestamp: now,
	}
	for i, out := range outcomes {
		e.observer.OperationProcessed(ctx, ownerID, ops[i], out)
		switch {
		case out.Applied():
			res.Processed = append(res.Processed, out)
			stats.Applied++
		case out.Type == tasksync.OutcomeConflict:
			res.Conflicts = append(res.Conflicts, out)
			stats.Conflicts++
		default:
			res.Conflicts = append(res.Conflicts, out)
			stats.Errors++
		}
	}
	e.observer.BatchProcessed(ctx, ownerID, stats)

	return res, nil
}

// process runs one operation and converts every failure, including a
// panic, into an error outcome.
func (e *Engine) process(ctx context.Context, tx store.Tx, ownerID string, op tasksync.Operation, refs *batchRefs, now time.Time) (out tasksync.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("operation panicked",
				"component", "engine",
				"action", "process_operation",
				"owner_id", ownerID,
				"entity_kind", op.EntityKind,
				"operation", op.Operation,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = errorOutcome(op, reasonInternal)
		}
	}()

	p, ok := e.registry.Get(op.EntityKind)
	if !ok {
		return errorOutcome(op, fmt.Sprintf("%s: %s", kind.ErrUnsupportedKind, op.EntityKind))
	}

	req := kind.Request{OwnerID: ownerID, Op: op, Refs: refs, Now: now}
	if op.Operation == tasksync.OpUpdate || op.Operation == tasksync.OpDelete {
		target, err := resolveTarget(ctx, tx, p, ownerID, op, refs)
		if err != nil {
			return e.failure(ownerID, op, err)
		}
		req.TargetID = target
	}

	out, err := kind.Dispatch(ctx, p, tx, req)
	if err != nil {
		return e.failure(ownerID, op, err)
	}
	return out
}

// failure maps a processor error to an error outcome. Caller mistakes are
// reported verbatim; anything else is logged and reported generically.
func (e *Engine) failure(ownerID string, op tasksync.Operation, err error) tasksync.Outcome {
	if isCallerError(err) {
		return errorOutcome(op, err.Error())
	}
	slog.Error("operation failed",
		"component", "engine",
		"action", "process_operation",
		"owner_id", ownerID,
		"entity_kind", op.EntityKind,
		"operation", op.Operation,
		"error", err,
	)
	return errorOutcome(op, reasonInternal)
}

func isCallerError(err error) bool {
	return errors.Is(err, kind.ErrInvalidPayload) ||
		errors.Is(err, kind.ErrUnsupportedOperation) ||
		errors.Is(err, kind.ErrUnsupportedKind) ||
		errors.Is(err, kind.ErrInvalidReference)
}

func errorOutcome(op tasksync.Operation, reason string) tasksync.Outcome {
	return tasksync.Outcome{
		Type:              tasksync.OutcomeError,
		EntityType:        op.EntityKind,
		EntityID:          op.TargetID(),
		ClientGeneratedID: op.ClientGeneratedID,
		Reason:            reason,
	}
}

// resolveTarget finds the server id an update or delete addresses:
// entityId, then data.id, then clientGeneratedId (batch creates first,
// then the store). An empty id means no such record.
func resolveTarget(ctx context.Context, tx store.Tx, p kind.Processor, ownerID string, op tasksync.Operation, refs *batchRefs) (string, error) {
	if id := op.TargetID(); id != "" {
		return id, nil
	}
	cid := op.ClientGeneratedID
	if cid == "" {
		return "", nil
	}
	if id, ok := refs.Lookup(op.EntityKind, cid); ok {
		return id, nil
	}
	id, err := p.LookupClientID(ctx, tx, ownerID, cid)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return id, err
}

func (e *Engine) recordConflict(ctx context.Context, tx store.Tx, ownerID string, op tasksync.Operation, out tasksync.Outcome, now time.Time) (string, error) {
	rec := &tasksync.ConflictRecord{
		ID:                e.newID(),
		OwnerID:           ownerID,
		EntityType:        out.EntityType,
		EntityID:          out.EntityID,
		ClientGeneratedID: out.ClientGeneratedID,
		Operation:         op.Operation,
		Reason:            out.Reason,
		ClientVersion:     op.ClientVersion,
		ClientData:        out.ClientData,
		ServerData:        out.ServerData,
		DetectedAt:        now,
	}
	if err := tx.RecordConflict(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Kinds returns the entity kinds this engine accepts.
func (e *Engine) Kinds() []string {
	return e.registry.Kinds()
}
