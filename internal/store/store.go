package store

import (
	"context"
	"time"

	"github.com/hyperengineering/tasksync/internal/entity"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// Tx is the set of owner-scoped operations available inside one push
// transaction. Every read filters by owner; a record owned by someone else
// is reported as ErrNotFound.
type Tx interface {
	GetTask(ctx context.Context, ownerID, id string) (*entity.Task, error)
	FindTaskByClientID(ctx context.Context, ownerID, clientGeneratedID string) (*entity.Task, error)
	InsertTask(ctx context.Context, t *entity.Task) error
	// UpdateTask writes t if the stored version still equals prevVersion.
	UpdateTask(ctx context.Context, t *entity.Task, prevVersion int64) error

	GetProject(ctx context.Context, ownerID, id string) (*entity.Project, error)
	FindProjectByClientID(ctx context.Context, ownerID, clientGeneratedID string) (*entity.Project, error)
	InsertProject(ctx context.Context, p *entity.Project) error
	UpdateProject(ctx context.Context, p *entity.Project, prevVersion int64) error

	RecordConflict(ctx context.Context, c *tasksync.ConflictRecord) error
}

// Store is the durable entity store behind the sync engine.
type Store interface {
	// WithTx runs fn inside one write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Changes returns the owner's records written after the change cursor.
	Changes(ctx context.Context, ownerID string, after int64) (*ChangeSet, error)

	ListConflicts(ctx context.Context, ownerID string, includeResolved bool) ([]tasksync.ConflictRecord, error)
	GetConflict(ctx context.Context, ownerID, id string) (*tasksync.ConflictRecord, error)
	MarkConflictResolved(ctx context.Context, ownerID, id, resolution string, at time.Time) error
	PurgeResolvedConflicts(ctx context.Context, before time.Time) (int64, error)

	CheckPushIdempotency(ctx context.Context, ownerID, pushID string) ([]byte, bool, error)
	RecordPushIdempotency(ctx context.Context, ownerID, pushID string, response []byte, ttl time.Duration) error
	CleanExpiredIdempotency(ctx context.Context) (int64, error)

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// ChangeSet is one pull page. Soft-deleted records are included.
type ChangeSet struct {
	Tasks    []entity.Task
	Projects []entity.Project
	Cursor   int64
}

// Stats summarizes the store contents.
type Stats struct {
	TaskCount          int64 `json:"task_count"`
	ProjectCount       int64 `json:"project_count"`
	OpenConflictCount  int64 `json:"open_conflict_count"`
	IdempotencyEntries int64 `json:"idempotency_entries"`
}
