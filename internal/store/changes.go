package store

import (
	"context"
	"fmt"
)

// nextSequence claims the next change sequence inside the write
// transaction. Writers are serialized, so sequences commit in the order
// they are claimed.
func (x *sqliteTx) nextSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := x.tx.QueryRowContext(ctx,
		`UPDATE sync_sequence SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("claim change sequence: %w", err)
	}
	return seq, nil
}

// LatestSequence returns the highest committed change sequence.
func (s *SQLiteStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_sequence WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get latest sequence: %w", err)
	}
	return seq, nil
}

// Changes returns the owner's records written after the cursor, in write
// order, together with the cursor for the next call. Every sequence up to
// the returned cursor belongs to a committed transaction, so a record
// written concurrently lands after it and is returned by the next call.
// A cursor ahead of the store (a restored database) restarts from zero.
func (s *SQLiteStore) Changes(ctx context.Context, ownerID string, after int64) (*ChangeSet, error) {
	latest, err := s.LatestSequence(ctx)
	if err != nil {
		return nil, err
	}
	if after > latest {
		after = 0
	}

	tasks, err := listTasksChanged(ctx, s.db, ownerID, after, latest)
	if err != nil {
		return nil, err
	}
	projects, err := listProjectsChanged(ctx, s.db, ownerID, after, latest)
	if err != nil {
		return nil, err
	}
	return &ChangeSet{Tasks: tasks, Projects: projects, Cursor: latest}, nil
}
