package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

const conflictColumns = `id, owner_id, entity_type, entity_id, client_generated_id, operation, reason,
	client_version, client_data, server_data, detected_at, resolved_at, resolution`

func scanConflict(scanner rowScanner) (*tasksync.ConflictRecord, error) {
	var c tasksync.ConflictRecord
	var entityID, clientID, clientData, serverData, resolvedAt, resolution sql.NullString
	var clientVersion sql.NullInt64
	var operation, detectedAt string

	err := scanner.Scan(
		&c.ID, &c.OwnerID, &c.EntityType, &entityID, &clientID, &operation, &c.Reason,
		&clientVersion, &clientData, &serverData, &detectedAt, &resolvedAt, &resolution,
	)
	if err != nil {
		return nil, err
	}

	c.EntityID = entityID.String
	c.ClientGeneratedID = clientID.String
	c.Operation = tasksync.OperationType(operation)
	if clientVersion.Valid {
		v := clientVersion.Int64
		c.ClientVersion = &v
	}
	if clientData.Valid {
		c.ClientData = json.RawMessage(clientData.String)
	}
	if serverData.Valid {
		c.ServerData = json.RawMessage(serverData.String)
	}
	c.DetectedAt = parseTime(detectedAt)
	c.ResolvedAt = parseNullableTime(resolvedAt)
	c.Resolution = resolution.String
	return &c, nil
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

func nullableVersion(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (x *sqliteTx) RecordConflict(ctx context.Context, c *tasksync.ConflictRecord) error {
	_, err := x.tx.ExecContext(ctx, `INSERT INTO sync_conflicts (`+conflictColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		c.ID, c.OwnerID, c.EntityType, nullableText(c.EntityID), nullableText(c.ClientGeneratedID),
		string(c.Operation), c.Reason, nullableVersion(c.ClientVersion),
		nullablePayload(c.ClientData), nullablePayload(c.ServerData), formatTime(c.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}
	return nil
}

// ListConflicts returns the owner's conflicts, newest first. Resolved
// conflicts are only included when includeResolved is set.
func (s *SQLiteStore) ListConflicts(ctx context.Context, ownerID string, includeResolved bool) ([]tasksync.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE owner_id = ?`
	if !includeResolved {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []tasksync.ConflictRecord{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return conflicts, nil
}

// GetConflict returns one of the owner's conflicts.
func (s *SQLiteStore) GetConflict(ctx context.Context, ownerID, id string) (*tasksync.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE id = ? AND owner_id = ?`, id, ownerID)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	return c, nil
}

// MarkConflictResolved records the strategy that closed a conflict.
func (s *SQLiteStore) MarkConflictResolved(ctx context.Context, ownerID, id, resolution string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_conflicts SET resolved_at = ?, resolution = ?
		WHERE id = ? AND owner_id = ?
	`, formatTime(at), resolution, id, ownerID)
	if err != nil {
		return fmt.Errorf("mark conflict resolved: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeResolvedConflicts deletes conflicts resolved before the cutoff.
// Returns the number of conflicts removed.
func (s *SQLiteStore) PurgeResolvedConflicts(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_conflicts WHERE resolved_at IS NOT NULL AND resolved_at < ?
	`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purge resolved conflicts: %w", err)
	}
	return result.RowsAffected()
}
