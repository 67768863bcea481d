package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperengineering/tasksync/internal/entity"
)

const projectColumns = `id, owner_id, client_generated_id, name, description, color, archived,
	sync_version, sync_status, last_synced_at, created_at, updated_at`

func scanProject(scanner rowScanner) (*entity.Project, error) {
	var p entity.Project
	var clientID, description, lastSyncedAt sql.NullString
	var syncStatus, createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID, &p.OwnerID, &clientID, &p.Name, &description, &p.Color, &p.Archived,
		&p.SyncVersion, &syncStatus, &lastSyncedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ClientGeneratedID = clientID.String
	p.Description = stringPtr(description)
	p.SyncStatus = entity.SyncStatus(syncStatus)
	p.LastSyncedAt = parseNullableTime(lastSyncedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func getProject(ctx context.Context, q queryer, where string, args ...any) (*entity.Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+where, args...)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}

func (x *sqliteTx) GetProject(ctx context.Context, ownerID, id string) (*entity.Project, error) {
	return getProject(ctx, x.tx, `id = ? AND owner_id = ?`, id, ownerID)
}

func (x *sqliteTx) FindProjectByClientID(ctx context.Context, ownerID, clientGeneratedID string) (*entity.Project, error) {
	return getProject(ctx, x.tx, `owner_id = ? AND client_generated_id = ?`, ownerID, clientGeneratedID)
}

func (x *sqliteTx) InsertProject(ctx context.Context, p *entity.Project) error {
	seq, err := x.nextSequence(ctx)
	if err != nil {
		return err
	}

	_, err = x.tx.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`, change_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, nullableText(p.ClientGeneratedID), p.Name, nullableString(p.Description),
		p.Color, p.Archived, p.SyncVersion, string(p.SyncStatus),
		formatNullableTime(p.LastSyncedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt), seq,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert project %s: %w", p.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (x *sqliteTx) UpdateProject(ctx context.Context, p *entity.Project, prevVersion int64) error {
	seq, err := x.nextSequence(ctx)
	if err != nil {
		return err
	}

	result, err := x.tx.ExecContext(ctx, `
		UPDATE projects SET
			name = ?, description = ?, color = ?, archived = ?, sync_version = ?,
			sync_status = ?, last_synced_at = ?, updated_at = ?, change_seq = ?
		WHERE id = ? AND owner_id = ? AND sync_version = ?`,
		p.Name, nullableString(p.Description), p.Color, p.Archived, p.SyncVersion,
		string(p.SyncStatus), formatNullableTime(p.LastSyncedAt), formatTime(p.UpdatedAt),
		seq, p.ID, p.OwnerID, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update project %s at version %d: %w", p.ID, prevVersion, ErrVersionMismatch)
	}
	return nil
}

func listProjectsChanged(ctx context.Context, q queryer, ownerID string, after, upTo int64) ([]entity.Project, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE owner_id = ? AND change_seq > ? AND change_seq <= ?
		ORDER BY change_seq ASC`, ownerID, after, upTo)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []entity.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return projects, nil
}
