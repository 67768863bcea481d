package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperengineering/tasksync/internal/entity"
)

const taskColumns = `id, owner_id, client_generated_id, project_id, parent_task_id, title, description,
	status, priority, due_date, completed_at, tags, sync_version, sync_status,
	last_synced_at, created_at, updated_at`

func scanTask(scanner rowScanner) (*entity.Task, error) {
	var t entity.Task
	var clientID, projectID, parentID, description sql.NullString
	var dueDate, completedAt, lastSyncedAt sql.NullString
	var tagsJSON, createdAt, updatedAt string
	var status, priority, syncStatus string

	err := scanner.Scan(
		&t.ID, &t.OwnerID, &clientID, &projectID, &parentID, &t.Title, &description,
		&status, &priority, &dueDate, &completedAt, &tagsJSON, &t.SyncVersion, &syncStatus,
		&lastSyncedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ClientGeneratedID = clientID.String
	t.ProjectID = stringPtr(projectID)
	t.ParentTaskID = stringPtr(parentID)
	t.Description = stringPtr(description)
	t.Status = entity.TaskStatus(status)
	t.Priority = entity.TaskPriority(priority)
	t.DueDate = parseNullableTime(dueDate)
	t.CompletedAt = parseNullableTime(completedAt)
	t.SyncStatus = entity.SyncStatus(syncStatus)
	t.LastSyncedAt = parseNullableTime(lastSyncedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	t.Tags = []string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
			return nil, fmt.Errorf("parse tags JSON: %w", err)
		}
	}

	return &t, nil
}

func getTask(ctx context.Context, q queryer, where string, args ...any) (*entity.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+where, args...)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

func (x *sqliteTx) GetTask(ctx context.Context, ownerID, id string) (*entity.Task, error) {
	return getTask(ctx, x.tx, `id = ? AND owner_id = ?`, id, ownerID)
}

func (x *sqliteTx) FindTaskByClientID(ctx context.Context, ownerID, clientGeneratedID string) (*entity.Task, error) {
	return getTask(ctx, x.tx, `owner_id = ? AND client_generated_id = ?`, ownerID, clientGeneratedID)
}

func (x *sqliteTx) InsertTask(ctx context.Context, t *entity.Task) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	seq, err := x.nextSequence(ctx)
	if err != nil {
		return err
	}

	_, err = x.tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`, change_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, nullableText(t.ClientGeneratedID), nullableString(t.ProjectID),
		nullableString(t.ParentTaskID), t.Title, nullableString(t.Description),
		string(t.Status), string(t.Priority), formatNullableTime(t.DueDate),
		formatNullableTime(t.CompletedAt), string(tags), t.SyncVersion, string(t.SyncStatus),
		formatNullableTime(t.LastSyncedAt), formatTime(t.CreatedAt), formatTime(t.UpdatedAt), seq,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert task %s: %w", t.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (x *sqliteTx) UpdateTask(ctx context.Context, t *entity.Task, prevVersion int64) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	seq, err := x.nextSequence(ctx)
	if err != nil {
		return err
	}

	result, err := x.tx.ExecContext(ctx, `
		UPDATE tasks SET
			project_id = ?, parent_task_id = ?, title = ?, description = ?, status = ?,
			priority = ?, due_date = ?, completed_at = ?, tags = ?, sync_version = ?,
			sync_status = ?, last_synced_at = ?, updated_at = ?, change_seq = ?
		WHERE id = ? AND owner_id = ? AND sync_version = ?`,
		nullableString(t.ProjectID), nullableString(t.ParentTaskID), t.Title,
		nullableString(t.Description), string(t.Status), string(t.Priority),
		formatNullableTime(t.DueDate), formatNullableTime(t.CompletedAt), string(tags),
		t.SyncVersion, string(t.SyncStatus), formatNullableTime(t.LastSyncedAt),
		formatTime(t.UpdatedAt), seq, t.ID, t.OwnerID, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update task %s at version %d: %w", t.ID, prevVersion, ErrVersionMismatch)
	}
	return nil
}

func listTasksChanged(ctx context.Context, q queryer, ownerID string, after, upTo int64) ([]entity.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE owner_id = ? AND change_seq > ? AND change_seq <= ?
		ORDER BY change_seq ASC`, ownerID, after, upTo)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []entity.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}
