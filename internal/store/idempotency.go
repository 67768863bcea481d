package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CheckPushIdempotency returns the response recorded for (owner, pushId)
// while it is unexpired. Expired rows read as absent until the retention
// worker removes them.
func (s *SQLiteStore) CheckPushIdempotency(ctx context.Context, ownerID, pushID string) ([]byte, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT response FROM push_idempotency
		WHERE owner_id = ? AND push_id = ? AND expires_at > ?
	`, ownerID, pushID, formatTime(time.Now())).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("lookup push %s: %w", pushID, err)
	}
	return []byte(body), true, nil
}

// RecordPushIdempotency stores the committed response of a push so a retry
// with the same pushId replays it for ttl. A later record for the same key
// replaces the earlier one.
func (s *SQLiteStore) RecordPushIdempotency(ctx context.Context, ownerID, pushID string, response []byte, ttl time.Duration) error {
	recorded := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO push_idempotency (owner_id, push_id, response, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, push_id) DO UPDATE SET
			response = excluded.response,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, ownerID, pushID, string(response), formatTime(recorded), formatTime(recorded.Add(ttl))); err != nil {
		return fmt.Errorf("record push %s: %w", pushID, err)
	}
	return nil
}

// CleanExpiredIdempotency deletes replay rows past their expiry and reports
// how many were removed.
func (s *SQLiteStore) CleanExpiredIdempotency(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM push_idempotency WHERE expires_at <= ?`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("purge push replay: %w", err)
	}
	return res.RowsAffected()
}
