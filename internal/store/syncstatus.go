package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/pkg/base"
)

// GetSyncStatus returns the sync status row for a user, or a zero-value
// status when no sync has ever run.
func (s *Store) GetSyncStatus(ctx context.Context, userID string) (base.SyncStatus, error) {
	var (
		status     base.SyncStatus
		inProgress int
	)
	row := s.db.QueryRowxContext(ctx, `
		SELECT user_id, last_sync_at, sync_in_progress, last_error, updated_at
		FROM sync_status WHERE user_id = ?`, userID)
	err := row.Scan(&status.UserID, &status.LastSyncAt, &inProgress, &status.LastError, &status.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return base.SyncStatus{UserID: userID}, nil
	}
	if err != nil {
		return base.SyncStatus{}, classifyErr(errors.Wrap(err, "reading sync status"))
	}
	status.InProgress = inProgress != 0
	return status, nil
}

// MarkSyncStarted raises the advisory in-progress flag. It does not
// prevent a concurrent pass; it lets diagnostics detect one.
func (s *Store) MarkSyncStarted(ctx context.Context, userID string) error {
	return s.upsertStatus(ctx, userID, `
		INSERT INTO sync_status (user_id, sync_in_progress, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			sync_in_progress = 1,
			updated_at = excluded.updated_at`)
}

// MarkSyncComplete records a successful pass: stamps last_sync_at,
// clears the in-progress flag and any prior error.
func (s *Store) MarkSyncComplete(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (user_id, last_sync_at, sync_in_progress, last_error, updated_at)
		VALUES (?, ?, 0, '', ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_sync_at     = excluded.last_sync_at,
			sync_in_progress = 0,
			last_error       = '',
			updated_at       = excluded.updated_at`,
		userID, now, now)
	return classifyErr(errors.Wrap(err, "marking sync complete"))
}

// MarkSyncFailed clears the in-progress flag and records the failure
// for diagnostics.
func (s *Store) MarkSyncFailed(ctx context.Context, userID, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (user_id, sync_in_progress, last_error, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			sync_in_progress = 0,
			last_error       = excluded.last_error,
			updated_at       = excluded.updated_at`,
		userID, errMsg, now)
	return classifyErr(errors.Wrap(err, "marking sync failed"))
}

// DeleteSyncStatus removes the sync status row for a user.
func (s *Store) DeleteSyncStatus(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_status WHERE user_id = ?", userID)
	return classifyErr(errors.Wrap(err, "deleting sync status"))
}

func (s *Store) upsertStatus(ctx context.Context, userID, query string) error {
	_, err := s.db.ExecContext(ctx, query, userID, time.Now().UTC())
	return classifyErr(errors.Wrap(err, "updating sync status"))
}
