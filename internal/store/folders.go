package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/pkg/base"
)

// ReplaceFolders swaps the persisted folder snapshot for a user with
// the freshly discovered set. Stale rows are deleted before the new
// ones land so nothing from a renamed or removed remote folder
// survives, and the insert upserts on (user_id, path) so a re-run after
// a partial prior failure does not trip the uniqueness constraint.
func (s *Store) ReplaceFolders(ctx context.Context, userID string, records []base.FolderRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM folders WHERE user_id = ?", userID); err != nil {
		return classifyErr(errors.Wrap(err, "deleting stale folders"))
	}

	const query = `
		INSERT INTO folders (
			id, user_id, name, path, type, special_use, flags,
			total_messages, unread_messages, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, path) DO UPDATE SET
			name            = excluded.name,
			type            = excluded.type,
			special_use     = excluded.special_use,
			flags           = excluded.flags,
			total_messages  = excluded.total_messages,
			unread_messages = excluded.unread_messages`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return classifyErr(errors.Wrap(err, "preparing folder insert"))
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		flags, err := json.Marshal(r.Flags)
		if err != nil {
			return errors.Wrapf(err, "marshaling flags for %s", r.Path)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, userID, r.Name, r.Path, string(r.Type), r.SpecialUse,
			string(flags), r.TotalMessages, r.UnreadMessages, now,
		); err != nil {
			return classifyErr(errors.Wrapf(err, "inserting folder %s", r.Path))
		}
	}

	return errors.Wrap(tx.Commit(), "committing folder replacement")
}

// ListFolders returns the persisted snapshot for a user ordered by path.
func (s *Store) ListFolders(ctx context.Context, userID string) ([]base.FolderRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, name, path, type, special_use, flags,
		       total_messages, unread_messages
		FROM folders
		WHERE user_id = ?
		ORDER BY path ASC`, userID)
	if err != nil {
		return nil, classifyErr(errors.Wrap(err, "querying folders"))
	}
	defer rows.Close()

	var records []base.FolderRecord
	for rows.Next() {
		record, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteFolders removes every folder row for the user.
func (s *Store) DeleteFolders(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM folders WHERE user_id = ?", userID)
	if err != nil {
		return 0, classifyErr(errors.Wrap(err, "deleting folders"))
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting deleted folders")
	}
	return int(removed), nil
}

func scanFolder(rows *sqlx.Rows) (base.FolderRecord, error) {
	var (
		record     base.FolderRecord
		folderType string
		flagsJSON  string
	)
	err := rows.Scan(
		&record.ID, &record.UserID, &record.Name, &record.Path,
		&folderType, &record.SpecialUse, &flagsJSON,
		&record.TotalMessages, &record.UnreadMessages,
	)
	if err != nil {
		return base.FolderRecord{}, errors.Wrap(err, "scanning folder row")
	}

	record.Type = base.FolderType(folderType)
	if flagsJSON != "" {
		if err := json.Unmarshal([]byte(flagsJSON), &record.Flags); err != nil {
			return base.FolderRecord{}, errors.Wrap(err, "unmarshaling folder flags")
		}
	}
	return record, nil
}
