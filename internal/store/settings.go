package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/pkg/base"
)

// GetConnectionSettings returns the live settings record for a user.
// When duplicates exist the oldest row wins, matching the cleanup
// utility's keep-the-oldest policy. ErrNotConfigured when none exist.
func (s *Store) GetConnectionSettings(ctx context.Context, userID string) (base.ConnectionSettings, error) {
	var settings base.ConnectionSettings
	err := s.db.GetContext(ctx, &settings, `
		SELECT id, user_id, host, port, use_tls, username, password, created_at
		FROM connection_settings
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return base.ConnectionSettings{}, ErrNotConfigured
	}
	if err != nil {
		return base.ConnectionSettings{}, classifyErr(err)
	}
	return settings, nil
}

// SaveConnectionSettings inserts a settings row. Used by account setup
// and by tests; the sync path never writes settings.
func (s *Store) SaveConnectionSettings(ctx context.Context, settings base.ConnectionSettings) (string, error) {
	if settings.ID == "" {
		settings.ID = uuid.New().String()
	}
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_settings (id, user_id, host, port, use_tls, username, password, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		settings.ID, settings.UserID, settings.Host, settings.Port,
		boolToInt(settings.UseTLS), settings.Username, settings.Password,
		settings.CreatedAt,
	)
	if err != nil {
		return "", classifyErr(errors.Wrap(err, "saving connection settings"))
	}
	return settings.ID, nil
}

// CountConnectionSettings reports how many settings rows a user has.
// More than one is an inconsistency surfaced by diagnostics.
func (s *Store) CountConnectionSettings(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM connection_settings WHERE user_id = ?", userID)
	if err != nil {
		return 0, classifyErr(err)
	}
	return count, nil
}

// DeleteDuplicateSettings keeps the oldest settings row for the user
// and removes the rest, returning how many rows were deleted. Safe to
// re-run; a clean account removes zero rows.
func (s *Store) DeleteDuplicateSettings(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM connection_settings
		WHERE user_id = ?
		  AND id NOT IN (
			SELECT id FROM connection_settings
			WHERE user_id = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		  )`, userID, userID)
	if err != nil {
		return 0, classifyErr(errors.Wrap(err, "deleting duplicate settings"))
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting removed duplicates")
	}
	return int(removed), nil
}

// ResolveToken maps a bearer token to the owning user.
// ErrNotAuthenticated when the token is unknown.
func (s *Store) ResolveToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNotAuthenticated
	}
	var userID string
	err := s.db.GetContext(ctx, &userID,
		"SELECT user_id FROM api_tokens WHERE token_hash = ?", hashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", classifyErr(err)
	}
	return userID, nil
}

// SaveToken stores a bearer token for a user. Only the SHA-256 of the
// token is persisted.
func (s *Store) SaveToken(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO api_tokens (token_hash, user_id, created_at)
		VALUES (?, ?, ?)`,
		hashToken(token), userID, time.Now().UTC())
	if err != nil {
		return classifyErr(errors.Wrap(err, "saving token"))
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
