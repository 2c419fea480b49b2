package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// expectedSchema lists the columns every deployment must carry. The
// completeness check reports what is missing instead of failing on the
// first broken query.
var expectedSchema = map[string][]string{
	"connection_settings": {"id", "user_id", "host", "port", "use_tls", "username", "password", "created_at"},
	"folders":             {"id", "user_id", "name", "path", "type", "special_use", "flags", "total_messages", "unread_messages"},
	"sync_status":         {"user_id", "last_sync_at", "sync_in_progress", "last_error", "updated_at"},
	"api_tokens":          {"token_hash", "user_id", "created_at"},
}

// CheckSchema verifies the expected tables and columns exist and
// returns a sorted list of "table.column" entries that are missing.
// An empty result means the schema is complete.
func (s *Store) CheckSchema(ctx context.Context) ([]string, error) {
	var missing []string

	for table, columns := range expectedSchema {
		present, err := s.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		if present == nil {
			missing = append(missing, table)
			continue
		}
		for _, column := range columns {
			if !present[column] {
				missing = append(missing, fmt.Sprintf("%s.%s", table, column))
			}
		}
	}

	sort.Strings(missing)
	return missing, nil
}

// tableColumns returns the column set of a table, or nil when the
// table itself does not exist.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, errors.Wrapf(err, "inspecting table %s", table)
	}
	defer rows.Close()

	var columns map[string]bool
	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull, pk  int
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return nil, errors.Wrapf(err, "scanning table_info for %s", table)
		}
		if columns == nil {
			columns = map[string]bool{}
		}
		columns[name] = true
	}
	return columns, rows.Err()
}
