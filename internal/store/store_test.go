package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexocrm/mailsync/pkg/base"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mailsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnectionSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetConnectionSettings(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = s.SaveConnectionSettings(ctx, base.ConnectionSettings{
		UserID:   "user-1",
		Host:     "mail.example.com",
		Port:     993,
		UseTLS:   true,
		Username: "alice@example.com",
		Password: "secret",
	})
	require.NoError(t, err)

	settings, err := s.GetConnectionSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", settings.Host)
	assert.Equal(t, 993, settings.Port)
	assert.True(t, settings.UseTLS)
	assert.NotEmpty(t, settings.ID)
}

func TestDeleteDuplicateSettingsKeepsOldest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var oldestID string
	for i := 0; i < 3; i++ {
		id, err := s.SaveConnectionSettings(ctx, base.ConnectionSettings{
			UserID:    "user-1",
			Host:      "mail.example.com",
			Port:      993,
			Username:  "alice@example.com",
			Password:  "secret",
			CreatedAt: base1.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
		if i == 0 {
			oldestID = id
		}
	}

	removed, err := s.DeleteDuplicateSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := s.CountConnectionSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	settings, err := s.GetConnectionSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, oldestID, settings.ID)

	// Idempotent: a second run removes nothing.
	removed, err = s.DeleteDuplicateSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestResolveToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.ResolveToken(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = s.ResolveToken(ctx, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, s.SaveToken(ctx, "user-1", "tok-abc"))

	userID, err := s.ResolveToken(ctx, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func sampleFolders(userID string) []base.FolderRecord {
	return []base.FolderRecord{
		{UserID: userID, Name: "INBOX", Path: "INBOX", Type: base.FolderInbox, Flags: []string{"\\HasNoChildren"}, TotalMessages: 12, UnreadMessages: 3},
		{UserID: userID, Name: "Sent", Path: "Sent", Type: base.FolderSent, SpecialUse: "\\Sent"},
		{UserID: userID, Name: "Old", Path: "Archive/Old", Type: base.FolderArchive},
	}
}

func TestReplaceFoldersIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFolders(ctx, "user-1", sampleFolders("user-1")))
	require.NoError(t, s.ReplaceFolders(ctx, "user-1", sampleFolders("user-1")))

	records, err := s.ListFolders(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Archive/Old", records[0].Path)
	assert.Equal(t, []string{"\\HasNoChildren"}, records[1].Flags)
	assert.Equal(t, base.FolderInbox, records[1].Type)
}

func TestReplaceFoldersDropsStaleRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFolders(ctx, "user-1", sampleFolders("user-1")))

	// Archive/Old no longer exists remotely.
	fresh := sampleFolders("user-1")[:2]
	require.NoError(t, s.ReplaceFolders(ctx, "user-1", fresh))

	records, err := s.ListFolders(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.NotEqual(t, "Archive/Old", r.Path)
	}
}

func TestReplaceFoldersIsScopedToUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFolders(ctx, "user-1", sampleFolders("user-1")))
	require.NoError(t, s.ReplaceFolders(ctx, "user-2", sampleFolders("user-2")[:1]))

	records, err := s.ListFolders(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestSyncStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	status, err := s.GetSyncStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, status.InProgress)
	assert.Nil(t, status.LastSyncAt)

	require.NoError(t, s.MarkSyncStarted(ctx, "user-1"))
	status, err = s.GetSyncStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.InProgress)

	require.NoError(t, s.MarkSyncFailed(ctx, "user-1", "connection refused"))
	status, err = s.GetSyncStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, status.InProgress)
	assert.Equal(t, "connection refused", status.LastError)
	assert.Nil(t, status.LastSyncAt)

	require.NoError(t, s.MarkSyncStarted(ctx, "user-1"))
	require.NoError(t, s.MarkSyncComplete(ctx, "user-1"))
	status, err = s.GetSyncStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, status.InProgress)
	assert.Empty(t, status.LastError)
	require.NotNil(t, status.LastSyncAt)
	assert.WithinDuration(t, time.Now().UTC(), *status.LastSyncAt, time.Minute)
}

func TestCheckSchemaComplete(t *testing.T) {
	s := openTestStore(t)

	missing, err := s.CheckSchema(context.Background())
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestCheckSchemaReportsMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, "ALTER TABLE folders DROP COLUMN special_use")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "DROP TABLE sync_status")
	require.NoError(t, err)

	missing, err := s.CheckSchema(ctx)
	require.NoError(t, err)
	assert.Contains(t, missing, "folders.special_use")
	assert.Contains(t, missing, "sync_status")
}

func TestSchemaErrorClassification(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, "DROP TABLE folders")
	require.NoError(t, err)

	err = s.ReplaceFolders(ctx, "user-1", sampleFolders("user-1"))
	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}
