// Package diagnostics holds the repair utilities for degraded sync
// state. Every operation is idempotent and reports a structured result
// instead of failing, because these run precisely when the system is
// already broken.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/folderops"
	"github.com/nexocrm/mailsync/internal/snapshot"
	"github.com/nexocrm/mailsync/internal/store"
	"github.com/nexocrm/mailsync/pkg/base"
	"github.com/nexocrm/mailsync/pkg/utils"
)

// Result is the common diagnostic envelope. Operations attach their
// specifics to the optional fields.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`

	DuplicatesRemoved int      `json:"duplicates_removed,omitempty"`
	FoldersRemoved    int      `json:"folders_removed,omitempty"`
	MissingSchema     []string `json:"missing_schema,omitempty"`
	SnapshotRef       string   `json:"snapshot_ref,omitempty"`
	SyncInProgress    bool     `json:"sync_in_progress,omitempty"`
	LastError         string   `json:"last_error,omitempty"`
}

type Diagnostics struct {
	store    *store.Store
	dialer   folderops.SessionDialer
	exporter snapshot.Exporter
	logger   *slog.Logger
}

func New(st *store.Store, dialer folderops.SessionDialer, exporter snapshot.Exporter, logger *slog.Logger) (*Diagnostics, error) {
	if st == nil {
		return nil, errors.New("requires store")
	}
	if dialer == nil {
		return nil, errors.New("requires dialer")
	}
	if logger == nil {
		return nil, errors.New("requires logger")
	}
	if exporter == nil {
		exporter = snapshot.Nop{}
	}
	return &Diagnostics{store: st, dialer: dialer, exporter: exporter, logger: logger}, nil
}

// CleanupDuplicateSettings keeps the oldest settings row for the user
// and removes the rest.
func (d *Diagnostics) CleanupDuplicateSettings(ctx context.Context, userID string) Result {
	removed, err := d.store.DeleteDuplicateSettings(ctx, userID)
	if err != nil {
		return d.failure("Duplicate settings cleanup failed", err)
	}
	return Result{
		Success:           true,
		Message:           fmt.Sprintf("Removed %d duplicate settings row(s)", removed),
		DuplicatesRemoved: removed,
	}
}

// ValidateCredentials attempts a full dial-and-login with the supplied
// settings. The connection attempt is the only side effect.
func (d *Diagnostics) ValidateCredentials(ctx context.Context, settings base.ConnectionSettings) Result {
	session, err := d.dialer.Dial(settings)
	if err != nil {
		return d.failure("Credential validation failed", err)
	}
	session.Close()
	return Result{Success: true, Message: "Connected and authenticated successfully"}
}

// CheckSchema reports which expected storage structures are missing.
func (d *Diagnostics) CheckSchema(ctx context.Context) Result {
	missing, err := d.store.CheckSchema(ctx)
	if err != nil {
		return d.failure("Schema inspection failed", err)
	}
	if len(missing) > 0 {
		return Result{
			Success:       false,
			Message:       fmt.Sprintf("%d schema structure(s) missing; run migrations", len(missing)),
			MissingSchema: missing,
		}
	}
	return Result{Success: true, Message: "Schema is complete"}
}

// Status reports the stored sync status, letting operators spot a
// stuck in-progress flag or a recorded failure.
func (d *Diagnostics) Status(ctx context.Context, userID string) Result {
	status, err := d.store.GetSyncStatus(ctx, userID)
	if err != nil {
		return d.failure("Reading sync status failed", err)
	}
	message := "No sync has completed yet"
	if status.LastSyncAt != nil {
		message = fmt.Sprintf("Last successful sync at %s", status.LastSyncAt.Format("2006-01-02 15:04:05 MST"))
	}
	return Result{
		Success:        true,
		Message:        message,
		SyncInProgress: status.InProgress,
		LastError:      status.LastError,
	}
}

// Reset clears all cached folder and sync-status data for the user so
// the next discovery pass starts from an empty baseline. When a
// snapshot exporter is configured the current state is uploaded first;
// an upload failure is logged but does not block the reset, which is
// the operation the caller actually asked for.
func (d *Diagnostics) Reset(ctx context.Context, userID string) Result {
	ref := d.exportState(ctx, userID)

	removed, err := d.store.DeleteFolders(ctx, userID)
	if err != nil {
		return d.failure("Folder state reset failed", err)
	}
	if err := d.store.DeleteSyncStatus(ctx, userID); err != nil {
		return d.failure("Sync status reset failed", err)
	}

	return Result{
		Success:        true,
		Message:        fmt.Sprintf("Cleared %d cached folder(s) and sync status", removed),
		FoldersRemoved: removed,
		SnapshotRef:    ref,
	}
}

func (d *Diagnostics) exportState(ctx context.Context, userID string) string {
	folders, err := d.store.ListFolders(ctx, userID)
	if err != nil {
		d.logger.Warn("Snapshot skipped, could not read folders",
			slog.Any("error", utils.WrapError(err)))
		return ""
	}
	status, err := d.store.GetSyncStatus(ctx, userID)
	if err != nil {
		d.logger.Warn("Snapshot skipped, could not read sync status",
			slog.Any("error", utils.WrapError(err)))
		return ""
	}

	ref, err := d.exporter.Export(ctx, snapshot.State{
		UserID:     userID,
		Folders:    folders,
		SyncStatus: status,
	})
	if err != nil {
		d.logger.Warn("Snapshot upload failed, proceeding with reset",
			slog.Any("error", utils.WrapError(err)))
		return ""
	}
	if ref != "" {
		d.logger.Info("State snapshot uploaded", slog.String("ref", ref))
	}
	return ref
}

func (d *Diagnostics) failure(message string, err error) Result {
	d.logger.Error(message, slog.Any("error", utils.WrapError(err)))
	return Result{Success: false, Message: message, Error: err.Error()}
}
