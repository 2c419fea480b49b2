// Package syncer orchestrates a folder sync request end to end:
// authenticate, load settings, discover, persist, trigger the dependent
// message sync, respond. No error escapes as a panic or raw failure;
// every path terminates in a structured Result.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/internal/dispatch"
	"github.com/nexocrm/mailsync/internal/downstream"
	"github.com/nexocrm/mailsync/internal/folderops"
	"github.com/nexocrm/mailsync/internal/imapconn"
	"github.com/nexocrm/mailsync/internal/store"
	"github.com/nexocrm/mailsync/pkg/base"
	"github.com/nexocrm/mailsync/pkg/utils"
)

// Result is the structured outcome of one sync request. Success or
// failure is communicated here, not via transport status codes, because
// the calling UI branches on the detail.
type Result struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Error       string              `json:"error,omitempty"`
	Folders     []base.FolderRecord `json:"folders,omitempty"`
	FolderCount int                 `json:"folderCount"`
}

// Discoverer enumerates and classifies remote folders on a session.
type Discoverer interface {
	Discover(c base.Client, userID string) ([]base.FolderRecord, error)
}

type Service struct {
	store      *store.Store
	dialer     folderops.SessionDialer
	discoverer Discoverer
	runner     *dispatch.Runner
	trigger    *downstream.Trigger
	logger     *slog.Logger
}

type Option func(*Service) error

func New(opts ...Option) (*Service, error) {
	var s Service
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return nil, err
		}
	}
	if s.store == nil {
		return nil, errors.New("requires store")
	}
	if s.dialer == nil {
		return nil, errors.New("requires dialer")
	}
	if s.discoverer == nil {
		return nil, errors.New("requires discoverer")
	}
	if s.logger == nil {
		return nil, errors.New("requires logger")
	}
	if s.trigger == nil {
		s.trigger = downstream.New()
	}
	return &s, nil
}

func WithStore(st *store.Store) Option {
	return func(s *Service) error {
		s.store = st
		return nil
	}
}

func WithDialer(d folderops.SessionDialer) Option {
	return func(s *Service) error {
		s.dialer = d
		return nil
	}
}

func WithDiscoverer(d Discoverer) Option {
	return func(s *Service) error {
		s.discoverer = d
		return nil
	}
}

func WithRunner(r *dispatch.Runner) Option {
	return func(s *Service) error {
		s.runner = r
		return nil
	}
}

func WithTrigger(tr *downstream.Trigger) Option {
	return func(s *Service) error {
		s.trigger = tr
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// Authenticate resolves a bearer token to a user. Exposed separately
// because mutation and diagnostic handlers share the same precondition.
func (s *Service) Authenticate(ctx context.Context, bearer string) (string, error) {
	return s.store.ResolveToken(ctx, bearer)
}

// Settings loads the caller's connection settings, surfacing absence as
// the distinct not-configured precondition failure.
func (s *Service) Settings(ctx context.Context, userID string) (base.ConnectionSettings, error) {
	return s.store.GetConnectionSettings(ctx, userID)
}

// SyncFolders runs a full discovery pass for the bearer's account and
// replaces the persisted snapshot. It never returns an error; the
// Result carries the outcome.
func (s *Service) SyncFolders(ctx context.Context, bearer string) Result {
	userID, err := s.Authenticate(ctx, bearer)
	if err != nil {
		return s.failure("Not authenticated", err)
	}

	settings, err := s.Settings(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			return s.failure("Email account not configured", err)
		}
		return s.failure("Could not load connection settings", err)
	}

	if err := s.store.MarkSyncStarted(ctx, userID); err != nil {
		s.logger.Warn("Could not raise sync-in-progress flag",
			slog.Any("error", utils.WrapError(err)))
	}

	records, err := s.discover(settings, userID)
	if err != nil {
		s.recordFailure(ctx, userID, err)
		var connErr *imapconn.ConnError
		if errors.As(err, &connErr) {
			return s.failure("Could not connect to mail server", err)
		}
		return s.failure("Folder discovery failed", err)
	}

	if err := s.store.ReplaceFolders(ctx, userID, records); err != nil {
		s.recordFailure(ctx, userID, err)
		var schemaErr *store.SchemaError
		if errors.As(err, &schemaErr) {
			return s.failure("Storage schema incomplete; run migrations", err)
		}
		return s.failure("Could not persist folder snapshot", err)
	}

	if err := s.store.MarkSyncComplete(ctx, userID); err != nil {
		s.logger.Warn("Could not record sync completion",
			slog.Any("error", utils.WrapError(err)))
	}

	persisted, err := s.store.ListFolders(ctx, userID)
	if err != nil {
		// The snapshot is already committed; reading it back is a
		// nicety for the response payload.
		s.logger.Warn("Could not read back folder snapshot",
			slog.Any("error", utils.WrapError(err)))
		persisted = records
	}

	s.enqueueMessageSync(bearer, userID)

	return Result{
		Success:     true,
		Message:     fmt.Sprintf("Synced %d folder(s)", len(persisted)),
		Folders:     persisted,
		FolderCount: len(persisted),
	}
}

// discover owns the session lifecycle for one pass: dial, enumerate,
// and always tear down.
func (s *Service) discover(settings base.ConnectionSettings, userID string) ([]base.FolderRecord, error) {
	session, err := s.dialer.Dial(settings)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return s.discoverer.Discover(session.Client(), userID)
}

// enqueueMessageSync hands the downstream trigger to the background
// runner. Fire-and-forget: failure is logged on the runner's channel
// and does not touch the folder-sync result.
func (s *Service) enqueueMessageSync(bearer, userID string) {
	if s.runner == nil || !s.trigger.Enabled() {
		return
	}
	submitted := s.runner.Submit(dispatch.Task{
		Name: "message-sync:" + userID,
		Run: func(ctx context.Context) error {
			return s.trigger.Do(ctx, bearer, downstream.DefaultFolder)
		},
	})
	if !submitted {
		s.logger.Warn("Message sync trigger not submitted", slog.String("user_id", userID))
	}
}

func (s *Service) recordFailure(ctx context.Context, userID string, cause error) {
	if err := s.store.MarkSyncFailed(ctx, userID, cause.Error()); err != nil {
		s.logger.Warn("Could not record sync failure",
			slog.Any("error", utils.WrapError(err)))
	}
}

func (s *Service) failure(message string, err error) Result {
	s.logger.Error(message, slog.Any("error", utils.WrapError(err)))
	return Result{Success: false, Message: message, Error: err.Error()}
}
