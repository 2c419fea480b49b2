package syncer_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nexocrm/mailsync/internal/dispatch"
	"github.com/nexocrm/mailsync/internal/downstream"
	"github.com/nexocrm/mailsync/internal/imapconn"
	"github.com/nexocrm/mailsync/internal/store"
	"github.com/nexocrm/mailsync/internal/syncer"
	"github.com/nexocrm/mailsync/pkg/base"
	mock "github.com/nexocrm/mailsync/pkg/mock"
)

const (
	testUserID = "user-1"
	testToken  = "tok-secret"
)

// stubDialer mints a fresh session per call: Close is once-guarded, so
// a shared session would swallow every logout after the first.
type stubDialer struct {
	client base.Client
	logger *slog.Logger
	err    error
	calls  int
}

func (d *stubDialer) Dial(base.ConnectionSettings) (*imapconn.Session, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return imapconn.NewSession(d.client, d.logger), nil
}

type stubDiscoverer struct {
	records []base.FolderRecord
	err     error
}

func (d *stubDiscoverer) Discover(base.Client, string) ([]base.FolderRecord, error) {
	return d.records, d.err
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "syncer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedAccount(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveToken(ctx, testUserID, testToken))
	_, err := st.SaveConnectionSettings(ctx, base.ConnectionSettings{
		UserID:   testUserID,
		Host:     "imap.example.com",
		Port:     993,
		Username: "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
}

func newService(t *testing.T, st *store.Store, dialer *stubDialer, disc *stubDiscoverer) *syncer.Service {
	t.Helper()
	svc, err := syncer.New(
		syncer.WithStore(st),
		syncer.WithDialer(dialer),
		syncer.WithDiscoverer(disc),
		syncer.WithLogger(mock.SetupLogger(t)),
	)
	require.NoError(t, err)
	return svc
}

func TestSyncFoldersHappyPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)
	client.EXPECT().Logout().Return(nil)

	st := openTestStore(t)
	seedAccount(t, st)

	records := []base.FolderRecord{
		{UserID: testUserID, Path: "INBOX", Name: "INBOX", Type: base.FolderInbox},
		{UserID: testUserID, Path: "Sent", Name: "Sent", Type: base.FolderSent},
	}
	dialer := &stubDialer{client: client, logger: mock.SetupLogger(t)}
	svc := newService(t, st, dialer, &stubDiscoverer{records: records})

	res := svc.SyncFolders(context.Background(), testToken)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Synced 2 folder(s)", res.Message)
	assert.Equal(t, 2, res.FolderCount)
	assert.Len(t, res.Folders, 2)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, dialer.calls)

	status, err := st.GetSyncStatus(context.Background(), testUserID)
	require.NoError(t, err)
	assert.False(t, status.InProgress)
	assert.Empty(t, status.LastError)
	require.NotNil(t, status.LastSyncAt)
	assert.WithinDuration(t, time.Now(), *status.LastSyncAt, time.Minute)
}

func TestSyncFoldersRejectsUnknownToken(t *testing.T) {
	st := openTestStore(t)
	seedAccount(t, st)

	dialer := &stubDialer{}
	svc := newService(t, st, dialer, &stubDiscoverer{})

	res := svc.SyncFolders(context.Background(), "nope")

	require.False(t, res.Success)
	assert.Equal(t, "Not authenticated", res.Message)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, dialer.calls)
}

func TestSyncFoldersNotConfigured(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveToken(context.Background(), testUserID, testToken))

	dialer := &stubDialer{}
	svc := newService(t, st, dialer, &stubDiscoverer{})

	res := svc.SyncFolders(context.Background(), testToken)

	require.False(t, res.Success)
	assert.Equal(t, "Email account not configured", res.Message)
	assert.Zero(t, dialer.calls)
}

func TestSyncFoldersConnectFailureRecorded(t *testing.T) {
	st := openTestStore(t)
	seedAccount(t, st)

	dialer := &stubDialer{err: &imapconn.ConnError{
		Stage: imapconn.StageConnect,
		Addr:  "imap.example.com:993",
		Err:   errors.New("connection refused"),
	}}
	svc := newService(t, st, dialer, &stubDiscoverer{})

	res := svc.SyncFolders(context.Background(), testToken)

	require.False(t, res.Success)
	assert.Equal(t, "Could not connect to mail server", res.Message)
	assert.Contains(t, res.Error, "connection refused")

	status, err := st.GetSyncStatus(context.Background(), testUserID)
	require.NoError(t, err)
	assert.False(t, status.InProgress)
	assert.Contains(t, status.LastError, "connection refused")
}

func TestSyncFoldersDiscoveryFailureClosesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)
	client.EXPECT().Logout().Return(nil)

	st := openTestStore(t)
	seedAccount(t, st)

	dialer := &stubDialer{client: client, logger: mock.SetupLogger(t)}
	svc := newService(t, st, dialer, &stubDiscoverer{err: errors.New("LIST failed")})

	res := svc.SyncFolders(context.Background(), testToken)

	require.False(t, res.Success)
	assert.Equal(t, "Folder discovery failed", res.Message)
	assert.Contains(t, res.Error, "LIST failed")
}

func TestSyncFoldersReplacesPreviousSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)
	client.EXPECT().Logout().Return(nil).Times(2)

	st := openTestStore(t)
	seedAccount(t, st)

	dialer := &stubDialer{client: client, logger: mock.SetupLogger(t)}
	disc := &stubDiscoverer{records: []base.FolderRecord{
		{UserID: testUserID, Path: "INBOX", Name: "INBOX", Type: base.FolderInbox},
		{UserID: testUserID, Path: "Old", Name: "Old", Type: base.FolderCustom},
	}}
	svc := newService(t, st, dialer, disc)

	res := svc.SyncFolders(context.Background(), testToken)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 2, res.FolderCount)

	disc.records = []base.FolderRecord{
		{UserID: testUserID, Path: "INBOX", Name: "INBOX", Type: base.FolderInbox},
	}

	res = svc.SyncFolders(context.Background(), testToken)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.FolderCount)

	persisted, err := st.ListFolders(context.Background(), testUserID)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "INBOX", persisted[0].Path)
}

type triggerServer struct {
	trigger *downstream.Trigger
}

func newTriggerServer(t *testing.T, hits *atomic.Int32) *triggerServer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return &triggerServer{
		trigger: downstream.New(
			downstream.WithBaseURL(srv.URL),
			downstream.WithHTTPClient(srv.Client()),
		),
	}
}

func TestSyncFoldersEnqueuesMessageSync(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)
	client.EXPECT().Logout().Return(nil)

	st := openTestStore(t)
	seedAccount(t, st)

	var triggered atomic.Int32
	srv := newTriggerServer(t, &triggered)

	runner := dispatch.NewRunner(mock.SetupLogger(t), 4)
	runner.Start()
	t.Cleanup(runner.Stop)

	dialer := &stubDialer{client: client, logger: mock.SetupLogger(t)}
	svc, err := syncer.New(
		syncer.WithStore(st),
		syncer.WithDialer(dialer),
		syncer.WithDiscoverer(&stubDiscoverer{records: []base.FolderRecord{
			{UserID: testUserID, Path: "INBOX", Name: "INBOX", Type: base.FolderInbox},
		}}),
		syncer.WithRunner(runner),
		syncer.WithTrigger(srv.trigger),
		syncer.WithLogger(mock.SetupLogger(t)),
	)
	require.NoError(t, err)

	res := svc.SyncFolders(context.Background(), testToken)
	require.True(t, res.Success, res.Error)

	assert.Eventually(t, func() bool {
		return triggered.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
