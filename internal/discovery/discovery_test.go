package discovery

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nexocrm/mailsync/pkg/base"
	"github.com/nexocrm/mailsync/pkg/mock"
)

func listReturning(infos ...*imap.MailboxInfo) func(ref, name string, ch chan *imap.MailboxInfo) error {
	return func(_, _ string, ch chan *imap.MailboxInfo) error {
		for _, info := range infos {
			ch <- info
		}
		close(ch)
		return nil
	}
}

func statusFor(path string, messages, unseen uint32) *imap.MailboxStatus {
	return &imap.MailboxStatus{Name: path, Messages: messages, Unseen: unseen}
}

func TestDiscoverClassifiesAndCounts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mock.NewMockClient(ctrl)
	client.EXPECT().List("", "*", gomock.Any()).DoAndReturn(listReturning(
		&imap.MailboxInfo{Name: "INBOX", Delimiter: "/"},
		&imap.MailboxInfo{Name: "Sent Messages", Delimiter: "/", Attributes: []string{imap.SentAttr}},
		&imap.MailboxInfo{Name: "Projects/Q3", Delimiter: "/"},
	))
	client.EXPECT().Status("INBOX", gomock.Any()).Return(statusFor("INBOX", 42, 7), nil)
	client.EXPECT().Status("Sent Messages", gomock.Any()).Return(statusFor("Sent Messages", 10, 0), nil)
	client.EXPECT().Status("Projects/Q3", gomock.Any()).Return(statusFor("Projects/Q3", 3, 1), nil)

	d, err := NewDiscoverer(mock.SetupLogger(t))
	require.NoError(t, err)

	records, err := d.Discover(client, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, base.FolderInbox, records[0].Type)
	assert.Equal(t, uint32(42), records[0].TotalMessages)
	assert.Equal(t, uint32(7), records[0].UnreadMessages)

	assert.Equal(t, base.FolderSent, records[1].Type)
	assert.Equal(t, imap.SentAttr, records[1].SpecialUse)

	assert.Equal(t, base.FolderCustom, records[2].Type)
	assert.Equal(t, "Q3", records[2].Name)
	assert.Equal(t, "Projects/Q3", records[2].Path)

	for _, r := range records {
		assert.Equal(t, "user-1", r.UserID)
	}
}

func TestDiscoverSkipsNonSelectable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mock.NewMockClient(ctrl)
	client.EXPECT().List("", "*", gomock.Any()).DoAndReturn(listReturning(
		&imap.MailboxInfo{Name: "[Gmail]", Delimiter: "/", Attributes: []string{imap.NoSelectAttr}},
		&imap.MailboxInfo{Name: "[Gmail]/Spam", Delimiter: "/", Attributes: []string{imap.JunkAttr}},
	))
	client.EXPECT().Status("[Gmail]/Spam", gomock.Any()).Return(statusFor("[Gmail]/Spam", 5, 5), nil)

	d, err := NewDiscoverer(mock.SetupLogger(t))
	require.NoError(t, err)

	records, err := d.Discover(client, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "[Gmail]/Spam", records[0].Path)
	assert.Equal(t, base.FolderSpam, records[0].Type)
}

func TestDiscoverIsolatesStatusFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mock.NewMockClient(ctrl)
	client.EXPECT().List("", "*", gomock.Any()).DoAndReturn(listReturning(
		&imap.MailboxInfo{Name: "A", Delimiter: "/"},
		&imap.MailboxInfo{Name: "B", Delimiter: "/"},
		&imap.MailboxInfo{Name: "C", Delimiter: "/"},
	))
	client.EXPECT().Status("A", gomock.Any()).Return(statusFor("A", 1, 1), nil)
	client.EXPECT().Status("B", gomock.Any()).Return(nil, errors.New("STATUS B failed"))
	client.EXPECT().Status("C", gomock.Any()).Return(statusFor("C", 9, 2), nil)

	d, err := NewDiscoverer(mock.SetupLogger(t))
	require.NoError(t, err)

	records, err := d.Discover(client, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, uint32(1), records[0].TotalMessages)
	assert.Equal(t, uint32(0), records[1].TotalMessages)
	assert.Equal(t, uint32(0), records[1].UnreadMessages)
	assert.Equal(t, uint32(9), records[2].TotalMessages)
	assert.Equal(t, uint32(2), records[2].UnreadMessages)
}

func TestDiscoverListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mock.NewMockClient(ctrl)
	client.EXPECT().List("", "*", gomock.Any()).DoAndReturn(
		func(_, _ string, ch chan *imap.MailboxInfo) error {
			close(ch)
			return errors.New("LIST rejected")
		})

	d, err := NewDiscoverer(mock.SetupLogger(t))
	require.NoError(t, err)

	_, err = d.Discover(client, "user-1")
	assert.ErrorContains(t, err, "LIST rejected")
}
