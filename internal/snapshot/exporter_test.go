package snapshot

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexocrm/mailsync/pkg/base"
)

type fakeS3 struct {
	s3iface.S3API
	lastInput *s3.PutObjectInput
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	f.lastInput = input
	return &s3.PutObjectOutput{}, nil
}

func TestS3ExporterUploadsSnapshot(t *testing.T) {
	fake := &fakeS3{}
	e := NewS3ExporterWithClient(fake, "mailsync-backups", "mailsync/snapshots")

	ref, err := e.Export(context.Background(), State{
		UserID:     "user-1",
		ExportedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Folders: []base.FolderRecord{
			{UserID: "user-1", Name: "INBOX", Path: "INBOX", Type: base.FolderInbox},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "s3://mailsync-backups/mailsync/snapshots/user-1/20260801T120000Z.json", ref)
	require.NotNil(t, fake.lastInput)
	assert.Equal(t, "mailsync-backups", aws.StringValue(fake.lastInput.Bucket))

	body, err := io.ReadAll(fake.lastInput.Body)
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, "user-1", state.UserID)
	require.Len(t, state.Folders, 1)
	assert.Equal(t, base.FolderInbox, state.Folders[0].Type)
}
