// Package snapshot uploads a JSON copy of a user's cached folder state
// before destructive repairs, so a full reset stays recoverable.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"github.com/nexocrm/mailsync/pkg/base"
)

// State is the serialized payload: the folder snapshot plus the sync
// status at the moment of export.
type State struct {
	UserID     string              `json:"user_id"`
	ExportedAt time.Time           `json:"exported_at"`
	Folders    []base.FolderRecord `json:"folders"`
	SyncStatus base.SyncStatus     `json:"sync_status"`
}

// Exporter persists a state snapshot somewhere durable and returns a
// reference to where it landed.
type Exporter interface {
	Export(ctx context.Context, state State) (string, error)
}

// S3Exporter writes snapshots to an S3 bucket under a key prefix.
type S3Exporter struct {
	client s3iface.S3API
	bucket string
	prefix string
}

func NewS3Exporter(bucket, prefix, region string) (*S3Exporter, error) {
	if bucket == "" {
		return nil, errors.New("requires bucket")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	return &S3Exporter{client: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

// NewS3ExporterWithClient is the test seam.
func NewS3ExporterWithClient(client s3iface.S3API, bucket, prefix string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, prefix: prefix}
}

func (e *S3Exporter) Export(ctx context.Context, state State) (string, error) {
	if state.ExportedAt.IsZero() {
		state.ExportedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshaling snapshot")
	}

	key := fmt.Sprintf("%s/%s/%s.json", e.prefix, state.UserID, state.ExportedAt.Format("20060102T150405Z"))
	_, err = e.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Wrap(err, "uploading snapshot")
	}
	return fmt.Sprintf("s3://%s/%s", e.bucket, key), nil
}

// Nop discards snapshots. Used when no bucket is configured.
type Nop struct{}

func (Nop) Export(context.Context, State) (string, error) { return "", nil }
