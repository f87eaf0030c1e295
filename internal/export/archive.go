package export

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"peritaje/api/internal/store"
)

// MinioArchive stores generated report PDFs in an S3-compatible bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// MinioOptions configures NewMinioArchive.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioArchive connects to the object store and makes sure the bucket
// exists.
func NewMinioArchive(ctx context.Context, opts MinioOptions) (*MinioArchive, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, ErrArchiveUnavailable
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: opts.Bucket}, nil
}

// Store uploads data under key and returns the object key.
func (a *MinioArchive) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("minio put %s: %w", key, err)
	}
	return key, nil
}

// ArchiveKey is the object key for a stored record's report, grouped by owner.
func ArchiveKey(owner store.Owner, recordID string) string {
	return path.Join("reports", owner.Kind(), owner.ID(), recordID+".pdf")
}
