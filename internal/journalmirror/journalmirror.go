// Package journalmirror mirrors journal CSV files written by
// internal/backendjournal to S3-compatible object storage, so a bulk
// verifier can fetch them without needing filesystem access to the
// board server itself. Adapted from the teacher's attachment storage
// service, narrowed to one-way upload/download/list of whole journal
// files (no database-backed attachment records; a journal file's name
// is already its own durable key).
package journalmirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror uploads and fetches journal files against an S3-compatible
// bucket.
type Mirror struct {
	client     *minio.Client
	bucketName string
}

// NewMirror builds a Mirror from S3_ENDPOINT / S3_ACCESS_KEY /
// S3_SECRET_KEY / S3_BUCKET / S3_REGION / S3_USE_SSL environment
// variables, falling back to local MinIO defaults, and ensures the
// target bucket exists.
func NewMirror(ctx context.Context) (*Mirror, error) {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	accessKey := os.Getenv("S3_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "minioadmin"
	}
	secretKey := os.Getenv("S3_SECRET_KEY")
	if secretKey == "" {
		secretKey = "minioadmin"
	}
	bucketName := os.Getenv("S3_BUCKET")
	if bucketName == "" {
		bucketName = "merkleboard-journals"
	}
	bucketRegion := os.Getenv("S3_REGION")
	if bucketRegion == "" {
		bucketRegion = "us-east-1"
	}
	useSSL := os.Getenv("S3_USE_SSL") == "true"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("journalmirror: creating S3 client: %w", err)
	}

	m := &Mirror{client: client, bucketName: bucketName}
	if err := m.ensureBucket(ctx, bucketRegion); err != nil {
		return nil, fmt.Errorf("journalmirror: ensuring bucket: %w", err)
	}
	return m, nil
}

func (m *Mirror) ensureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucketName, minio.MakeBucketOptions{Region: region}); err != nil {
			return err
		}
	}
	return nil
}

// UploadJournal uploads the journal file at localPath under objectKey
// (conventionally the journal's own filename, e.g. "<root-hex>.csv" or
// "pending.csv").
func (m *Mirror) UploadJournal(ctx context.Context, objectKey, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("journalmirror: opening %s: %w", localPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("journalmirror: stat %s: %w", localPath, err)
	}
	_, err = m.client.PutObject(ctx, m.bucketName, objectKey, file, info.Size(), minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("journalmirror: uploading %s: %w", objectKey, err)
	}
	return nil
}

// UploadJournalReader is UploadJournal from an already-open reader of
// known size, useful when the journal was just rewritten in place and
// need not touch disk twice.
func (m *Mirror) UploadJournalReader(ctx context.Context, objectKey string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucketName, objectKey, r, size, minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("journalmirror: uploading %s: %w", objectKey, err)
	}
	return nil
}

// FetchJournal downloads objectKey as a stream for a verifier; the
// caller must close it.
func (m *Mirror) FetchJournal(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, m.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("journalmirror: fetching %s: %w", objectKey, err)
	}
	return object, nil
}

// PresignedFetchURL returns a pre-signed URL a verifier can use to
// download objectKey directly, valid for the given duration.
func (m *Mirror) PresignedFetchURL(ctx context.Context, objectKey string, validFor time.Duration) (string, error) {
	presignedURL, err := m.client.PresignedGetObject(ctx, m.bucketName, objectKey, validFor, nil)
	if err != nil {
		return "", fmt.Errorf("journalmirror: presigning %s: %w", objectKey, err)
	}
	return presignedURL.String(), nil
}

// ListJournals lists every mirrored journal object key.
func (m *Mirror) ListJournals(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("journalmirror: listing objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
