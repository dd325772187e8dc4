package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mfenderov/confluence-sync/internal/backup"
)

const (
	rollbackPrefix = "rollback"
	snapshotPrefix = "snapshots"
)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string // "confluence-sync"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string // optional key prefix, e.g. the space key
}

// Client ships rollback archives and crawl snapshots to an S3/MinIO bucket.
type Client struct {
	minioClient *minio.Client
	bucket      string
	prefix      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
		prefix:      strings.Trim(config.Prefix, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	err = c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Archive streams a rollback snapshot as tar.zst into the bucket.
func (c *Client) Archive(ctx context.Context, snap *backup.Snapshot) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(snap.Archive(pw))
	}()
	defer pr.Close()

	objectName := c.key(rollbackPrefix, snap.ArchiveName())
	_, err := c.minioClient.PutObject(ctx, c.bucket, objectName, pr, -1, minio.PutObjectOptions{
		ContentType: "application/zstd",
	})
	if err != nil {
		return fmt.Errorf("failed to put archive: %w", err)
	}
	return nil
}

// PutSnapshot uploads a crawl snapshot file under a timestamped name.
func (c *Client) PutSnapshot(ctx context.Context, filePath string, crawledAt time.Time) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat snapshot: %w", err)
	}

	objectName := c.key(snapshotPrefix, crawledAt.UTC().Format("2006-01-02T15-04-05")+"_"+filepath.Base(filePath))
	_, err = c.minioClient.PutObject(ctx, c.bucket, objectName, f, info.Size(), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to put snapshot: %w", err)
	}
	return objectName, nil
}

// ListArchives returns rollback archive names in the bucket, oldest first.
func (c *Client) ListArchives(ctx context.Context) ([]string, error) {
	var names []string

	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    c.key(rollbackPrefix) + "/",
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, backup.ArchiveExt) {
			names = append(names, path.Base(object.Key))
		}
	}

	backup.Sort(names)
	return names, nil
}

// FetchArchive downloads a rollback archive and extracts it under root.
func (c *Client) FetchArchive(ctx context.Context, name, root string) (*backup.Snapshot, error) {
	object, err := c.minioClient.GetObject(ctx, c.bucket, c.key(rollbackPrefix, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	defer object.Close()

	snap, err := backup.Extract(object, root)
	if err != nil {
		return nil, fmt.Errorf("failed to extract archive %s: %w", name, err)
	}
	return snap, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) key(parts ...string) string {
	if c.prefix != "" {
		parts = append([]string{c.prefix}, parts...)
	}
	return path.Join(parts...)
}
