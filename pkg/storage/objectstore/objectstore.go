// Package objectstore mirrors generated artifacts to S3-compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// Client is what the indexer needs from an object store.
type Client interface {
	// EnsureBucket creates the configured bucket when it does not exist yet.
	EnsureBucket(ctx context.Context) error
	PutFile(ctx context.Context, key, localPath, contentType string, metadata map[string]string) error
	Close() error
}

// New creates an object store client for cfg.Provider.
func New(cfg Config) (Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is not configured")
	}
	switch cfg.Provider {
	case "minio", "s3":
		return newMinioClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

// ObjectKey joins prefix and key into a slash separated object name.
func ObjectKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

type minioClient struct {
	client *minio.Client
	bucket string
	region string
	prefix string
}

func newMinioClient(cfg Config) (Client, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{client: cl, bucket: cfg.Bucket, region: cfg.Region, prefix: cfg.Prefix}, nil
}

func (m *minioClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// PutFile uploads a local file, letting the client pick part sizes.
func (m *minioClient) PutFile(ctx context.Context, key, localPath, contentType string, metadata map[string]string) error {
	opts := minio.PutObjectOptions{ContentType: contentType, UserMetadata: metadata}
	if _, err := m.client.FPutObject(ctx, m.bucket, ObjectKey(m.prefix, key), localPath, opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (m *minioClient) Close() error {
	return nil
}
