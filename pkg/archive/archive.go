// Package archive persists Run artifacts — referenced workspace files — to
// S3-compatible object storage. It is wired as a best-effort Event Bus
// subscriber: archiving failures are logged and otherwise ignored, and the
// component is entirely absent when no S3 endpoint is configured.
package archive

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Common errors.
var (
	ErrNotFound      = errors.New("archive: artifact not found")
	ErrBucketMissing = errors.New("archive: bucket does not exist")
)

// Artifact describes a stored object and its metadata.
type Artifact struct {
	Key          string
	Bucket       string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
	URL          string
}

// Store defines object-storage operations an Archiver needs. Implemented by
// S3Store; tests substitute an in-memory fake.
type Store interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, metadata map[string]string) (*Artifact, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]*Artifact, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	EnsureBucket(ctx context.Context) error
}

// S3Store implements Store against MinIO or any S3-compatible endpoint.
type S3Store struct {
	client *minio.Client
	bucket string
	region string
}

// Config holds the connection parameters for an S3-compatible endpoint.
type Config struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// NewS3Store dials an S3-compatible endpoint with the given configuration.
func NewS3Store(cfg Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &S3Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
}

// Upload stores reader's contents under key.
func (s *S3Store) Upload(ctx context.Context, key string, reader io.Reader, contentType string, metadata map[string]string) (*Artifact, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Key:          info.Key,
		Bucket:       info.Bucket,
		Size:         info.Size,
		ContentType:  contentType,
		LastModified: time.Now(),
		Metadata:     metadata,
	}, nil
}

// Download retrieves a previously archived object by key.
func (s *S3Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

// GetPresignedURL returns a time-limited download URL for key.
func (s *S3Store) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// List returns every object whose key starts with prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]*Artifact, error) {
	var artifacts []*Artifact
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		artifacts = append(artifacts, &Artifact{
			Key:          obj.Key,
			Bucket:       s.bucket,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	return artifacts, nil
}

// Delete removes a single object by key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// DeletePrefix removes every object under prefix. Nothing in the control
// plane calls it; Run teardown leaves archived objects in place.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				return
			}
			objectsCh <- obj
		}
	}()

	for obj := range objectsCh {
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*S3Store)(nil)

// RunArtifactPrefix returns the object-key prefix holding a Run's artifacts.
func RunArtifactPrefix(runID string) string {
	return "runs/" + runID + "/"
}

// RunArtifactKey returns the full object key for one of a Run's artifacts.
// filename is the workspace-relative path (the /workspace/ prefix and any
// leading slash stripped).
func RunArtifactKey(runID, filename string) string {
	return RunArtifactPrefix(runID) + filename
}
