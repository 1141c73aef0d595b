package storage

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 stores variants in an S3-compatible bucket via MinIO.
type S3 struct {
	client *minio.Client
	bucket string
	region string
	urlTTL time.Duration
}

// S3Options configures the S3 backend.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// URLTTL bounds presigned GET URL validity; zero means 15 minutes.
	URLTTL time.Duration
}

// NewS3 creates a MinIO client from the options.
func NewS3(opts S3Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, &StorageError{Op: "init", Path: opts.Endpoint, Err: err}
	}
	ttl := opts.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3{client: client, bucket: opts.Bucket, region: opts.Region, urlTTL: ttl}, nil
}

// EnsureBucket makes sure the bucket exists before first use.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Op: "ensure-bucket", Path: s.bucket, Err: err}
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return &StorageError{Op: "ensure-bucket", Path: s.bucket, Err: err}
		}
	}
	return nil
}

func objectKey(path string) string {
	return strings.TrimPrefix(path, "/")
}

func (s *S3) Write(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey(path), r, size, opts); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *S3) Read(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// Delete removes the object; S3 removal of an absent key already succeeds.
func (s *S3) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(path), minio.RemoveObjectOptions{}); err != nil {
		return &StorageError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(path), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return false, nil
	}
	return false, &StorageError{Op: "exists", Path: path, Err: err}
}

// URL returns a presigned GET URL valid for the configured TTL.
func (s *S3) URL(ctx context.Context, path string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(path), s.urlTTL, url.Values{})
	if err != nil {
		return "", &StorageError{Op: "url", Path: path, Err: err}
	}
	return u.String(), nil
}
