package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// Store keeps lesion images in a MinIO/S3 bucket. Image references are
// "minio://<bucket>/<key>" or a bare key inside the configured bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

const refScheme = "minio://"

// Put uploads an image and returns its reference.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return refScheme + s.bucketName + "/" + key, nil
}

func (s *Store) resolve(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, refScheme) {
		return s.bucketName, strings.TrimPrefix(ref, "/"), nil
	}
	rest := strings.TrimPrefix(ref, refScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed image reference %q", ref)
	}
	return bucket, key, nil
}

// Open implements classifier.ImageSource.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := s.resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", diagnosis.ErrDecode, err)
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key before decoding starts.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: image %s not found", diagnosis.ErrDecode, ref)
		}
		return nil, err
	}
	return obj, nil
}

// Check implements middleware.HealthChecker.
func (s *Store) Check(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}
