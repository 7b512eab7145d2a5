package minioctrl

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docchat/src/storage/blob"
)

type MinioService struct {
	client *minio.Client
}

var _ blob.Store = (*MinioService)(nil)

func NewMinioService(endpoint, accessKeyID, secretAccessKey string, useSSL bool) (*MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
	}, nil
}

func (s *MinioService) EnsureBucketExists(ctx context.Context, bucketName string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Ping reports whether the bucket is reachable and exists.
func (s *MinioService) Ping(ctx context.Context, bucketName string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", bucketName, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", bucketName)
	}
	return nil
}

// GetObject reads the whole object. A missing key or bucket yields blob.ErrNotFound.
func (s *MinioService) GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(err, bucketName, objectName)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only shows up on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(err, bucketName, objectName)
	}

	return data, nil
}

func (s *MinioService) PutObject(ctx context.Context, bucketName, objectName string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, bucketName, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", bucketName, objectName, err)
	}

	return nil
}

func (s *MinioService) translate(err error, bucketName, objectName string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s/%s: %w", bucketName, objectName, blob.ErrNotFound)
	}
	return fmt.Errorf("failed to get object %s/%s: %w", bucketName, objectName, err)
}
