package imaging

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// MinIOBlobStore keeps payloads as objects in one bucket.
type MinIOBlobStore struct {
	minioClient *minio.Client
	bucketName  string
	logger      *zap.Logger
}

func NewMinIOBlobStore(minioClient *minio.Client, bucketName string, logger *zap.Logger) *MinIOBlobStore {
	return &MinIOBlobStore{
		minioClient: minioClient,
		bucketName:  bucketName,
		logger:      logger,
	}
}

// EnsureBucket creates the bucket unless it already exists.
func (store *MinIOBlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := store.minioClient.BucketExists(ctx, store.bucketName)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", store.bucketName, err)
	}
	if exists {
		return nil
	}
	if err := store.minioClient.MakeBucket(ctx, store.bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", store.bucketName, err)
	}
	store.logger.Info("bucket created", zap.String("bucket", store.bucketName))
	return nil
}

func (store *MinIOBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	info, err := store.minioClient.PutObject(ctx, store.bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	store.logger.Debug("object stored",
		zap.String("key", key),
		zap.String("size", humanize.Bytes(uint64(info.Size))))
	return nil
}

func (store *MinIOBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := store.minioClient.GetObject(ctx, store.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinIOError(key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, translateMinIOError(key, err)
	}
	return data, nil
}

func (store *MinIOBlobStore) Remove(ctx context.Context, key string) error {
	return store.minioClient.RemoveObject(ctx, store.bucketName, key, minio.RemoveObjectOptions{})
}

func translateMinIOError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	return err
}
