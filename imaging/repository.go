package imaging

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned by BlobStore.Get for a missing key.
var ErrBlobNotFound = errors.New("blob not found")

// Repository persists image rows. Get returns (nil, nil) for a missing id.
// Search results are ordered by upload time descending, then id.
type Repository interface {
	Insert(ctx context.Context, image *StoredImage) error
	Get(ctx context.Context, id string) (*StoredImage, error)
	Replace(ctx context.Context, image *StoredImage) error
	Delete(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, filter FilterPredicate) ([]StoredImage, error)
	Statistics(ctx context.Context, filter FilterPredicate) (*Statistics, error)
	// FindPending lists originals still in the pending preview state that
	// were uploaded at or before the given epoch millisecond.
	FindPending(ctx context.Context, uploadedBefore int64) ([]StoredImage, error)
	// FindPreviewOf returns the newest preview row referencing originalID.
	FindPreviewOf(ctx context.Context, originalID string) (*StoredImage, error)
}

// BlobStore holds payload bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Locker serializes writes to one image. unlock must always be called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
