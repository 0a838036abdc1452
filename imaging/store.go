package imaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"patient-imaging-api/constants"
	"patient-imaging-api/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store composes the row repository, the payload blob store and the
// per-image locker.
type Store struct {
	repo   Repository
	blobs  BlobStore
	locker Locker
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(repo Repository, blobs BlobStore, locker Locker, logger *zap.Logger) *Store {
	return &Store{
		repo:   repo,
		blobs:  blobs,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
}

func payloadKey(patientID, imageID string) string {
	return patientID + "/" + imageID
}

// Create assigns the id, upload time and payload key, writes the payload
// and then the row. The payload is removed again if the row cannot be
// written.
func (store *Store) Create(ctx context.Context, image *StoredImage, data []byte) (*StoredImage, error) {
	created := image.Clone()
	created.ID = uuid.New().String()
	created.UploadedAt = utils.ConvertTimeToTimeStamp(store.now())
	created.PayloadKey = payloadKey(created.PatientID, created.ID)
	created.PayloadSize = int64(len(data))
	created.syncTagKeys()

	if err := store.blobs.Put(ctx, created.PayloadKey, data, created.ContentType()); err != nil {
		return nil, storageError("put payload", err)
	}
	if err := store.repo.Insert(ctx, created); err != nil {
		if rmErr := store.blobs.Remove(ctx, created.PayloadKey); rmErr != nil {
			store.logger.Error("remove orphaned payload",
				zap.String("payload_key", created.PayloadKey), zap.Error(rmErr))
		}
		return nil, storageError("insert image", err)
	}
	return created, nil
}

// Get returns (nil, nil) when the id is unknown.
func (store *Store) Get(ctx context.Context, id string) (*StoredImage, error) {
	image, err := store.repo.Get(ctx, id)
	if err != nil {
		return nil, storageError("get image", err)
	}
	return image, nil
}

func (store *Store) Payload(ctx context.Context, image *StoredImage) (*Payload, error) {
	data, err := store.blobs.Get(ctx, image.PayloadKey)
	if err != nil {
		return nil, storageError("get payload", err)
	}
	return &Payload{
		FileName:    image.FileName,
		ContentType: image.ContentType(),
		Data:        data,
	}, nil
}

func (store *Store) ListByPatient(ctx context.Context, patientID string) ([]StoredImage, error) {
	return store.Search(ctx, FilterPredicate{PatientID: patientID})
}

func (store *Store) ListByPatientAndDateRange(ctx context.Context, patientID string, from, to *time.Time) ([]StoredImage, error) {
	return store.Search(ctx, FilterPredicate{PatientID: patientID, From: from, To: to})
}

func (store *Store) Search(ctx context.Context, filter FilterPredicate) ([]StoredImage, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	images, err := store.repo.Search(ctx, filter)
	if err != nil {
		return nil, storageError("search images", err)
	}
	return images, nil
}

func (store *Store) Statistics(ctx context.Context, filter FilterPredicate) (*Statistics, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	stats, err := store.repo.Statistics(ctx, filter)
	if err != nil {
		return nil, storageError("image statistics", err)
	}
	return stats, nil
}

// withLock runs fn on a fresh copy of the row while holding its lock and
// writes back whatever fn left in the copy.
func (store *Store) withLock(ctx context.Context, id string, fn func(image *StoredImage) error) (*StoredImage, error) {
	unlock, err := store.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, storageError("lock image", err)
	}
	defer unlock()

	current, err := store.repo.Get(ctx, id)
	if err != nil {
		return nil, storageError("get image", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.syncTagKeys()
	if err := store.repo.Replace(ctx, updated); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storageError("replace image", err)
	}
	return updated, nil
}

// Update applies a caller change. Identity, payload and preview linkage
// are restored after fn runs, whatever fn did to them.
func (store *Store) Update(ctx context.Context, id string, fn func(image *StoredImage) error) (*StoredImage, error) {
	return store.withLock(ctx, id, func(image *StoredImage) error {
		before := image.Clone()
		if err := fn(image); err != nil {
			return err
		}
		keepImmutable(before, image)
		image.Modified = utils.ConvertTimeToTimeStamp(store.now())
		return nil
	})
}

// link records the confirmed preview on its original.
func (store *Store) link(ctx context.Context, originalID, previewID string) (*StoredImage, error) {
	return store.withLock(ctx, originalID, func(image *StoredImage) error {
		image.PreviewImageID = previewID
		image.PreviewState = constants.PreviewStateLinked
		return nil
	})
}

func (store *Store) setPreviewState(ctx context.Context, id, state string) (*StoredImage, error) {
	return store.withLock(ctx, id, func(image *StoredImage) error {
		image.PreviewState = state
		return nil
	})
}

// Delete removes the row, then its payload. Rows referencing the image are
// left alone. It reports false when the id is unknown.
func (store *Store) Delete(ctx context.Context, id string) (bool, error) {
	unlock, err := store.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return false, storageError("lock image", err)
	}
	defer unlock()

	image, err := store.repo.Get(ctx, id)
	if err != nil {
		return false, storageError("get image", err)
	}
	if image == nil {
		return false, nil
	}

	deleted, err := store.repo.Delete(ctx, id)
	if err != nil {
		return false, storageError("delete image", err)
	}
	if !deleted {
		return false, nil
	}
	if err := store.blobs.Remove(ctx, image.PayloadKey); err != nil {
		store.logger.Error("remove payload",
			zap.String("image_id", id), zap.String("payload_key", image.PayloadKey), zap.Error(err))
	}
	return true, nil
}

func (store *Store) findPending(ctx context.Context, uploadedBefore time.Time) ([]StoredImage, error) {
	images, err := store.repo.FindPending(ctx, utils.ConvertTimeToTimeStamp(uploadedBefore))
	if err != nil {
		return nil, storageError("find pending", err)
	}
	return images, nil
}

func (store *Store) findPreviewOf(ctx context.Context, originalID string) (*StoredImage, error) {
	image, err := store.repo.FindPreviewOf(ctx, originalID)
	if err != nil {
		return nil, storageError("find preview", err)
	}
	return image, nil
}

// remove drops a row and payload without taking the lock. Only used to undo
// a write nobody else has seen yet.
func (store *Store) remove(ctx context.Context, image *StoredImage) error {
	if _, err := store.repo.Delete(ctx, image.ID); err != nil {
		return storageError("delete image", err)
	}
	if err := store.blobs.Remove(ctx, image.PayloadKey); err != nil {
		return storageError("remove payload", err)
	}
	return nil
}
