package imaging

import (
	"context"
	"fmt"
	"sync"

	"patient-imaging-api/constants"
)

// MemoryRepository keeps rows in a map. The map lock is held only for the
// copy in or out; per-image write ordering is the Locker's job.
type MemoryRepository struct {
	mu     sync.RWMutex
	images map[string]*StoredImage
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{images: make(map[string]*StoredImage)}
}

func (repo *MemoryRepository) Insert(_ context.Context, image *StoredImage) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if _, found := repo.images[image.ID]; found {
		return fmt.Errorf("image %s already exists", image.ID)
	}
	repo.images[image.ID] = image.Clone()
	return nil
}

func (repo *MemoryRepository) Get(_ context.Context, id string) (*StoredImage, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	image, found := repo.images[id]
	if !found {
		return nil, nil
	}
	return image.Clone(), nil
}

func (repo *MemoryRepository) Replace(_ context.Context, image *StoredImage) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if _, found := repo.images[image.ID]; !found {
		return fmt.Errorf("%w: %s", ErrNotFound, image.ID)
	}
	repo.images[image.ID] = image.Clone()
	return nil
}

func (repo *MemoryRepository) Delete(_ context.Context, id string) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	_, found := repo.images[id]
	delete(repo.images, id)
	return found, nil
}

func (repo *MemoryRepository) collect(keep func(image *StoredImage) bool) []StoredImage {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	images := make([]StoredImage, 0)
	for _, image := range repo.images {
		if keep(image) {
			images = append(images, *image.Clone())
		}
	}
	sortImages(images)
	return images
}

func (repo *MemoryRepository) Search(_ context.Context, filter FilterPredicate) ([]StoredImage, error) {
	return repo.collect(filter.Match), nil
}

// Statistics walks the same snapshot the listing would return.
func (repo *MemoryRepository) Statistics(ctx context.Context, filter FilterPredicate) (*Statistics, error) {
	images, err := repo.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats := newStatistics()
	for i := range images {
		stats.add(&images[i])
	}
	return stats, nil
}

func (repo *MemoryRepository) FindPending(_ context.Context, uploadedBefore int64) ([]StoredImage, error) {
	return repo.collect(func(image *StoredImage) bool {
		return !image.IsPreview && image.PreviewState == constants.PreviewStatePending && image.UploadedAt <= uploadedBefore
	}), nil
}

func (repo *MemoryRepository) FindPreviewOf(_ context.Context, originalID string) (*StoredImage, error) {
	previews := repo.collect(func(image *StoredImage) bool {
		return image.IsPreview && image.OriginalImageID == originalID
	})
	if len(previews) == 0 {
		return nil, nil
	}
	return &previews[0], nil
}
