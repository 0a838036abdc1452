package imaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service is the operation surface used by the HTTP API and the CLI.
type Service struct {
	store    *Store
	ingester *Ingester
	logger   *zap.Logger
}

func NewService(store *Store, ingester *Ingester, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		ingester: ingester,
		logger:   logger,
	}
}

func (svc *Service) Ingest(ctx context.Context, patientID, fileName string, data []byte) (*IngestResult, error) {
	return svc.ingester.Ingest(ctx, patientID, fileName, data)
}

func (svc *Service) GetImage(ctx context.Context, id string) (*StoredImage, error) {
	image, err := svc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if image == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return image, nil
}

func (svc *Service) DownloadPayload(ctx context.Context, id string) (*Payload, error) {
	image, err := svc.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	return svc.store.Payload(ctx, image)
}

// DownloadPreview follows an original's preview link. A preview id returns
// the preview itself.
func (svc *Service) DownloadPreview(ctx context.Context, id string) (*Payload, error) {
	image, err := svc.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	if image.IsPreview {
		return svc.store.Payload(ctx, image)
	}
	if image.PreviewImageID == "" {
		return nil, fmt.Errorf("%w: %s has no preview (%s)", ErrNotFound, id, image.PreviewState)
	}
	return svc.DownloadPayload(ctx, image.PreviewImageID)
}

func (svc *Service) ListByPatient(ctx context.Context, patientID string) ([]StoredImage, error) {
	return svc.store.ListByPatient(ctx, patientID)
}

func (svc *Service) ListByPatientAndDateRange(ctx context.Context, patientID string, from, to *time.Time) ([]StoredImage, error) {
	return svc.store.ListByPatientAndDateRange(ctx, patientID, from, to)
}

func (svc *Service) Search(ctx context.Context, filter FilterPredicate) ([]StoredImage, error) {
	return svc.store.Search(ctx, filter)
}

func (svc *Service) Statistics(ctx context.Context, filter FilterPredicate) (*Statistics, error) {
	return svc.store.Statistics(ctx, filter)
}

func (svc *Service) UpdateMetadata(ctx context.Context, id string, update MetadataUpdate) (*StoredImage, error) {
	return svc.store.Update(ctx, id, update.apply)
}

// AddTags merges tags into the image; existing keys are overwritten.
func (svc *Service) AddTags(ctx context.Context, id string, tags map[string]string) (*StoredImage, error) {
	if err := validateTags(tags); err != nil {
		return nil, err
	}
	return svc.store.Update(ctx, id, func(image *StoredImage) error {
		for k, v := range tags {
			image.Tags[k] = v
		}
		return nil
	})
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	deleted, err := svc.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	svc.logger.Info("image deleted", zap.String("image_id", id))
	return nil
}

func (svc *Service) Repair(ctx context.Context, olderThan time.Duration) (*RepairReport, error) {
	return svc.ingester.Repair(ctx, olderThan)
}
