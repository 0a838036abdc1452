package imaging

import (
	"context"
	"fmt"
	"time"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom"
	"patient-imaging-api/patient"
	"patient-imaging-api/preview"
	"patient-imaging-api/utils"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

type IngestOptions struct {
	// MaxUploadBytes of zero or less disables the limit.
	MaxUploadBytes int64
	PreviewQuality int
}

// IngestResult reports what an ingestion stored. Reason is set only for
// Rejected; PreviewError only for StoredNoPreview.
type IngestResult struct {
	Status       string          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	OriginalID   string          `json:"original_id,omitempty"`
	PreviewID    string          `json:"preview_id,omitempty"`
	Metadata     *dicom.Metadata `json:"metadata,omitempty"`
	PreviewError string          `json:"preview_error,omitempty"`
}

func rejected(err error) (*IngestResult, error) {
	return &IngestResult{Status: constants.IngestStatusRejected, Reason: ReasonFor(err)}, err
}

// Ingester turns an upload into stored rows.
type Ingester struct {
	store     *Store
	patients  patient.Directory
	summaries patient.SummaryRecorder
	opts      IngestOptions
	logger    *zap.Logger
}

func NewIngester(store *Store, patients patient.Directory, summaries patient.SummaryRecorder, opts IngestOptions, logger *zap.Logger) *Ingester {
	return &Ingester{
		store:     store,
		patients:  patients,
		summaries: summaries,
		opts:      opts,
		logger:    logger,
	}
}

// Ingest validates, classifies and persists one upload. A rejected upload
// returns both a Rejected result and the cause; nothing is stored then.
func (ing *Ingester) Ingest(ctx context.Context, patientID, fileName string, data []byte) (*IngestResult, error) {
	if len(data) == 0 {
		return rejected(ErrEmptyUpload)
	}
	if ing.opts.MaxUploadBytes > 0 && int64(len(data)) > ing.opts.MaxUploadBytes {
		return rejected(fmt.Errorf("%w: %s exceeds %s", ErrUploadTooLarge,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(ing.opts.MaxUploadBytes))))
	}

	exists, err := ing.patients.Exists(ctx, patientID)
	if err != nil {
		return rejected(fmt.Errorf("%w: %v", ErrPatientLookup, err))
	}
	if !exists {
		return rejected(fmt.Errorf("%w: %s", ErrPatientNotFound, patientID))
	}

	format := DetectFormat(fileName, data)
	ing.logger.Info("ingest upload",
		zap.String("patient_id", patientID),
		zap.String("file_name", fileName),
		zap.String("format", format.String()),
		zap.String("size", humanize.Bytes(uint64(len(data)))))

	var (
		result   *IngestResult
		original *StoredImage
	)
	switch format {
	case FormatStructuredBinary:
		result, original, err = ing.ingestDICOM(ctx, patientID, fileName, data)
	case FormatRasterJPEG, FormatRasterPNG:
		result, original, err = ing.ingestRaster(ctx, patientID, fileName, format, data)
	default:
		return rejected(fmt.Errorf("%w: unrecognized content in %s", ErrMalformedImageFile, fileName))
	}
	if err != nil {
		return rejected(err)
	}

	ing.recordSummary(ctx, original)
	return result, nil
}

func (ing *Ingester) ingestRaster(ctx context.Context, patientID, fileName string, format Format, data []byte) (*IngestResult, *StoredImage, error) {
	original, err := ing.store.Create(ctx, &StoredImage{
		PatientID:    patientID,
		FileName:     fileName,
		FileFormat:   format.FileFormat(),
		PreviewState: constants.PreviewStateNone,
	}, data)
	if err != nil {
		return nil, nil, err
	}
	return &IngestResult{Status: constants.IngestStatusStored, OriginalID: original.ID}, original, nil
}

func (ing *Ingester) ingestDICOM(ctx context.Context, patientID, fileName string, data []byte) (*IngestResult, *StoredImage, error) {
	ds, err := dicom.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if ds.Err != nil {
		ing.logger.Debug("dicom dataset read partially",
			zap.String("file_name", fileName), zap.Int("elements", ds.Len()), zap.Error(ds.Err))
	}
	metadata := ds.Metadata()
	if missing := ds.Missing(dicom.MetadataTags...); len(missing) > 0 {
		ing.logger.Debug("dicom metadata incomplete",
			zap.String("file_name", fileName), zap.Strings("missing", missing))
	}

	previewData, renderErr := preview.Render(ds, preview.Options{Quality: ing.opts.PreviewQuality})
	if renderErr != nil {
		ing.logger.Warn("preview not rendered",
			zap.String("file_name", fileName),
			zap.String("transfer_syntax", ds.TransferSyntaxUID),
			zap.Error(renderErr))
	}

	state := constants.PreviewStatePending
	if renderErr != nil {
		state = constants.PreviewStateUnavailable
	}
	original, err := ing.store.Create(ctx, &StoredImage{
		PatientID:    patientID,
		FileName:     fileName,
		FileFormat:   constants.FileFormatDICOM,
		PreviewState: state,
		Metadata:     &metadata,
		StudyType:    metadata.Modality,
		BodyPart:     metadata.BodyPartExamined,
	}, data)
	if err != nil {
		return nil, nil, err
	}

	result := &IngestResult{
		Status:     constants.IngestStatusStored,
		OriginalID: original.ID,
		Metadata:   &metadata,
	}
	if renderErr != nil {
		result.Status = constants.IngestStatusStoredNoPreview
		result.PreviewError = ReasonFor(renderErr)
		return result, original, nil
	}

	previewID, err := ing.persistPreview(ctx, original, previewData)
	if err != nil {
		ing.logger.Error("preview not stored", zap.String("image_id", original.ID), zap.Error(err))
		result.Status = constants.IngestStatusStoredNoPreview
		result.PreviewError = ReasonFor(err)
		return result, original, nil
	}
	result.PreviewID = previewID
	return result, original, nil
}

// persistPreview writes the preview row and then links it from the
// original. On failure the original is left unavailable (preview never
// written) or pending (link failed, preview removed again).
func (ing *Ingester) persistPreview(ctx context.Context, original *StoredImage, data []byte) (string, error) {
	stored, err := ing.store.Create(ctx, &StoredImage{
		PatientID:       original.PatientID,
		FileName:        utils.ReplaceExt(original.FileName, constants.FileFormatJPEG),
		FileFormat:      constants.FileFormatJPEG,
		IsPreview:       true,
		OriginalImageID: original.ID,
		PreviewState:    constants.PreviewStateNone,
		StudyType:       original.StudyType,
		BodyPart:        original.BodyPart,
	}, data)
	if err != nil {
		if _, stateErr := ing.store.setPreviewState(ctx, original.ID, constants.PreviewStateUnavailable); stateErr != nil {
			ing.logger.Error("mark preview unavailable", zap.String("image_id", original.ID), zap.Error(stateErr))
		}
		return "", err
	}

	if _, err := ing.store.link(ctx, original.ID, stored.ID); err != nil {
		if rmErr := ing.store.remove(ctx, stored); rmErr != nil {
			ing.logger.Error("remove unlinked preview", zap.String("preview_id", stored.ID), zap.Error(rmErr))
		}
		return "", storageError("link preview", err)
	}
	return stored.ID, nil
}

func (ing *Ingester) recordSummary(ctx context.Context, original *StoredImage) {
	if ing.summaries == nil || original == nil {
		return
	}
	summary := patient.Summary{
		PatientID:           original.PatientID,
		ImageID:             original.ID,
		LastExaminationDate: utils.ConvertTimeStampToTime(original.UploadedAt),
	}
	if original.Metadata != nil {
		if original.Metadata.StudyDate != nil {
			summary.LastExaminationDate = *original.Metadata.StudyDate
		}
		summary.LastModality = original.Metadata.Modality
		summary.LastStudy = original.Metadata.StudyDescription
	}
	if err := ing.summaries.RecordExamination(ctx, summary); err != nil {
		ing.logger.Warn("patient summary not recorded",
			zap.String("patient_id", original.PatientID), zap.Error(err))
	}
}

// RepairReport counts what one Repair sweep did.
type RepairReport struct {
	Scanned     int `json:"scanned"`
	Linked      int `json:"linked"`
	Unavailable int `json:"unavailable"`
	Failed      int `json:"failed"`
}

// Repair finishes paired writes that stopped before the link step. Originals
// pending for longer than olderThan are linked to their preview row when
// one exists and marked unavailable otherwise.
func (ing *Ingester) Repair(ctx context.Context, olderThan time.Duration) (*RepairReport, error) {
	pending, err := ing.store.findPending(ctx, ing.store.now().Add(-olderThan))
	if err != nil {
		return nil, err
	}

	report := &RepairReport{Scanned: len(pending)}
	for i := range pending {
		original := &pending[i]
		found, err := ing.store.findPreviewOf(ctx, original.ID)
		if err == nil {
			if found != nil {
				_, err = ing.store.link(ctx, original.ID, found.ID)
				if err == nil {
					report.Linked++
				}
			} else {
				_, err = ing.store.setPreviewState(ctx, original.ID, constants.PreviewStateUnavailable)
				if err == nil {
					report.Unavailable++
				}
			}
		}
		if err != nil {
			report.Failed++
			ing.logger.Error("repair preview link", zap.String("image_id", original.ID), zap.Error(err))
		}
	}
	ing.logger.Info("repair finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("linked", report.Linked),
		zap.Int("unavailable", report.Unavailable),
		zap.Int("failed", report.Failed))
	return report, nil
}
