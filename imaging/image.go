package imaging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom"
)

// StoredImage is one persisted file: an uploaded original or a preview
// derived from one. The payload bytes live in the BlobStore under PayloadKey.
type StoredImage struct {
	ID              string            `json:"id"`
	PatientID       string            `json:"patient_id"`
	FileName        string            `json:"file_name"`
	FileFormat      string            `json:"file_format"`
	PayloadKey      string            `json:"payload_key"`
	PayloadSize     int64             `json:"payload_size"`
	UploadedAt      int64             `json:"uploaded_at"`
	Modified        int64             `json:"modified,omitempty"`
	IsPreview       bool              `json:"is_preview"`
	OriginalImageID string            `json:"original_image_id,omitempty"`
	PreviewImageID  string            `json:"preview_image_id,omitempty"`
	PreviewState    string            `json:"preview_state"`
	Metadata        *dicom.Metadata   `json:"metadata,omitempty"`
	Description     string            `json:"description,omitempty"`
	StudyType       string            `json:"study_type,omitempty"`
	BodyPart        string            `json:"body_part,omitempty"`
	Tags            map[string]string `json:"tags"`
	TagKeys         []string          `json:"tag_keys"`
}

func (image *StoredImage) String() string {
	b, _ := json.Marshal(image)
	return string(b)
}

func (image *StoredImage) ContentType() string {
	return ContentType(image.FileFormat)
}

// Clone deep-copies the mutable parts so callers never share maps with a
// repository.
func (image *StoredImage) Clone() *StoredImage {
	clone := *image
	if image.Metadata != nil {
		metadata := *image.Metadata
		if image.Metadata.StudyDate != nil {
			studyDate := *image.Metadata.StudyDate
			metadata.StudyDate = &studyDate
		}
		clone.Metadata = &metadata
	}
	clone.Tags = make(map[string]string, len(image.Tags))
	for k, v := range image.Tags {
		clone.Tags[k] = v
	}
	clone.TagKeys = append([]string(nil), image.TagKeys...)
	return &clone
}

// syncTagKeys keeps the denormalised key list in step with Tags.
func (image *StoredImage) syncTagKeys() {
	if image.Tags == nil {
		image.Tags = make(map[string]string)
	}
	keys := make([]string, 0, len(image.Tags))
	for k := range image.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	image.TagKeys = keys
}

// Payload is a downloadable file.
type Payload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Statistics are the facet counts over a filtered set. Images without a
// study type or body part count toward TotalCount only.
type Statistics struct {
	TotalCount        int            `json:"total_count"`
	CountsByStudyType map[string]int `json:"counts_by_study_type"`
	CountsByBodyPart  map[string]int `json:"counts_by_body_part"`
}

func newStatistics() *Statistics {
	return &Statistics{
		CountsByStudyType: make(map[string]int),
		CountsByBodyPart:  make(map[string]int),
	}
}

func (stats *Statistics) add(image *StoredImage) {
	stats.TotalCount++
	if image.StudyType != "" {
		stats.CountsByStudyType[image.StudyType]++
	}
	if image.BodyPart != "" {
		stats.CountsByBodyPart[image.BodyPart]++
	}
}

// MetadataUpdate changes the caller-editable fields; nil leaves a field as
// is. A non-nil Tags replaces the whole tag map.
type MetadataUpdate struct {
	FileName    *string           `json:"file_name,omitempty"`
	Description *string           `json:"description,omitempty"`
	StudyType   *string           `json:"study_type,omitempty"`
	BodyPart    *string           `json:"body_part,omitempty"`
	Metadata    *dicom.Metadata   `json:"metadata,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (update *MetadataUpdate) apply(image *StoredImage) error {
	if update.FileName != nil {
		if strings.TrimSpace(*update.FileName) == "" {
			return fmt.Errorf("%w: empty file name", ErrInvalidUpdate)
		}
		image.FileName = *update.FileName
	}
	if update.Description != nil {
		image.Description = *update.Description
	}
	if update.StudyType != nil {
		image.StudyType = *update.StudyType
	}
	if update.BodyPart != nil {
		image.BodyPart = *update.BodyPart
	}
	if update.Metadata != nil {
		if image.FileFormat != constants.FileFormatDICOM || image.IsPreview {
			return fmt.Errorf("%w: metadata only applies to DICOM originals", ErrInvalidUpdate)
		}
		metadata := *update.Metadata
		image.Metadata = &metadata
	}
	if update.Tags != nil {
		if err := validateTags(update.Tags); err != nil {
			return err
		}
		image.Tags = make(map[string]string, len(update.Tags))
		for k, v := range update.Tags {
			image.Tags[k] = v
		}
	}
	return nil
}

func validateTags(tags map[string]string) error {
	for k := range tags {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty tag key", ErrInvalidUpdate)
		}
	}
	return nil
}

// keepImmutable restores everything a caller update may not touch.
func keepImmutable(before, after *StoredImage) {
	after.ID = before.ID
	after.PatientID = before.PatientID
	after.FileFormat = before.FileFormat
	after.PayloadKey = before.PayloadKey
	after.PayloadSize = before.PayloadSize
	after.UploadedAt = before.UploadedAt
	after.IsPreview = before.IsPreview
	after.OriginalImageID = before.OriginalImageID
	after.PreviewImageID = before.PreviewImageID
	after.PreviewState = before.PreviewState
}
