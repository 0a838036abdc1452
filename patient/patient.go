// Package patient talks to the patient record service that owns patients.
// Imaging only needs to know whether a patient exists and to push the
// derived "last examination" summary after new images arrive.
package patient

import (
	"context"
	"encoding/json"
	"time"
)

// Directory answers whether a patient record exists.
type Directory interface {
	Exists(ctx context.Context, patientID string) (bool, error)
}

// SummaryRecorder receives the derived summary recomputed after an image is
// stored for a patient.
type SummaryRecorder interface {
	RecordExamination(ctx context.Context, summary Summary) error
}

type Summary struct {
	PatientID           string    `json:"patient_id"`
	ImageID             string    `json:"image_id"`
	LastExaminationDate time.Time `json:"last_examination_date"`
	LastModality        string    `json:"last_modality,omitempty"`
	LastStudy           string    `json:"last_study,omitempty"`
}

func (summary *Summary) String() string {
	b, _ := json.Marshal(summary)
	return string(b)
}
