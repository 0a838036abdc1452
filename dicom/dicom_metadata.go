package dicom

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// MetadataTags are the elements Metadata is built from.
var MetadataTags = []tag.Tag{
	tag.PatientName,
	tag.StudyDate,
	tag.Modality,
	tag.StudyDescription,
	tag.SeriesDescription,
	tag.BodyPartExamined,
	tag.StudyInstanceUID,
	tag.SeriesInstanceUID,
}

// Metadata is the study-level description extracted from a file. Any field
// may be empty; StudyDate is nil when absent or unparseable.
type Metadata struct {
	PatientName       string     `json:"patient_name,omitempty"`
	StudyDate         *time.Time `json:"study_date,omitempty"`
	Modality          string     `json:"modality,omitempty"`
	StudyDescription  string     `json:"study_description,omitempty"`
	SeriesDescription string     `json:"series_description,omitempty"`
	BodyPartExamined  string     `json:"body_part_examined,omitempty"`
	StudyInstanceUID  string     `json:"study_instance_uid,omitempty"`
	SeriesInstanceUID string     `json:"series_instance_uid,omitempty"`
}

func (metadata *Metadata) String() string {
	b, _ := json.Marshal(metadata)
	return string(b)
}

// Metadata reads each field independently; a missing element leaves only
// its own field empty.
func (ds *Dataset) Metadata() Metadata {
	return Metadata{
		PatientName:       ds.String(tag.PatientName),
		StudyDate:         ParseDate(ds.String(tag.StudyDate)),
		Modality:          ds.String(tag.Modality),
		StudyDescription:  ds.String(tag.StudyDescription),
		SeriesDescription: ds.String(tag.SeriesDescription),
		BodyPartExamined:  ds.String(tag.BodyPartExamined),
		StudyInstanceUID:  ds.String(tag.StudyInstanceUID),
		SeriesInstanceUID: ds.String(tag.SeriesInstanceUID),
	}
}

// ParseDate parses a DA value (YYYYMMDD, or the retired YYYY.MM.DD form).
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	layout := "20060102"
	if strings.Contains(raw, ".") {
		layout = "2006.01.02"
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return nil
	}
	return &t
}
