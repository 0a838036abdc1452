package imaging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"patient-imaging-api/utils"
)

type kvStr2Inf = map[string]interface{}

// FilterPredicate selects images. Zero-valued fields do not constrain.
// All fields are AND-ed; every key in Tags must be present on the image
// (values are not compared). The same predicate drives Search and
// Statistics on every repository.
type FilterPredicate struct {
	PatientID       string     `json:"patient_id,omitempty"`
	StudyType       string     `json:"study_type,omitempty"`
	BodyPart        string     `json:"body_part,omitempty"`
	From            *time.Time `json:"from,omitempty"`
	To              *time.Time `json:"to,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	ExcludePreviews bool       `json:"exclude_previews,omitempty"`
}

// Predicate is one independent condition on an image.
type Predicate func(image *StoredImage) bool

func ByPatient(patientID string) Predicate {
	return func(image *StoredImage) bool { return image.PatientID == patientID }
}

func ByStudyType(studyType string) Predicate {
	return func(image *StoredImage) bool { return image.StudyType == studyType }
}

func ByBodyPart(bodyPart string) Predicate {
	return func(image *StoredImage) bool { return image.BodyPart == bodyPart }
}

// ByUploadedRange is inclusive on both ends; a nil bound is open.
func ByUploadedRange(from, to *time.Time) Predicate {
	return func(image *StoredImage) bool {
		if from != nil && image.UploadedAt < utils.ConvertTimeToTimeStamp(*from) {
			return false
		}
		if to != nil && image.UploadedAt > utils.ConvertTimeToTimeStamp(*to) {
			return false
		}
		return true
	}
}

func WithTagKeys(keys []string) Predicate {
	return func(image *StoredImage) bool {
		for _, k := range keys {
			if _, found := image.Tags[k]; !found {
				return false
			}
		}
		return true
	}
}

func ExcludingPreviews() Predicate {
	return func(image *StoredImage) bool { return !image.IsPreview }
}

func (f FilterPredicate) Validate() error {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return fmt.Errorf("%w: from is after to", ErrInvalidFilter)
	}
	for _, k := range f.Tags {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty tag key", ErrInvalidFilter)
		}
	}
	return nil
}

// Predicates lists one predicate per set field.
func (f FilterPredicate) Predicates() []Predicate {
	predicates := make([]Predicate, 0)
	if f.PatientID != "" {
		predicates = append(predicates, ByPatient(f.PatientID))
	}
	if f.StudyType != "" {
		predicates = append(predicates, ByStudyType(f.StudyType))
	}
	if f.BodyPart != "" {
		predicates = append(predicates, ByBodyPart(f.BodyPart))
	}
	if f.From != nil || f.To != nil {
		predicates = append(predicates, ByUploadedRange(f.From, f.To))
	}
	if len(f.Tags) > 0 {
		predicates = append(predicates, WithTagKeys(f.Tags))
	}
	if f.ExcludePreviews {
		predicates = append(predicates, ExcludingPreviews())
	}
	return predicates
}

// Match ANDs all predicates.
func (f FilterPredicate) Match(image *StoredImage) bool {
	for _, predicate := range f.Predicates() {
		if !predicate(image) {
			return false
		}
	}
	return true
}

// ESClauses is the Elasticsearch bool filter equivalent of Predicates.
func (f FilterPredicate) ESClauses() []kvStr2Inf {
	clauses := make([]kvStr2Inf, 0)
	term := func(field string, value interface{}) kvStr2Inf {
		return kvStr2Inf{"term": kvStr2Inf{field: value}}
	}
	if f.PatientID != "" {
		clauses = append(clauses, term("patient_id", f.PatientID))
	}
	if f.StudyType != "" {
		clauses = append(clauses, term("study_type", f.StudyType))
	}
	if f.BodyPart != "" {
		clauses = append(clauses, term("body_part", f.BodyPart))
	}
	if f.From != nil || f.To != nil {
		bounds := kvStr2Inf{}
		if f.From != nil {
			bounds["gte"] = utils.ConvertTimeToTimeStamp(*f.From)
		}
		if f.To != nil {
			bounds["lte"] = utils.ConvertTimeToTimeStamp(*f.To)
		}
		clauses = append(clauses, kvStr2Inf{"range": kvStr2Inf{"uploaded_at": bounds}})
	}
	for _, k := range f.Tags {
		clauses = append(clauses, term("tag_keys", k))
	}
	if f.ExcludePreviews {
		clauses = append(clauses, term("is_preview", false))
	}
	return clauses
}

// SQLWhere is the Postgres equivalent of Predicates. Placeholders start at
// $firstArg so the clause can be appended to other arguments.
func (f FilterPredicate) SQLWhere(firstArg int) (string, []interface{}) {
	conditions := make([]string, 0)
	args := make([]interface{}, 0)
	add := func(condition string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(condition, firstArg+len(args)-1))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.StudyType != "" {
		add("study_type = $%d", f.StudyType)
	}
	if f.BodyPart != "" {
		add("body_part = $%d", f.BodyPart)
	}
	if f.From != nil {
		add("uploaded_at >= $%d", utils.ConvertTimeToTimeStamp(*f.From))
	}
	if f.To != nil {
		add("uploaded_at <= $%d", utils.ConvertTimeToTimeStamp(*f.To))
	}
	if len(f.Tags) > 0 {
		add("tags ?& $%d", f.Tags)
	}
	if f.ExcludePreviews {
		conditions = append(conditions, "is_preview = FALSE")
	}
	if len(conditions) == 0 {
		return "TRUE", args
	}
	return strings.Join(conditions, " AND "), args
}

// sortImages orders most recent first, ties by ascending id.
func sortImages(images []StoredImage) {
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].UploadedAt != images[j].UploadedAt {
			return images[i].UploadedAt > images[j].UploadedAt
		}
		return images[i].ID < images[j].ID
	})
}

const imageSort = "-uploaded_at,id"
