package imaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPredicates(t *testing.T) {
	uploaded := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	image := &StoredImage{
		PatientID:  "p-1",
		StudyType:  "CT",
		BodyPart:   "CHEST",
		UploadedAt: uploaded.UnixMilli(),
		Tags:       map[string]string{"urgent": "", "reviewed": "yes"},
	}
	before, after := uploaded.Add(-time.Second), uploaded.Add(time.Second)

	assert.True(t, ByPatient("p-1")(image))
	assert.False(t, ByPatient("p-2")(image))
	assert.True(t, ByStudyType("CT")(image))
	assert.False(t, ByStudyType("ct")(image))
	assert.True(t, ByBodyPart("CHEST")(image))
	assert.True(t, ByUploadedRange(&uploaded, &uploaded)(image))
	assert.True(t, ByUploadedRange(&before, nil)(image))
	assert.True(t, ByUploadedRange(nil, &after)(image))
	assert.False(t, ByUploadedRange(&after, nil)(image))
	assert.False(t, ByUploadedRange(nil, &before)(image))
	assert.True(t, WithTagKeys([]string{"urgent", "reviewed"})(image))
	assert.False(t, WithTagKeys([]string{"urgent", "missing"})(image))
	assert.True(t, ExcludingPreviews()(image))
	assert.False(t, ExcludingPreviews()(&StoredImage{IsPreview: true}))
}

func TestFilterMatch(t *testing.T) {
	image := &StoredImage{PatientID: "p-1", StudyType: "CT", Tags: map[string]string{"a": "1"}}

	assert.Empty(t, FilterPredicate{}.Predicates())
	assert.True(t, FilterPredicate{}.Match(image))
	assert.True(t, FilterPredicate{PatientID: "p-1", StudyType: "CT", Tags: []string{"a"}}.Match(image))
	assert.False(t, FilterPredicate{PatientID: "p-1", StudyType: "MR"}.Match(image))
	assert.False(t, FilterPredicate{PatientID: "p-1", BodyPart: "HEAD"}.Match(image))
	assert.Len(t, FilterPredicate{PatientID: "p-1", Tags: []string{"a"}, ExcludePreviews: true}.Predicates(), 3)
}

func TestFilterValidate(t *testing.T) {
	from := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	assert.NoError(t, FilterPredicate{}.Validate())
	assert.NoError(t, FilterPredicate{From: &from, To: &from}.Validate())
	assert.ErrorIs(t, FilterPredicate{From: &from, To: &to}.Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, FilterPredicate{Tags: []string{"ok", ""}}.Validate(), ErrInvalidFilter)
}

func TestESClauses(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	filter := FilterPredicate{
		PatientID:       "p-1",
		BodyPart:        "KNEE",
		From:            &from,
		Tags:            []string{"urgent", "reviewed"},
		ExcludePreviews: true,
	}

	assert.Equal(t, []kvStr2Inf{
		{"term": kvStr2Inf{"patient_id": "p-1"}},
		{"term": kvStr2Inf{"body_part": "KNEE"}},
		{"range": kvStr2Inf{"uploaded_at": kvStr2Inf{"gte": from.UnixMilli()}}},
		{"term": kvStr2Inf{"tag_keys": "urgent"}},
		{"term": kvStr2Inf{"tag_keys": "reviewed"}},
		{"term": kvStr2Inf{"is_preview": false}},
	}, filter.ESClauses())
	assert.Empty(t, FilterPredicate{}.ESClauses())
}

func TestSQLWhere(t *testing.T) {
	{
		where, args := FilterPredicate{}.SQLWhere(1)
		assert.Equal(t, "TRUE", where)
		assert.Empty(t, args)
	}
	{
		from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		to := from.Add(24 * time.Hour)
		filter := FilterPredicate{
			PatientID:       "p-1",
			StudyType:       "MR",
			From:            &from,
			To:              &to,
			Tags:            []string{"urgent"},
			ExcludePreviews: true,
		}
		where, args := filter.SQLWhere(3)
		assert.Equal(t, "patient_id = $3 AND study_type = $4 AND uploaded_at >= $5 AND uploaded_at <= $6 AND tags ?& $7 AND is_preview = FALSE", where)
		assert.Equal(t, []interface{}{"p-1", "MR", from.UnixMilli(), to.UnixMilli(), []string{"urgent"}}, args)
	}
}

func TestSortImages(t *testing.T) {
	images := []StoredImage{
		{ID: "b", UploadedAt: 10},
		{ID: "c", UploadedAt: 20},
		{ID: "a", UploadedAt: 10},
	}
	sortImages(images)
	assert.Equal(t, "c", images[0].ID)
	assert.Equal(t, "a", images[1].ID)
	assert.Equal(t, "b", images[2].ID)
}
