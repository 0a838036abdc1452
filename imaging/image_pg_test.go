package imaging

import (
	"errors"
	"testing"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow feeds fixed column values to scanImage.
type fakeRow struct {
	values []interface{}
	err    error
}

func (row fakeRow) Scan(dest ...interface{}) error {
	if row.err != nil {
		return row.err
	}
	if len(dest) != len(row.values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row.values[i].(string)
		case *int64:
			*p = row.values[i].(int64)
		case *bool:
			*p = row.values[i].(bool)
		case *[]byte:
			if row.values[i] != nil {
				*p = []byte(row.values[i].(string))
			}
		default:
			return errors.New("unexpected destination type")
		}
	}
	return nil
}

func imageRow(metadata interface{}, tags string) fakeRow {
	return fakeRow{values: []interface{}{
		"id-1", "p-1", "knee.dcm", constants.FileFormatDICOM, "p-1/id-1", int64(128),
		int64(1000), int64(0), false, "", "id-2", constants.PreviewStateLinked,
		metadata, "", "MR", "KNEE", tags,
	}}
}

func TestScanImage(t *testing.T) {
	image, err := scanImage(imageRow(`{"modality":"MR","study_date":"2024-03-15T00:00:00Z"}`, `{"urgent":"yes","a":""}`))
	require.NoError(t, err)
	assert.Equal(t, "id-1", image.ID)
	assert.Equal(t, int64(128), image.PayloadSize)
	assert.Equal(t, "id-2", image.PreviewImageID)
	require.NotNil(t, image.Metadata)
	assert.Equal(t, "MR", image.Metadata.Modality)
	assert.Equal(t, 2024, image.Metadata.StudyDate.Year())
	assert.Equal(t, []string{"a", "urgent"}, image.TagKeys)
}

func TestScanImageWithoutMetadata(t *testing.T) {
	image, err := scanImage(imageRow(nil, `{}`))
	require.NoError(t, err)
	assert.Nil(t, image.Metadata)
	assert.NotNil(t, image.Tags)
	assert.Empty(t, image.TagKeys)

	_, err = scanImage(imageRow(`not json`, `{}`))
	assert.Error(t, err)
}

func TestJSONArgs(t *testing.T) {
	metadata, tags, err := jsonArgs(&StoredImage{})
	require.NoError(t, err)
	assert.Nil(t, metadata)
	assert.Equal(t, "{}", tags)

	metadata, tags, err = jsonArgs(&StoredImage{
		Metadata: &dicom.Metadata{Modality: "CT"},
		Tags:     map[string]string{"a": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"modality":"CT"}`, metadata)
	assert.Equal(t, `{"a":"1"}`, tags)
}
