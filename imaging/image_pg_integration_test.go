package imaging

import (
	"context"
	"os"
	"testing"
	"time"

	"patient-imaging-api/constants"
	"patient-imaging-api/db"
	"patient-imaging-api/dicom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newPGTestRepository connects to POSTGRES_TEST_URL, applies the repository
// migrations and empties stored_images.
func newPGTestRepository(t *testing.T) *PGRepository {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()

	pool, err := db.NewPool(ctx, url, 4, 0)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool, "../migrations").Up(ctx)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE stored_images`)
	require.NoError(t, err)

	return NewPGRepository(pool, zap.NewNop())
}

func pgImage(id, patientID string, uploadedAt int64, studyType, bodyPart string, tags map[string]string) *StoredImage {
	image := &StoredImage{
		ID:           id,
		PatientID:    patientID,
		FileName:     id + ".dcm",
		FileFormat:   constants.FileFormatDICOM,
		PayloadKey:   patientID + "/" + id,
		PayloadSize:  64,
		UploadedAt:   uploadedAt,
		PreviewState: constants.PreviewStateNone,
		StudyType:    studyType,
		BodyPart:     bodyPart,
		Tags:         tags,
	}
	image.syncTagKeys()
	return image
}

func TestPGRoundTrip(t *testing.T) {
	repo := newPGTestRepository(t)
	ctx := context.Background()

	studyDate := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	image := pgImage("a", "p-1", 1000, "MR", "KNEE", map[string]string{"urgent": "yes"})
	image.Metadata = &dicom.Metadata{Modality: "MR", StudyDate: &studyDate}
	require.NoError(t, repo.Insert(ctx, image))
	assert.Error(t, repo.Insert(ctx, image))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "MR", got.Metadata.Modality)
	assert.True(t, studyDate.Equal(*got.Metadata.StudyDate))
	assert.Equal(t, map[string]string{"urgent": "yes"}, got.Tags)
	assert.Equal(t, []string{"urgent"}, got.TagKeys)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.Description = "follow-up"
	got.Tags["reviewed"] = ""
	require.NoError(t, repo.Replace(ctx, got))
	got, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "follow-up", got.Description)
	assert.Len(t, got.Tags, 2)

	assert.ErrorIs(t, repo.Replace(ctx, pgImage("ghost", "p-1", 1, "", "", nil)), ErrNotFound)

	deleted, err := repo.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = repo.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPGSearchAndStatisticsAgree(t *testing.T) {
	repo := newPGTestRepository(t)
	ctx := context.Background()

	for _, image := range []*StoredImage{
		pgImage("b", "p-1", 2000, "MR", "KNEE", map[string]string{"urgent": "", "left": ""}),
		pgImage("a", "p-1", 2000, "MR", "HEAD", map[string]string{"urgent": ""}),
		pgImage("c", "p-1", 3000, "CT", "KNEE", nil),
		pgImage("d", "p-2", 4000, "MR", "KNEE", map[string]string{"urgent": ""}),
	} {
		require.NoError(t, repo.Insert(ctx, image))
	}

	filters := []FilterPredicate{
		{},
		{PatientID: "p-1"},
		{PatientID: "p-1", Tags: []string{"urgent"}},
		{Tags: []string{"urgent", "left"}},
		{StudyType: "MR", BodyPart: "KNEE"},
	}
	for _, filter := range filters {
		images, err := repo.Search(ctx, filter)
		require.NoError(t, err)
		stats, err := repo.Statistics(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, len(images), stats.TotalCount, "%+v", filter)
	}

	images, err := repo.Search(ctx, FilterPredicate{PatientID: "p-1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(images))
	for _, image := range images {
		ids = append(ids, image.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	stats, err := repo.Statistics(ctx, FilterPredicate{PatientID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"MR": 2, "CT": 1}, stats.CountsByStudyType)
	assert.Equal(t, map[string]int{"KNEE": 2, "HEAD": 1}, stats.CountsByBodyPart)
}

func TestPGPendingAndPreviewLookup(t *testing.T) {
	repo := newPGTestRepository(t)
	ctx := context.Background()

	original := pgImage("orig", "p-1", 1000, "MR", "KNEE", nil)
	original.PreviewState = constants.PreviewStatePending
	fresh := pgImage("fresh", "p-1", 9000, "MR", "KNEE", nil)
	fresh.PreviewState = constants.PreviewStatePending
	preview := pgImage("prev", "p-1", 1001, "MR", "KNEE", nil)
	preview.IsPreview = true
	preview.OriginalImageID = "orig"
	preview.FileFormat = constants.FileFormatJPEG
	for _, image := range []*StoredImage{original, fresh, preview} {
		require.NoError(t, repo.Insert(ctx, image))
	}

	pending, err := repo.FindPending(ctx, 5000)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "orig", pending[0].ID)

	found, err := repo.FindPreviewOf(ctx, "orig")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "prev", found.ID)

	found, err = repo.FindPreviewOf(ctx, "fresh")
	require.NoError(t, err)
	assert.Nil(t, found)
}
