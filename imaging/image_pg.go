package imaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGRepository stores rows in the stored_images table; tags and metadata
// are JSONB columns.
type PGRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPGRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGRepository {
	return &PGRepository{pool: pool, logger: logger}
}

const imageCols = `id, patient_id, file_name, file_format, payload_key, payload_size,
	uploaded_at, modified, is_preview, original_image_id, preview_image_id, preview_state,
	metadata, description, study_type, body_part, tags`

const imageOrder = ` ORDER BY uploaded_at DESC, id ASC`

func scanImage(row pgx.Row) (*StoredImage, error) {
	var (
		image    StoredImage
		metadata []byte
		tags     []byte
	)
	err := row.Scan(&image.ID, &image.PatientID, &image.FileName, &image.FileFormat, &image.PayloadKey, &image.PayloadSize,
		&image.UploadedAt, &image.Modified, &image.IsPreview, &image.OriginalImageID, &image.PreviewImageID, &image.PreviewState,
		&metadata, &image.Description, &image.StudyType, &image.BodyPart, &tags)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		var md dicom.Metadata
		if err := json.Unmarshal(metadata, &md); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", image.ID, err)
		}
		image.Metadata = &md
	}
	image.Tags = make(map[string]string)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &image.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", image.ID, err)
		}
	}
	image.syncTagKeys()
	return &image, nil
}

func scanImages(rows pgx.Rows) ([]StoredImage, error) {
	defer rows.Close()
	images := make([]StoredImage, 0)
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *image)
	}
	return images, rows.Err()
}

// jsonArgs encodes metadata (NULL when absent) and tags for the JSONB
// columns.
func jsonArgs(image *StoredImage) (interface{}, string, error) {
	var metadata interface{}
	if image.Metadata != nil {
		b, err := json.Marshal(image.Metadata)
		if err != nil {
			return nil, "", err
		}
		metadata = string(b)
	}
	tags := image.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, "", err
	}
	return metadata, string(b), nil
}

func (repo *PGRepository) Insert(ctx context.Context, image *StoredImage) error {
	metadata, tags, err := jsonArgs(image)
	if err != nil {
		return err
	}
	_, err = repo.pool.Exec(ctx, `
		INSERT INTO stored_images (`+imageCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		image.ID, image.PatientID, image.FileName, image.FileFormat, image.PayloadKey, image.PayloadSize,
		image.UploadedAt, image.Modified, image.IsPreview, image.OriginalImageID, image.PreviewImageID, image.PreviewState,
		metadata, image.Description, image.StudyType, image.BodyPart, tags)
	return err
}

func (repo *PGRepository) Get(ctx context.Context, id string) (*StoredImage, error) {
	image, err := scanImage(repo.pool.QueryRow(ctx, `SELECT `+imageCols+` FROM stored_images WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return image, err
}

func (repo *PGRepository) Replace(ctx context.Context, image *StoredImage) error {
	metadata, tags, err := jsonArgs(image)
	if err != nil {
		return err
	}
	tag, err := repo.pool.Exec(ctx, `
		UPDATE stored_images SET file_name=$2, modified=$3, preview_image_id=$4, preview_state=$5,
			metadata=$6, description=$7, study_type=$8, body_part=$9, tags=$10
		WHERE id = $1`,
		image.ID, image.FileName, image.Modified, image.PreviewImageID, image.PreviewState,
		metadata, image.Description, image.StudyType, image.BodyPart, tags)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, image.ID)
	}
	return nil
}

func (repo *PGRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := repo.pool.Exec(ctx, `DELETE FROM stored_images WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (repo *PGRepository) Search(ctx context.Context, filter FilterPredicate) ([]StoredImage, error) {
	where, args := filter.SQLWhere(1)
	repo.logger.Debug("searching stored images", zap.String("where", where), zap.Int("args", len(args)))
	rows, err := repo.pool.Query(ctx, `SELECT `+imageCols+` FROM stored_images WHERE `+where+imageOrder, args...)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

// Statistics reads the total and both facets inside one repeatable-read
// transaction, so all three see the same snapshot.
func (repo *PGRepository) Statistics(ctx context.Context, filter FilterPredicate) (*Statistics, error) {
	where, args := filter.SQLWhere(1)

	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stats := newStatistics()
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM stored_images WHERE `+where, args...).Scan(&stats.TotalCount); err != nil {
		return nil, err
	}
	if stats.CountsByStudyType, err = countBy(ctx, tx, "study_type", where, args); err != nil {
		return nil, err
	}
	if stats.CountsByBodyPart, err = countBy(ctx, tx, "body_part", where, args); err != nil {
		return nil, err
	}
	return stats, tx.Commit(ctx)
}

// countBy groups on a fixed column name, never on caller input.
func countBy(ctx context.Context, q queryable, column, where string, args []interface{}) (map[string]int, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM stored_images WHERE %[2]s AND %[1]s <> '' GROUP BY %[1]s`, column, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func (repo *PGRepository) FindPending(ctx context.Context, uploadedBefore int64) ([]StoredImage, error) {
	rows, err := repo.pool.Query(ctx, `SELECT `+imageCols+` FROM stored_images
		WHERE is_preview = FALSE AND preview_state = $1 AND uploaded_at <= $2`+imageOrder,
		constants.PreviewStatePending, uploadedBefore)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

func (repo *PGRepository) FindPreviewOf(ctx context.Context, originalID string) (*StoredImage, error) {
	image, err := scanImage(repo.pool.QueryRow(ctx, `SELECT `+imageCols+` FROM stored_images
		WHERE is_preview = TRUE AND original_image_id = $1`+imageOrder+` LIMIT 1`, originalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return image, err
}
