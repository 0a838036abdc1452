package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"patient-imaging-api/constants"
	"patient-imaging-api/entities"
	"patient-imaging-api/utils"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"go.uber.org/zap"
)

// ESRepository stores rows in monthly indices <prefix>_YYYYMM keyed by
// upload time. Reads go through the <prefix>_* wildcard.
type ESRepository struct {
	esClient    *elasticsearch.Client
	indexPrefix string
	pageSize    int
	logger      *zap.Logger
}

func NewESRepository(es *elasticsearch.Client, indexPrefix string, logger *zap.Logger) *ESRepository {
	return &ESRepository{
		es, indexPrefix, constants.DefaultLimit, logger,
	}
}

func getIndexName(indexPrefix string, image *StoredImage) string {
	indexTime := utils.ConvertTimeStampToTime(image.UploadedAt)
	return fmt.Sprintf("%s_%d%02d", indexPrefix, indexTime.Year(), indexTime.Month())
}

func getIndexWildcard(indexPrefix string) string {
	return fmt.Sprintf("%s_*", indexPrefix)
}

func decodeESError(res *esapi.Response) error {
	var esError entities.ESError
	if err := json.NewDecoder(res.Body).Decode(&esError); err != nil {
		return fmt.Errorf("[%s] error parsing the response body: %s", res.Status(), err)
	}
	return fmt.Errorf("[%s] %s: %s", res.Status(), esError.Error.Type, esError.Error.Reason)
}

// PutIndexTemplate installs the mapping shared by all monthly indices.
func (store *ESRepository) PutIndexTemplate(ctx context.Context) error {
	keyword := kvStr2Inf{"type": "keyword"}
	long := kvStr2Inf{"type": "long"}
	template := kvStr2Inf{
		"index_patterns": []string{getIndexWildcard(store.indexPrefix)},
		"mappings": kvStr2Inf{
			"properties": kvStr2Inf{
				"id":                keyword,
				"patient_id":        keyword,
				"file_name":         keyword,
				"file_format":       keyword,
				"payload_key":       keyword,
				"payload_size":      long,
				"uploaded_at":       long,
				"modified":          long,
				"is_preview":        kvStr2Inf{"type": "boolean"},
				"original_image_id": keyword,
				"preview_image_id":  keyword,
				"preview_state":     keyword,
				"description":       kvStr2Inf{"type": "text"},
				"study_type":        keyword,
				"body_part":         keyword,
				"tags":              kvStr2Inf{"type": "flattened"},
				"tag_keys":          keyword,
				"metadata": kvStr2Inf{
					"properties": kvStr2Inf{
						"patient_name":        keyword,
						"study_date":          kvStr2Inf{"type": "date"},
						"modality":            keyword,
						"study_description":   kvStr2Inf{"type": "text"},
						"series_description":  kvStr2Inf{"type": "text"},
						"body_part_examined":  keyword,
						"study_instance_uid":  keyword,
						"series_instance_uid": keyword,
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(template); err != nil {
		return err
	}
	req := esapi.IndicesPutTemplateRequest{
		Name: store.indexPrefix,
		Body: &buf,
	}
	res, err := req.Do(ctx, store.esClient)
	if err != nil {
		return fmt.Errorf("IndicesPutTemplateRequest ERROR: %s", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return decodeESError(res)
	}
	return nil
}

func (store *ESRepository) index(ctx context.Context, image *StoredImage, opType string) error {
	req := esapi.IndexRequest{
		Index:      getIndexName(store.indexPrefix, image),
		DocumentID: image.ID,
		Body:       strings.NewReader(image.String()),
		OpType:     opType,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, store.esClient)
	if err != nil {
		return fmt.Errorf("IndexRequest ERROR: %s", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing document ID=%s: %w", image.ID, decodeESError(res))
	}
	return nil
}

func (store *ESRepository) Insert(ctx context.Context, image *StoredImage) error {
	return store.index(ctx, image, "create")
}

// Replace overwrites the whole document. The index is derived from the
// immutable upload time, so it is the one the row was created in.
func (store *ESRepository) Replace(ctx context.Context, image *StoredImage) error {
	return store.index(ctx, image, "index")
}

func (store *ESRepository) search(ctx context.Context, body *kvStr2Inf) ([]StoredImage, *entities.ESReturn, error) {
	es := store.esClient

	var (
		esReturn entities.ESReturn
		buf      bytes.Buffer
	)
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, fmt.Errorf("Error encoding query: %s", err)
	}

	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(getIndexWildcard(store.indexPrefix)),
		es.Search.WithBody(&buf),
		es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("Error getting response: %s", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, nil, decodeESError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(&esReturn); err != nil {
		return nil, nil, fmt.Errorf("Error parsing the response body: %s", err)
	}

	images := make([]StoredImage, 0, len(esReturn.Hits.Hits))
	for _, hit := range esReturn.Hits.Hits {
		var image StoredImage
		if err := json.Unmarshal(hit.Source, &image); err != nil {
			store.logger.Warn("skipping undecodable image document", zap.String("id", hit.ID), zap.Error(err))
			continue
		}
		if image.Tags == nil {
			image.Tags = make(map[string]string)
		}
		images = append(images, image)
	}
	return images, &esReturn, nil
}

// query pages through every hit of the filter clauses with search_after on
// the sort values of the last hit, so it is not bound by
// index.max_result_window. uploaded_at desc, id asc is a total order.
func (store *ESRepository) query(ctx context.Context, clauses []kvStr2Inf) ([]StoredImage, error) {
	all := make([]StoredImage, 0)
	var after []interface{}
	for {
		body := utils.ConvertFilterToESQueryBody(clauses, -1, store.pageSize, imageSort, nil)
		if after != nil {
			(*body)["search_after"] = after
		}
		images, esReturn, err := store.search(ctx, body)
		if err != nil {
			return nil, err
		}
		all = append(all, images...)

		hits := esReturn.Hits.Hits
		if len(hits) < store.pageSize {
			break
		}
		after = hits[len(hits)-1].Sort
		if len(after) == 0 {
			return nil, fmt.Errorf("hit %s carries no sort values to continue from", hits[len(hits)-1].ID)
		}
	}
	return all, nil
}

func idsClause(id string) kvStr2Inf {
	return kvStr2Inf{"ids": kvStr2Inf{"values": []string{id}}}
}

func (store *ESRepository) Get(ctx context.Context, id string) (*StoredImage, error) {
	body := utils.ConvertFilterToESQueryBody([]kvStr2Inf{idsClause(id)}, -1, 1, "", nil)
	images, _, err := store.search(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}
	return &images[0], nil
}

func (store *ESRepository) Delete(ctx context.Context, id string) (bool, error) {
	var buf bytes.Buffer
	body := utils.ConvertFilterToESQueryBody([]kvStr2Inf{idsClause(id)}, -1, -1, "", nil)
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return false, fmt.Errorf("Error encoding query: %s", err)
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{getIndexWildcard(store.indexPrefix)},
		Body:    &buf,
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, store.esClient)
	if err != nil {
		return false, fmt.Errorf("DeleteByQueryRequest ERROR: %s", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return false, decodeESError(res)
	}

	var resMap struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resMap); err != nil && err != io.EOF {
		return false, fmt.Errorf("Error parsing the response body: %s", err)
	}
	return resMap.Deleted > 0, nil
}

func (store *ESRepository) Search(ctx context.Context, filter FilterPredicate) ([]StoredImage, error) {
	return store.query(ctx, filter.ESClauses())
}

// Statistics runs one size-0 request so the total and the facets come from
// the same point-in-time view of the same query.
func (store *ESRepository) Statistics(ctx context.Context, filter FilterPredicate) (*Statistics, error) {
	body := utils.ConvertFilterToESQueryBody(filter.ESClauses(), -1, 0, "", []string{"study_type", "body_part"})
	_, esReturn, err := store.search(ctx, body)
	if err != nil {
		return nil, err
	}
	stats := newStatistics()
	stats.TotalCount = esReturn.Hits.Total.Value
	stats.CountsByStudyType = esReturn.BucketCounts("study_type")
	stats.CountsByBodyPart = esReturn.BucketCounts("body_part")
	return stats, nil
}

func (store *ESRepository) FindPending(ctx context.Context, uploadedBefore int64) ([]StoredImage, error) {
	return store.query(ctx, []kvStr2Inf{
		{"term": kvStr2Inf{"is_preview": false}},
		{"term": kvStr2Inf{"preview_state": constants.PreviewStatePending}},
		{"range": kvStr2Inf{"uploaded_at": kvStr2Inf{"lte": uploadedBefore}}},
	})
}

func (store *ESRepository) FindPreviewOf(ctx context.Context, originalID string) (*StoredImage, error) {
	body := utils.ConvertFilterToESQueryBody([]kvStr2Inf{
		{"term": kvStr2Inf{"is_preview": true}},
		{"term": kvStr2Inf{"original_image_id": originalID}},
	}, -1, 1, imageSort, nil)
	images, _, err := store.search(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}
	return &images[0], nil
}
