package entities

import "encoding/json"

type ESReturn struct {
	Took         int                     `json:"took"`
	TimedOut     bool                    `json:"timed_out"`
	Shards       Shards                  `json:"_shards"`
	Hits         HitsGLobal              `json:"hits"`
	Aggregations *map[string]Aggregation `json:"aggregations,omitempty"`
}
type Shards struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}
type Total struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}
type HitsLocal struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
	Sort   []interface{}   `json:"sort,omitempty"`
}
type HitsGLobal struct {
	Total    Total       `json:"total"`
	MaxScore float64     `json:"max_score"`
	Hits     []HitsLocal `json:"hits"`
}

type Buckets struct {
	Key      string `json:"key"`
	DocCount int    `json:"doc_count"`
}
type Aggregation struct {
	DocCountErrorUpperBound int       `json:"doc_count_error_upper_bound"`
	SumOtherDocCount        int       `json:"sum_other_doc_count"`
	Buckets                 []Buckets `json:"buckets"`
}

// BucketCounts flattens the named terms aggregation into key -> doc count.
func (esReturn *ESReturn) BucketCounts(name string) map[string]int {
	counts := make(map[string]int)
	if esReturn.Aggregations == nil {
		return counts
	}
	agg, found := (*esReturn.Aggregations)[name]
	if !found {
		return counts
	}
	for _, bucket := range agg.Buckets {
		counts[bucket.Key] = bucket.DocCount
	}
	return counts
}

type ESError struct {
	Error struct {
		RootCause []struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"root_cause"`
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}
