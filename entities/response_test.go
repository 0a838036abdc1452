package entities

import (
	"errors"
	"testing"

	"patient-imaging-api/constants"

	"github.com/stretchr/testify/assert"
)

func TestNewResponse(t *testing.T) {
	resp := NewResponse()
	assert.Equal(t, constants.ServerOK, resp.ErrorCode)
	assert.NotZero(t, resp.ServerTime)
	assert.NotEqual(t, "{}", resp.String())
}

func TestFail(t *testing.T) {
	{
		resp := NewResponse()
		resp.Fail(constants.ServerNotFound, errors.New("image not found"))
		assert.Equal(t, constants.ServerNotFound, resp.ErrorCode)
		assert.Equal(t, "image not found", resp.Message)
	}
	{
		resp := NewResponse()
		resp.Fail(constants.ServerError, nil)
		assert.Equal(t, "", resp.Message)
	}
}

func TestBucketCounts(t *testing.T) {
	{
		esReturn := ESReturn{}
		assert.Empty(t, esReturn.BucketCounts("study_type"))
	}
	{
		aggs := map[string]Aggregation{
			"study_type": {Buckets: []Buckets{{Key: "MRI", DocCount: 3}, {Key: "CT", DocCount: 1}}},
		}
		esReturn := ESReturn{Aggregations: &aggs}
		assert.Equal(t, map[string]int{"MRI": 3, "CT": 1}, esReturn.BucketCounts("study_type"))
		assert.Empty(t, esReturn.BucketCounts("body_part"))
	}
}
