package utils

import (
	"strings"

	"patient-imaging-api/constants"
)

type kvStr2Inf = map[string]interface{}

// MakeSortQuery turns "-uploaded_at,id" into an ES sort clause list.
func MakeSortQuery(sortRaw string) []kvStr2Inf {
	if sortRaw == "" {
		return nil
	}

	sorts := strings.Split(sortRaw, ",")
	sortQuery := make([]kvStr2Inf, 0)
	for _, sort := range sorts {
		var order string
		var criteria string
		if strings.HasPrefix(sort, "-") {
			order = "desc"
			criteria = strings.TrimPrefix(sort, "-")
		} else {
			order = "asc"
			criteria = sort
		}

		sortQuery = append(sortQuery, kvStr2Inf{
			criteria: kvStr2Inf{
				"order": order,
			},
		})
	}

	return sortQuery
}

// ConvertFilterToESQueryBody wraps pre-built filter clauses into a search body.
// from/size of -1 are left out; aggs become terms aggregations on the
// (keyword-mapped) field of the same name.
func ConvertFilterToESQueryBody(filter []map[string]interface{}, from, size int, sort string, aggs []string) *kvStr2Inf {
	body := kvStr2Inf{}

	if size != -1 {
		body["size"] = size
	}
	if from != -1 {
		body["from"] = from
	}

	if filter == nil {
		filter = make([]kvStr2Inf, 0)
	}
	body["query"] = kvStr2Inf{
		"bool": kvStr2Inf{
			"filter": filter,
		},
	}

	if sortParam := MakeSortQuery(sort); sortParam != nil {
		body["sort"] = sortParam
	}

	if len(aggs) > 0 {
		aggsQ := make(kvStr2Inf)
		for _, agg := range aggs {
			aggsQ[agg] = kvStr2Inf{
				"terms": kvStr2Inf{
					"field": agg,
					"size":  constants.MaxAggBuckets,
				},
			}
		}
		body["aggs"] = aggsQ
	}

	return &body
}
