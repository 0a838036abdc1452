package utils

import (
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeSortQuery(t *testing.T) {
	{
		assert.Nil(t, MakeSortQuery(""))
	}
	{
		sort := MakeSortQuery("-uploaded_at,id")
		require.Len(t, sort, 2)
		assert.Equal(t, "desc", sort[0]["uploaded_at"].(kvStr2Inf)["order"])
		assert.Equal(t, "asc", sort[1]["id"].(kvStr2Inf)["order"])
	}
}

func TestConvertFilterToESQueryBody(t *testing.T) {
	{
		body := *ConvertFilterToESQueryBody(nil, -1, 0, "", []string{"study_type"})
		assert.Equal(t, 0, body["size"])
		_, hasFrom := body["from"]
		assert.False(t, hasFrom)
		filter := body["query"].(kvStr2Inf)["bool"].(kvStr2Inf)["filter"].([]kvStr2Inf)
		assert.Empty(t, filter)
		terms := body["aggs"].(kvStr2Inf)["study_type"].(kvStr2Inf)["terms"].(kvStr2Inf)
		assert.Equal(t, "study_type", terms["field"])
	}
	{
		clauses := []kvStr2Inf{{"term": kvStr2Inf{"patient_id": "p1"}}}
		body := *ConvertFilterToESQueryBody(clauses, 10, 20, "-uploaded_at", nil)
		assert.Equal(t, 10, body["from"])
		assert.Equal(t, 20, body["size"])
		assert.NotNil(t, body["sort"])
		_, hasAggs := body["aggs"]
		assert.False(t, hasAggs)
	}
}

func TestParseDateParam(t *testing.T) {
	{
		d, err := ParseDateParam("", false)
		assert.NoError(t, err)
		assert.Nil(t, d)
	}
	{
		d, err := ParseDateParam("2024-03-01", false)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *d)
	}
	{
		d, err := ParseDateParam("2024-03-01", true)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 23, 59, 59, int(999*time.Millisecond), time.UTC), *d)
	}
	{
		d, err := ParseDateParam("2024-03-01T10:00:00+02:00", false)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), *d)
	}
	{
		_, err := ParseDateParam("yesterday", false)
		assert.Error(t, err)
	}
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, "scan.jpg", ReplaceExt("scan.dcm", "jpg"))
	assert.Equal(t, "scan.jpg", ReplaceExt("scan", ".jpg"))
	assert.Equal(t, "a.b/scan.jpg", ReplaceExt("a.b/scan", "jpg"))
	assert.Equal(t, ".hidden.jpg", ReplaceExt(".hidden", "jpg"))
}

func TestTimeStampRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, int(123*time.Millisecond), time.UTC)
	assert.Equal(t, now, ConvertTimeStampToTime(ConvertTimeToTimeStamp(now)))
}

func TestLogErrorNil(t *testing.T) {
	assert.NotPanics(t, func() { LogError(nil) })
}

func TestLogFatalExits(t *testing.T) {
	if os.Getenv("UTILS_LOG_FATAL") == "1" {
		LogFatal(errors.New("config missing"))
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=TestLogFatalExits")
	cmd.Env = append(os.Environ(), "UTILS_LOG_FATAL=1")
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, string(out), "[FATAL] config missing")
}
