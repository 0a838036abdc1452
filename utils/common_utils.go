package utils

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

func ConvertTimeStampToTime(timestamp int64) time.Time {
	return time.UnixMilli(timestamp).UTC()
}

func ConvertTimeToTimeStamp(t time.Time) int64 {
	return t.UnixMilli()
}

// ParseDateParam accepts RFC3339 or a plain YYYY-MM-DD. A plain date used as
// an upper bound covers the whole day.
func ParseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return &t, nil
}

// ReplaceExt swaps the extension of fileName, adding one when missing.
func ReplaceExt(fileName, ext string) string {
	base := fileName
	if i := strings.LastIndex(fileName, "."); i > 0 && !strings.ContainsAny(fileName[i:], `/\`) {
		base = fileName[:i]
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}
