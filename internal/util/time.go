package util

import (
	"fmt"
	"strings"
	"time"
)

// UploadDateLayout is the "YYYY-MM-DD HH:MM" form used for upload dates.
const UploadDateLayout = "2006-01-02 15:04"

// ParseUploadDate parses s in UploadDateLayout, interpreted in time.Local.
func ParseUploadDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(UploadDateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid upload date: %s", s)
	}
	return t, nil
}

// FormatUploadDate formats t as "YYYY-MM-DD HH:MM".
func FormatUploadDate(t time.Time) string {
	return t.Format(UploadDateLayout)
}

// ShiftBack subtracts d from now and formats the result in UploadDateLayout.
func ShiftBack(now time.Time, d time.Duration) string {
	return FormatUploadDate(now.Add(-d))
}
