package extract

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tiktokmodcloud/internal/util"
)

// ErrUnrecognizedDateFormat is returned for upload dates that are neither
// absolute nor a "<n> <unit> ago" phrase.
var ErrUnrecognizedDateFormat = errors.New("date format not recognized")

var relativeDatePattern = regexp.MustCompile(`(?i)(\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago`)

// A month is 30 days and a year 365 days. Relative dates are approximate.
var dateUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// NormalizeUploadDate returns raw in "YYYY-MM-DD HH:MM" form.
//
// Absolute dates are returned verbatim (trimmed). Relative phrases are
// resolved against now.
func NormalizeUploadDate(raw string, now time.Time) (string, error) {
	text := strings.TrimSpace(raw)
	if _, err := util.ParseUploadDate(text); err == nil {
		return text, nil
	}
	m := relativeDatePattern.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedDateFormat, text)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedDateFormat, text)
	}
	unit := dateUnits[strings.ToLower(m[2])]
	if n > math.MaxInt64/int64(unit) {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedDateFormat, text)
	}
	return util.ShiftBack(now, time.Duration(n)*unit), nil
}
