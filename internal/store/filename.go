package store

import (
	"fmt"
	"strings"
	"time"
)

// filenameDateLayout is the zero-padded date form embedded in station
// filenames. The `<code>_<start>_<end>.csv` pattern is the only range
// metadata the archive carries, so the exact field order and padding must
// never change.
const filenameDateLayout = "20060102"

// Filename encodes a station file name from its code and date range.
func Filename(code string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", code, start.UTC().Format(filenameDateLayout), end.UTC().Format(filenameDateLayout))
}

// ParseFilename decodes a station file name into its code and date range.
func ParseFilename(name string) (code string, start, end time.Time, err error) {
	stem, ok := strings.CutSuffix(name, ".csv")
	if !ok {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse filename %q: not a .csv file", name)
	}

	parts := strings.Split(stem, "_")
	if len(parts) != 3 {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse filename %q: want <code>_<start>_<end>.csv", name)
	}
	if parts[0] == "" {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse filename %q: empty station code", name)
	}

	start, err = time.ParseInLocation(filenameDateLayout, parts[1], time.UTC)
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse filename %q: start date: %w", name, err)
	}
	end, err = time.ParseInLocation(filenameDateLayout, parts[2], time.UTC)
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse filename %q: end date: %w", name, err)
	}
	if end.Before(start) {
		return "", time.Time{}, time.Time{}, fmt.Errorf("parse filename %q: end before start", name)
	}
	return parts[0], start, end, nil
}
