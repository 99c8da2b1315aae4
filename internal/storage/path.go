package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchiveKey returns <prefix>/date=YYYY-MM-DD/archive-<id>.parquet.
// Lexical key order follows creation order when id is time-sortable.
func BuildArchiveKey(prefix, id string, createdAt time.Time) (string, error) {
	for _, component := range strings.Split(strings.Trim(prefix, "/"), "/") {
		if err := validatePathComponent(component, "archive prefix"); err != nil {
			return "", err
		}
	}
	if err := validatePathComponent(id, "archive id"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		strings.Trim(prefix, "/"),
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("archive-%s.parquet", id),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
