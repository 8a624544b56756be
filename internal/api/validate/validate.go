package validate

import (
	"fmt"
	"regexp"
	"time"
)

// SubjectID must be letters, digits, dot, underscore or hyphen, 1-64 chars
var subjectIDRx = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Categories are short lowercase labels such as "games" or "school-work".
var categoryRx = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

const (
	maxQueryLen = 512
	maxURLLen   = 2048
)

func SubjectID(v string) error {
	if v == "" {
		return fmt.Errorf("subjectId is required")
	}
	if !subjectIDRx.MatchString(v) {
		return fmt.Errorf("subjectId must match %s", subjectIDRx.String())
	}
	return nil
}

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field, v string, limit int) error {
	if len(v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

func Category(v string) error {
	if !categoryRx.MatchString(v) {
		return fmt.Errorf("category must match %s", categoryRx.String())
	}
	return nil
}

// -------- Request specific helpers ----------

func UsageReport(domain string, seconds int64) error {
	if err := NonEmpty("domain", domain); err != nil {
		return err
	}
	if seconds <= 0 {
		return fmt.Errorf("seconds must be positive")
	}
	return nil
}

func SearchReport(domain, query string) error {
	if err := NonEmpty("domain", domain); err != nil {
		return err
	}
	if err := NonEmpty("query", query); err != nil {
		return err
	}
	return MaxLen("query", query, maxQueryLen)
}

func URL(field, v string) error {
	if err := NonEmpty(field, v); err != nil {
		return err
	}
	return MaxLen(field, v, maxURLLen)
}

// Timestamp parses an optional RFC3339 query parameter. Empty means unset.
func Timestamp(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", field)
	}
	return t.UTC(), nil
}
