package validate

import (
	"strings"
	"testing"
	"time"
)

func TestSubjectID(t *testing.T) {
	for _, ok := range []string{"kid", "kid_1", "A.b-C", strings.Repeat("a", 64)} {
		if err := SubjectID(ok); err != nil {
			t.Fatalf("expected %q to pass: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "kid 1", "kid/1", strings.Repeat("a", 65)} {
		if err := SubjectID(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestCategory(t *testing.T) {
	if err := Category("school-work"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "Games", "-x", strings.Repeat("a", 33)} {
		if err := Category(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestRequestHelpers(t *testing.T) {
	if err := UsageReport("a.com", 0); err == nil {
		t.Fatalf("expected error for zero seconds")
	}
	if err := SearchReport("google.com", ""); err == nil {
		t.Fatalf("expected error for empty query")
	}
	if err := SearchReport("google.com", strings.Repeat("q", 513)); err == nil {
		t.Fatalf("expected error for long query")
	}
	if err := URL("url", ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestTimestamp(t *testing.T) {
	got, err := Timestamp("since", "2025-06-01T10:00:00+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
	if got, err := Timestamp("since", ""); err != nil || !got.IsZero() {
		t.Fatalf("empty should be zero, got %v %v", got, err)
	}
	if _, err := Timestamp("since", "yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
}
