package models

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateExternalIDPrefix(t *testing.T) {
	ts := time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC)
	id := GenerateExternalID("DEP", ts)
	if !strings.HasPrefix(id, "DEP") {
		t.Fatalf("expected DEP prefix, got %s", id)
	}
	if !strings.Contains(id, "-") {
		t.Fatalf("expected random suffix separator in %s", id)
	}
}

func TestGenerateExternalIDUnique(t *testing.T) {
	ts := time.Now()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := GenerateExternalID("WD", ts)
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}
