package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("doc")
	if !strings.HasPrefix(id, "doc_") {
		t.Fatalf("id = %q, want doc_ prefix", id)
	}
	if len(id) != len("doc_")+24 {
		t.Fatalf("id length = %d", len(id))
	}

	bare := NewID("")
	if strings.Contains(bare, "_") {
		t.Fatalf("bare id = %q, want no separator", bare)
	}

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID("n")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
