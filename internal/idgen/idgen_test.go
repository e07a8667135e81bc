package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
	}
}

func TestNanoID_Length(t *testing.T) {
	gen := NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Errorf("expected length 12, got %d (%q)", len(id), id)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("att_", NanoID(8))
	id := gen()
	if !strings.HasPrefix(id, "att_") {
		t.Errorf("expected att_ prefix, got %q", id)
	}
	if len(id) != len("att_")+8 {
		t.Errorf("unexpected length: %q", id)
	}
}
