package id

import (
	"strings"
	"testing"
)

func TestGenerateFormat(t *testing.T) {
	got := Generate("trace")
	if !strings.HasPrefix(got, "trace_") {
		t.Errorf("Generate(trace) = %q, want trace_ prefix", got)
	}
	suffix := strings.TrimPrefix(got, "trace_")
	if len(suffix) != 8 {
		t.Errorf("suffix %q has length %d, want 8", suffix, len(suffix))
	}
	for _, c := range suffix {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("suffix %q contains non-hex character %q", suffix, c)
		}
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		got := Generate("t")
		if seen[got] {
			t.Fatalf("duplicate id %q after %d generations", got, i)
		}
		seen[got] = true
	}
}
