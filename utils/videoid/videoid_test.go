package videoid

import (
	"strings"
	"testing"
)

func TestGenerators(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"lesson", NewLesson, PrefixLesson},
		{"video", NewVideo, PrefixVideo},
		{"subtitle", NewSubtitle, PrefixSubtitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			if !strings.HasPrefix(id, tt.prefix) {
				t.Errorf("id %q missing prefix %q", id, tt.prefix)
			}
			if id != strings.ToLower(id) {
				t.Errorf("id %q is not lowercase", id)
			}
			if !IsValid(id, tt.prefix) {
				t.Errorf("IsValid(%q, %q) = false", id, tt.prefix)
			}
		})
	}
}

func TestGeneratorsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewVideo()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"wrong prefix", NewVideo(), false},
		{"bare ulid", "01hqv3x7y8z9a0b1c2d3e4f5g6", false},
		{"garbage after prefix", PrefixLesson + "not-a-ulid", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.value, PrefixLesson); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
