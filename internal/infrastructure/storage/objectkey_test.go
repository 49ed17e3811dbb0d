package storage_test

import (
	"strings"
	"testing"

	"lms-server/internal/infrastructure/storage"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"plain filename", "lecture.mp4", "lecture.mp4"},
		{"spaces become underscores", "My Lecture.mp4", "My_Lecture.mp4"},
		{"path separators stripped", "a/b\\c.mp4", "a_b_c.mp4"},
		{"dot-dot collapsed", "..secret..mp4", "secret.mp4"},
		{"traversal attempt", "../../etc/passwd", "_._etc_passwd"},
		{"unicode replaced", "vidéo.mp4", "vid_o.mp4"},
		{"empty falls back", "", "unnamed"},
		{"only dots falls back", "...", "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storage.SanitizeName(tt.in); got != tt.expected {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.expected)
			}
		})
	}
}

func TestSanitizeName_CapsLength(t *testing.T) {
	long := strings.Repeat("a", 400)
	if got := storage.SanitizeName(long); len(got) != 255 {
		t.Errorf("SanitizeName long name length = %d, want 255", len(got))
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid video key", "videos/1700000000-lecture.mp4", false},
		{"valid subtitle key", "subtitles/1700000000-en.vtt", false},
		{"valid community key", "community/post-1/image.png", false},
		{"valid resource key", "resources/syllabus.pdf", false},
		{"empty", "", true},
		{"unknown prefix", "uploads/lecture.mp4", true},
		{"absolute path", "/videos/lecture.mp4", true},
		{"dot-dot escape", "videos/../secrets.txt", true},
		{"dot segment", "videos/./lecture.mp4", true},
		{"too long", "videos/" + strings.Repeat("a", 300), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestBuildKey(t *testing.T) {
	key, err := storage.BuildKey(storage.PrefixVideos, "1700000000-My Lecture.mp4")
	if err != nil {
		t.Fatalf("BuildKey() error = %v", err)
	}
	if key != "videos/1700000000-My_Lecture.mp4" {
		t.Errorf("BuildKey() = %q", key)
	}

	// Sanitization happens before validation, so traversal input yields a
	// safe flat name rather than an error.
	key, err = storage.BuildKey(storage.PrefixVideos, "../../etc/passwd")
	if err != nil {
		t.Fatalf("BuildKey() error = %v", err)
	}
	if strings.Contains(key, "..") || strings.Count(key, "/") != 1 {
		t.Errorf("BuildKey() did not neutralize traversal: %q", key)
	}
}
