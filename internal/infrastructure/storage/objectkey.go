package storage

import (
	"fmt"
	"path"
	"strings"
)

// Purpose prefixes. Every key handed to the gateway lives under exactly one
// of these; a key that resolves outside its prefix is rejected.
const (
	PrefixVideos    = "videos/"
	PrefixSubtitles = "subtitles/"
	PrefixCommunity = "community/"
	PrefixResources = "resources/"
)

const maxKeyLength = 255

var purposePrefixes = []string{PrefixVideos, PrefixSubtitles, PrefixCommunity, PrefixResources}

// ErrInvalidKey is returned for keys that escape their purpose prefix or are
// otherwise malformed.
type ErrInvalidKey struct {
	Key    string
	Reason string
}

func (e *ErrInvalidKey) Error() string {
	return fmt.Sprintf("invalid object key %q: %s", e.Key, e.Reason)
}

// SanitizeName maps an arbitrary client-supplied name onto the safe charset:
// characters outside [A-Za-z0-9._-] become underscores, ".." sequences are
// collapsed, and the result is capped at 255 bytes.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	out = strings.Trim(out, ".")
	if out == "" {
		out = "unnamed"
	}
	if len(out) > maxKeyLength {
		out = out[:maxKeyLength]
	}
	return out
}

// ValidateKey checks that key is non-empty, within length bounds, carries a
// known purpose prefix, and does not path-escape it.
func ValidateKey(key string) error {
	if key == "" {
		return &ErrInvalidKey{Key: key, Reason: "empty"}
	}
	if len(key) > maxKeyLength {
		return &ErrInvalidKey{Key: key, Reason: "exceeds 255 bytes"}
	}
	if strings.HasPrefix(key, "/") {
		return &ErrInvalidKey{Key: key, Reason: "absolute path"}
	}

	prefix := ""
	for _, p := range purposePrefixes {
		if strings.HasPrefix(key, p) {
			prefix = p
			break
		}
	}
	if prefix == "" {
		return &ErrInvalidKey{Key: key, Reason: "unknown purpose prefix"}
	}

	// path.Clean resolves "." and ".." segments; a cleaned key that no longer
	// sits under its prefix escaped it.
	cleaned := path.Clean(key)
	if cleaned != key || !strings.HasPrefix(cleaned, prefix) {
		return &ErrInvalidKey{Key: key, Reason: "escapes purpose prefix"}
	}
	return nil
}

// BuildKey joins sanitized parts under a purpose prefix and validates the
// result.
func BuildKey(prefix string, parts ...string) (string, error) {
	sanitized := make([]string, 0, len(parts))
	for _, p := range parts {
		sanitized = append(sanitized, SanitizeName(p))
	}
	key := prefix + strings.Join(sanitized, "/")
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}
