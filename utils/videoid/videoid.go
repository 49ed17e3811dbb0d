package videoid

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for externally visible identifiers. External interfaces always
// use the prefixed lowercase ULID string form.
const (
	PrefixLesson   = "les_"
	PrefixVideo    = "vid_"
	PrefixSubtitle = "sub_"
)

var (
	entropyOnce sync.Once
	entropy     *ulid.MonotonicEntropy
)

func newEntropy() *ulid.MonotonicEntropy {
	entropyOnce.Do(func() {
		source := rand.NewSource(time.Now().UnixNano())
		entropy = ulid.Monotonic(rand.New(source), 0)
	})
	return entropy
}

func generate(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), newEntropy())
	return prefix + strings.ToLower(id.String())
}

// NewLesson returns a les_* ULID string.
func NewLesson() string { return generate(PrefixLesson) }

// NewVideo returns a vid_* ULID string.
func NewVideo() string { return generate(PrefixVideo) }

// NewSubtitle returns a sub_* ULID string.
func NewSubtitle() string { return generate(PrefixSubtitle) }

// IsValid reports whether the string is a prefixed ULID of the given kind.
func IsValid(value, prefix string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	_, err := Parse(value, prefix)
	return err == nil
}

// Parse strips the prefix and returns the ULID.
func Parse(value, prefix string) (ulid.ULID, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, prefix)
	return ulid.Parse(value)
}
