package run

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID run id. ULIDs sort lexically by creation time, and the
// monotonic entropy keeps ids issued within the same millisecond ordered.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewIDWithEntropy is NewID with an explicit entropy source (for testing)
func NewIDWithEntropy(now time.Time, r io.Reader) string {
	return ulid.MustNew(ulid.Timestamp(now), r).String()
}

// ValidID reports whether id parses as a ULID
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
