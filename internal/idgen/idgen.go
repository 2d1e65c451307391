// Package idgen generates identifiers for the durable collections.
//
// Tasks, actors, and messages use UUIDv7 so identifiers stay roughly
// time-ordered in indexes. Activities and notifications use ULIDs, which sort
// lexicographically by creation time and keep the append-only feeds readable
// when dumped raw.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewSortable returns a ULID string. Successive calls within the same
// millisecond are monotonically increasing.
func NewSortable() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}
