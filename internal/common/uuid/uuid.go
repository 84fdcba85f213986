// Package uuid wraps github.com/google/uuid with UUIDv7 as the default so generated
// identifiers sort by creation time.
package uuid

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// UUID is an alias of github.com/google/uuid.UUID.
type UUID = uuid.UUID

// Nil is the zero UUID value.
var Nil = uuid.Nil

// New returns a new UUIDv7. Panics if the random source fails.
func New() UUID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id
}

// NewRandom returns a new UUIDv7 and any error from the random source.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

// NewString returns a new UUIDv7 in canonical string form.
func NewString() string {
	return New().String()
}

// Parse parses s into a UUID.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// IsUUIDv7 reports whether id is a version 7 UUID.
func IsUUIDv7(id UUID) bool {
	return id.Version() == uuid.Version(7)
}

// Timestamp extracts the creation time embedded in the top 48 bits of a UUIDv7.
func Timestamp(u UUID) time.Time {
	ms := binary.BigEndian.Uint64(u[0:8]) >> 16
	return time.UnixMilli(int64(ms))
}
