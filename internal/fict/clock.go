package fict

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so lock expiration is deterministic in
// tests. Lock possession expires on wall-clock time, not caller lifetime.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenGenerator abstracts opaque token generation (session tokens, request
// ids) so tests are deterministic.
type TokenGenerator interface {
	New() string
}

// UUIDGenerator produces random UUID tokens.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
