// Package idgen provides the identifier generators used for messages, workers,
// and recordings.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// NewSequentialIDGenerator returns a generator that counts from 1. IDs are
// deterministic, which is what tests want.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewXIDGenerator returns a generator of short, sortable, globally unique ids.
func NewXIDGenerator() IDGenerator {
	return xidGenerator{}
}

// NewUUIDGenerator returns a generator of time based (version 1) UUIDs. It
// falls back to random UUIDs if the node id cannot be determined.
func NewUUIDGenerator() IDGenerator {
	return uuidGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	id := strconv.FormatUint(idNumber, 10)

	return id
}

type xidGenerator struct{}

func (g xidGenerator) Generate() string {
	return xid.New().String()
}

type uuidGenerator struct{}

func (g uuidGenerator) Generate() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
