// Package uuid generates watchdog identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/doggo-watch/doggo/internal/watchdog"
)

var _ watchdog.IDGenerator = Generator{}

// Generator creates time-ordered UUID v7 identifiers.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() Generator {
	return Generator{}
}

// NewID returns a UUID7.
func (Generator) NewID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Parse accepts any RFC 4122 textual form and rejects the nil UUID.
func Parse(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse watchdog id %q: %w", raw, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("parse watchdog id %q: nil uuid", raw)
	}
	return id, nil
}
