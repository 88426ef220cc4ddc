// Package uuid generates lease and worker identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, optionally prefixed. v7 IDs sort by
// creation time, so lease IDs in logs read in issue order.
type Generator struct {
	prefix string
}

// NewUUIDGenerator creates a Generator with no prefix.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewPrefixed creates a Generator whose IDs start with prefix, e.g. "worker-".
func NewPrefixed(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a new identifier.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
