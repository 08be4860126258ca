// Package uuid generates lookup IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements grading.IDGenerator with time-ordered UUIDv7 values,
// so history rows sort by creation when ordered by ID.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate lookup id: %w", err)
	}
	return id.String(), nil
}
