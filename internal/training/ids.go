package training

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out unique story-step identifiers.
type IDGenerator interface {
	NextID() string
}

// UUIDs prefixes random UUIDs with a counter so that ids sort in creation order.
type UUIDs struct {
	n atomic.Int64
}

// NewUUIDs returns a UUID based generator.
func NewUUIDs() *UUIDs { return &UUIDs{} }

func (g *UUIDs) NextID() string {
	return fmt.Sprintf("%d_%s", g.n.Add(1), uuid.NewString())
}

// SequentialIDs returns zero-padded counters. Output is reproducible, which
// makes it the generator of choice for tests and graph rendering.
type SequentialIDs struct {
	n atomic.Int64
}

// NewSequentialIDs returns a counter based generator.
func NewSequentialIDs() *SequentialIDs { return &SequentialIDs{} }

func (g *SequentialIDs) NextID() string {
	return fmt.Sprintf("%05d", g.n.Add(1))
}

// shortID trims an id to the length used in generated checkpoint names.
func shortID(id string) string {
	if len(id) <= GeneratedHashLength {
		return id
	}
	return id[len(id)-GeneratedHashLength:]
}
