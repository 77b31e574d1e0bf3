package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Document is a decoded training data file (stories and rules).
type Document struct {
	ID   string
	Data map[string]any
}

// ProjectLoader provides the files a bot is built from.
// This allows the project source (directory, Loam repository, memory) to be decoupled.
type ProjectLoader interface {
	// LoadDomain returns the merged domain description.
	LoadDomain(ctx context.Context) (domain.Config, error)

	// LoadTrainingData returns every story and rule document, ordered by ID.
	LoadTrainingData(ctx context.Context) ([]Document, error)
}

// Watchable defines an interface for loaders that can notify about backend changes.
// This is typically used for hot-reload or dev-mode functionality.
type Watchable interface {
	// Watch returns a channel that is signaled when the project changes.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
