package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Interpreter turns raw user text into intent and entities.
type Interpreter interface {
	Parse(ctx context.Context, text string) (domain.ParseResult, error)
}
