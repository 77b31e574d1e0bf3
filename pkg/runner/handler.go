package runner

import (
	"context"

	"github.com/aretw0/tendril/pkg/ports"
)

// IOHandler defines the strategy for interacting with the user.
// It is also the output channel bot replies are sent to, so replies show up
// as soon as an action produces them.
type IOHandler interface {
	ports.OutputChannel

	// Input reads the next message from the user.
	Input(ctx context.Context) (string, error)

	// SystemOutput presents a meta-message to the user (e.g. errors, status updates).
	// This is distinct from bot replies.
	SystemOutput(ctx context.Context, msg string) error
}

// Prompter is the part of an IOHandler needed to ask the user a question.
type Prompter interface {
	Input(ctx context.Context) (string, error)
	SystemOutput(ctx context.Context, msg string) error
}
