package ports

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// ActionRunner executes an action and returns the events it produced.
// The events are not yet applied to the tracker.
type ActionRunner interface {
	Run(ctx context.Context, name string, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error)
}

// ActionRunnerFunc adapts a function to ActionRunner.
type ActionRunnerFunc func(ctx context.Context, name string, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error)

func (f ActionRunnerFunc) Run(ctx context.Context, name string, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
	return f(ctx, name, tracker, d)
}

// Rejection is returned by an action that declines to run in the current state,
// e.g. a form that could not extract the slot it asked for.
type Rejection struct {
	Action string
	Reason string
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return fmt.Sprintf("action %q rejected execution", r.Action)
	}
	return fmt.Sprintf("action %q rejected execution: %s", r.Action, r.Reason)
}
