package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// ActionInterceptor decides whether a custom action may run.
// It returns false with a reason to block it.
type ActionInterceptor func(ctx context.Context, action string, tracker *domain.Tracker) (bool, string, error)

// MultiInterceptor chains multiple interceptors. The first to block wins.
func MultiInterceptor(interceptors ...ActionInterceptor) ActionInterceptor {
	return func(ctx context.Context, action string, tracker *domain.Tracker) (bool, string, error) {
		for _, interceptor := range interceptors {
			allowed, reason, err := interceptor(ctx, action, tracker)
			if err != nil {
				return false, "", err
			}
			if !allowed {
				return false, reason, nil
			}
		}
		return true, "", nil
	}
}

// ConfirmationMiddleware asks the user before every custom action runs.
func ConfirmationMiddleware(p Prompter) ActionInterceptor {
	return func(ctx context.Context, action string, tracker *domain.Tracker) (bool, string, error) {
		prompt := fmt.Sprintf("Run action '%s' for %s? [y/N]", action, tracker.SenderID())
		if err := p.SystemOutput(ctx, prompt); err != nil {
			return false, "", err
		}

		input, err := p.Input(ctx)
		if err != nil {
			return false, "", err
		}

		input = strings.TrimSpace(strings.ToLower(input))
		if input == "y" || input == "yes" {
			return true, "", nil
		}
		return false, "user denied execution", nil
	}
}

// AutoApproveMiddleware allows everything.
func AutoApproveMiddleware() ActionInterceptor {
	return func(context.Context, string, *domain.Tracker) (bool, string, error) {
		return true, "", nil
	}
}

// Intercept wraps an action runner so every action passes the interceptor
// first. Blocked actions are rejected, which lets the agent pick another one.
func Intercept(next ports.ActionRunner, interceptor ActionInterceptor) ports.ActionRunner {
	return ports.ActionRunnerFunc(func(ctx context.Context, name string, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
		allowed, reason, err := interceptor(ctx, name, tracker)
		if err != nil {
			return nil, fmt.Errorf("action interceptor error: %w", err)
		}
		if !allowed {
			return nil, &ports.Rejection{Action: name, Reason: reason}
		}
		return next.Run(ctx, name, tracker, d)
	})
}
