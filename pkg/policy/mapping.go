package policy

import (
	"log/slog"
	"strings"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
)

// MappingPolicy predicts the action an intent triggers, then action_listen
// once that action ran.
type MappingPolicy struct {
	priority int
	logger   *slog.Logger
}

// MappingOption configures a MappingPolicy.
type MappingOption func(*MappingPolicy)

// WithMappingPriority overrides the default priority.
func WithMappingPriority(priority int) MappingOption {
	return func(p *MappingPolicy) {
		p.priority = priority
	}
}

// WithMappingLogger sets the logger.
func WithMappingLogger(logger *slog.Logger) MappingOption {
	return func(p *MappingPolicy) {
		p.logger = logger
	}
}

// NewMapping creates a MappingPolicy.
func NewMapping(opts ...MappingOption) *MappingPolicy {
	p := &MappingPolicy{priority: PriorityMapping, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MappingPolicy) Name() string  { return "MappingPolicy" }
func (p *MappingPolicy) Priority() int { return p.priority }

// Predict scores the triggered action of the latest intent.
func (p *MappingPolicy) Predict(t *domain.Tracker, d *domain.Domain) (Prediction, error) {
	result := zeros(d)
	intent := t.LatestMessage().Intent.Name
	action, ok := defaultActionMappings[intent]
	if !ok {
		action = d.TriggeredAction(intent)
	}
	if action == "" {
		return result, nil
	}

	switch t.LatestActionName() {
	case domain.ActionListen:
		idx, err := d.IndexForAction(action)
		if err != nil {
			p.logger.Warn("mapped action is not in the domain", "intent", intent, "action", action)
			return result, nil
		}
		result.Scores[idx] = 1
		p.logger.Debug("intent is mapped to action", "intent", intent, "action", action)
	case action:
		if last := lastActionExecuted(t); last != nil && strings.HasSuffix(last.Policy, p.Name()) {
			result.Scores[0] = 1
			p.logger.Debug("mapped action ran, returning to action_listen", "action", action)
		}
	}
	return result, nil
}

func lastActionExecuted(t *domain.Tracker) *domain.ActionExecuted {
	applied := t.AppliedEvents()
	for i := len(applied) - 1; i >= 0; i-- {
		if a, ok := applied[i].(*domain.ActionExecuted); ok {
			return a
		}
	}
	return nil
}
