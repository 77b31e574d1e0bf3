package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
)

// Decision is the outcome of arbitration.
type Decision struct {
	Action     string
	Policy     string
	Confidence float64
	Scores     []float64
	// Events must be applied to the tracker before Action runs. They come
	// from every policy, not only the winning one.
	Events []domain.Event
}

// Ensemble arbitrates between policies.
type Ensemble struct {
	policies []Policy
	logger   *slog.Logger
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EnsembleOption {
	return func(e *Ensemble) {
		e.logger = logger
	}
}

// NewEnsemble creates an ensemble. Registration order breaks ties between
// policies of equal confidence and priority.
func NewEnsemble(policies []Policy, opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{policies: policies, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Default returns the ensemble of every deterministic policy.
func Default(opts ...EnsembleOption) *Ensemble {
	return NewEnsemble([]Policy{NewRule(), NewMemoization(), NewMapping()}, opts...)
}

// Policies returns the registered policies.
func (e *Ensemble) Policies() []Policy { return e.policies }

// PolicyName is the name recorded on ActionExecuted events for the policy at index i.
func PolicyName(i int, p Policy) string {
	return fmt.Sprintf("policy_%d_%s", i, p.Name())
}

type ensembleEntry struct {
	Name     string         `json:"name"`
	Priority int            `json:"priority"`
	Model    json.Marshaler `json:"model,omitempty"`
}

// MarshalJSON lists the policies in registration order, with the trained
// lookups of those that have any.
func (e *Ensemble) MarshalJSON() ([]byte, error) {
	entries := make([]ensembleEntry, 0, len(e.policies))
	for i, p := range e.policies {
		entry := ensembleEntry{Name: PolicyName(i, p), Priority: p.Priority()}
		if m, ok := p.(json.Marshaler); ok {
			entry.Model = m
		}
		entries = append(entries, entry)
	}
	return json.Marshal(map[string]any{"policies": entries})
}

// Train trains every Trainable policy.
func (e *Ensemble) Train(trackers []TrainingTracker, d *domain.Domain) error {
	for _, p := range e.policies {
		if t, ok := p.(Trainable); ok {
			if err := t.Train(trackers, d); err != nil {
				return fmt.Errorf("train %s: %w", p.Name(), err)
			}
		}
	}
	e.logger.Info("trained policy ensemble", "policies", len(e.policies), "trackers", len(trackers))
	return nil
}

// ValidateAgainstDomain checks every policy, and that intents with triggers
// have a MappingPolicy to honor them.
func (e *Ensemble) ValidateAgainstDomain(d *domain.Domain) error {
	var errs []error
	hasMapping := false
	for _, p := range e.policies {
		if _, ok := p.(*MappingPolicy); ok {
			hasMapping = true
		}
		if v, ok := p.(DomainValidator); ok {
			if err := v.ValidateAgainstDomain(d); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if !hasMapping {
		for _, name := range d.Intents() {
			if d.TriggeredAction(name) != "" {
				errs = append(errs, &domain.ConfigurationError{Cause: &schema.AggregateError{Errors: []error{
					&schema.ValidationError{Key: name, Reason: "intent defines triggers but the ensemble has no MappingPolicy"},
				}}})
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Decide asks every policy and keeps the most confident prediction. Ties go
// to the higher priority, then to the earlier policy. An action that was
// just rejected cannot be chosen again.
func (e *Ensemble) Decide(t *domain.Tracker, d *domain.Domain) (Decision, error) {
	rejected := -1
	if history := t.Events(); len(history) > 0 {
		if r, ok := history[len(history)-1].(*domain.ActionExecutionRejected); ok {
			idx, err := d.IndexForAction(r.ActionName)
			if err != nil {
				return Decision{}, err
			}
			rejected = idx
		}
	}

	var (
		best     Prediction
		events   []domain.Event
		bestName string
		bestConf = -1.0
		bestPrio int
	)
	for i, p := range e.policies {
		pred, err := p.Predict(t, d)
		if err != nil {
			return Decision{}, fmt.Errorf("%s: %w", p.Name(), err)
		}
		if len(pred.Scores) != d.NumActions() {
			return Decision{}, fmt.Errorf("%s returned %d scores for %d actions", p.Name(), len(pred.Scores), d.NumActions())
		}
		if rejected >= 0 {
			pred.Scores[rejected] = 0
		}
		events = append(events, pred.Events...)
		_, conf := pred.Max()
		if conf > bestConf || (conf == bestConf && p.Priority() > bestPrio) {
			best, bestName, bestConf, bestPrio = pred, PolicyName(i, p), conf, p.Priority()
		}
	}

	if bestName == "" {
		return Decision{Action: domain.ActionListen, Scores: zeros(d).Scores}, nil
	}
	idx, conf := best.Max()
	action, err := d.ActionForIndex(idx)
	if err != nil {
		return Decision{}, err
	}
	e.logger.Debug("predicted next action", "action", action, "policy", bestName, "confidence", conf)
	return Decision{
		Action:     action,
		Policy:     bestName,
		Confidence: conf,
		Scores:     best.Scores,
		Events:     events,
	}, nil
}
