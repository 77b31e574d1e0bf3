package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// ErrNoActionEndpoint is returned when a custom action runs without a local
// implementation or an action server.
var ErrNoActionEndpoint = errors.New("no action endpoint configured")

// Kind is the closed set of action variants.
type Kind int

const (
	KindDefault Kind = iota
	KindUtterance
	KindLoop
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindUtterance:
		return "utterance"
	case KindLoop:
		return "loop"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Func is the signature of an in-process custom action.
type Func func(ctx context.Context, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error)

type entry struct {
	kind Kind
	run  Func
}

// Registry resolves every action of a domain once, by name, to its variant.
// It implements ports.ActionRunner and is safe for concurrent use.
type Registry struct {
	domain  *domain.Domain
	nlg     ports.Generator
	remote  ports.ActionRunner
	logger  *slog.Logger
	entries map[string]entry

	mu    sync.RWMutex
	local map[string]Func
}

// Option configures a Registry.
type Option func(*Registry)

// WithGenerator sets the generator used by utterance actions and forms.
func WithGenerator(g ports.Generator) Option {
	return func(r *Registry) {
		r.nlg = g
	}
}

// WithActionServer routes custom actions without a local implementation to runner.
func WithActionServer(runner ports.ActionRunner) Option {
	return func(r *Registry) {
		r.remote = runner
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry resolves the actions of d.
func NewRegistry(d *domain.Domain, opts ...Option) *Registry {
	r := &Registry{
		domain:  d,
		logger:  logging.NewNop(),
		entries: make(map[string]entry, d.NumActions()),
		local:   make(map[string]Func),
	}
	for _, opt := range opts {
		opt(r)
	}

	defaults := r.defaultActions()
	for _, name := range d.ActionNames() {
		switch {
		case defaults[name] != nil:
			r.entries[name] = entry{kind: KindDefault, run: defaults[name]}
		case d.IsForm(name):
			r.entries[name] = entry{kind: KindLoop, run: r.formAction(name)}
		case strings.HasPrefix(name, domain.UtterPrefix) || hasResponse(d, name):
			r.entries[name] = entry{kind: KindUtterance, run: r.utterAction(name)}
		default:
			r.entries[name] = entry{kind: KindCustom, run: r.customAction(name)}
		}
	}
	return r
}

func hasResponse(d *domain.Domain, name string) bool {
	_, ok := d.Responses(name)
	return ok
}

// Register installs an in-process implementation for a custom action.
// It fails if name is not a custom action of the domain.
func (r *Registry) Register(name string, fn Func) error {
	e, ok := r.entries[name]
	if !ok {
		return &domain.UnknownActionError{Action: name}
	}
	if e.kind != KindCustom {
		return fmt.Errorf("action %q is a %s action and cannot be overridden", name, e.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[name] = fn
	return nil
}

// Kind returns the variant of an action.
func (r *Registry) Kind(name string) (Kind, bool) {
	e, ok := r.entries[name]
	return e.kind, ok
}

// Run executes an action. Only actions of the registry's domain can run.
func (r *Registry) Run(ctx context.Context, name string, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &domain.UnknownActionError{Action: name}
	}
	if d == nil {
		d = r.domain
	}
	return e.run(ctx, tracker, d)
}

func (r *Registry) customAction(name string) Func {
	return func(ctx context.Context, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
		r.mu.RLock()
		fn, ok := r.local[name]
		r.mu.RUnlock()
		if ok {
			return fn(ctx, tracker, d)
		}
		if r.remote == nil {
			return nil, fmt.Errorf("custom action %q: %w", name, ErrNoActionEndpoint)
		}
		return r.remote.Run(ctx, name, tracker, d)
	}
}

func (r *Registry) utterAction(name string) Func {
	return func(ctx context.Context, tracker *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
		return r.utter(ctx, name, tracker, false)
	}
}

// utter renders template into a BotUttered event. With silent set, a missing
// template yields no events and no warning.
func (r *Registry) utter(ctx context.Context, template string, tracker *domain.Tracker, silent bool) ([]domain.Event, error) {
	if r.nlg == nil {
		return nil, fmt.Errorf("utter %q: no generator configured", template)
	}
	msg, err := r.nlg.Generate(ctx, template, tracker, tracker.LatestMessage().InputChannel)
	if err != nil {
		return nil, fmt.Errorf("utter %q: %w", template, err)
	}
	if msg == nil {
		if !silent {
			r.logger.Warn("couldn't create message for response", "response", template)
		}
		return nil, nil
	}
	return []domain.Event{&domain.BotUttered{
		Base: domain.Base{Metadata: map[string]any{"utter_action": template}},
		Text: msg.Text,
		Data: msg.Data(),
	}}, nil
}
