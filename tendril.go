package tendril

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/training"
	"github.com/aretw0/tendril/pkg/actions"
	loamAdapter "github.com/aretw0/tendril/pkg/adapters/loam"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/nlg"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/processor"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/aretw0/tendril/pkg/session"
	"github.com/google/uuid"
)

// Agent is the high-level entry point for the Tendril library.
// It assembles domain, policies, actions and stores from a project and
// exposes the conversation operations of the processor.
type Agent struct {
	Name string

	loader         ports.ProjectLoader
	store          ports.TrackerStore
	locker         ports.DistributedLocker
	interpreter    ports.Interpreter
	generator      ports.Generator
	actionServer   ports.ActionRunner
	customActions  []customAction
	policies       []policy.Policy
	scheduler      ports.Scheduler
	ownedScheduler *scheduler.Scheduler
	publisher      ports.EventPublisher
	hooks          domain.LifecycleHooks
	maxPredictions int
	logger         *slog.Logger

	domain    *domain.Domain
	steps     []*training.StoryStep
	ensemble  *policy.Ensemble
	registry  *actions.Registry
	sessions  *session.Manager
	processor *processor.Processor
}

type customAction struct {
	name string
	fn   actions.Func
}

// Option defines a functional option for configuring the Agent.
type Option func(*Agent)

// WithLoader injects a custom ProjectLoader, bypassing the default Loam initialization.
func WithLoader(l ports.ProjectLoader) Option {
	return func(a *Agent) {
		a.loader = l
	}
}

// WithStore sets where conversations are persisted (default: in memory).
func WithStore(s ports.TrackerStore) Option {
	return func(a *Agent) {
		a.store = s
	}
}

// WithLocker serializes conversations across replicas.
func WithLocker(l ports.DistributedLocker) Option {
	return func(a *Agent) {
		a.locker = l
	}
}

// WithInterpreter sets the interpreter for free text.
func WithInterpreter(i ports.Interpreter) Option {
	return func(a *Agent) {
		a.interpreter = i
	}
}

// WithGenerator replaces the template generator built from the domain responses.
func WithGenerator(g ports.Generator) Option {
	return func(a *Agent) {
		a.generator = g
	}
}

// WithActionServer runs custom actions that were not registered in process.
func WithActionServer(r ports.ActionRunner) Option {
	return func(a *Agent) {
		a.actionServer = r
	}
}

// WithAction registers an in-process implementation of a custom action.
func WithAction(name string, fn actions.Func) Option {
	return func(a *Agent) {
		a.customActions = append(a.customActions, customAction{name: name, fn: fn})
	}
}

// WithPolicies replaces the default policy ensemble.
func WithPolicies(policies ...policy.Policy) Option {
	return func(a *Agent) {
		a.policies = policies
	}
}

// WithScheduler sets the scheduler reminders run on. The caller owns it;
// Start and Close leave it alone.
func WithScheduler(s ports.Scheduler) Option {
	return func(a *Agent) {
		a.scheduler = s
	}
}

// WithPublisher forwards the events of every handled message.
func WithPublisher(p ports.EventPublisher) Option {
	return func(a *Agent) {
		a.publisher = p
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(a *Agent) {
		a.hooks = hooks
	}
}

// WithMaxPredictions sets how many actions one message may trigger.
func WithMaxPredictions(n int) Option {
	return func(a *Agent) {
		a.maxPredictions = n
	}
}

// WithLogger sets a custom structured logger for the agent.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New builds an Agent from the project at projectPath.
// By default, it reads the project through a read-only Loam repository.
// If WithLoader option is provided, projectPath can be empty and Loam is skipped.
func New(ctx context.Context, projectPath string, opts ...Option) (*Agent, error) {
	a := &Agent{}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	if projectPath != "" {
		a.Name = filepath.Base(projectPath)
	}
	if a.Name != "" {
		a.logger = a.logger.With("project", a.Name)
	}

	if a.loader == nil {
		if projectPath == "" {
			return nil, fmt.Errorf("projectPath is required when no custom loader is provided")
		}
		l, err := loamAdapter.Open(projectPath, loamAdapter.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.loader = l
	}

	if err := a.load(ctx); err != nil {
		return nil, err
	}
	if err := a.assemble(); err != nil {
		return nil, err
	}
	return a, nil
}

// load builds the domain and trains the policies.
func (a *Agent) load(ctx context.Context) error {
	cfg, err := a.loader.LoadDomain(ctx)
	if err != nil {
		return fmt.Errorf("failed to load domain: %w", err)
	}
	d, err := domain.New(cfg, domain.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.domain = d

	docs, err := a.loader.LoadTrainingData(ctx)
	if err != nil {
		return fmt.Errorf("failed to load training data: %w", err)
	}
	reader := training.NewReader(training.WithReaderLogger(a.logger))
	for _, doc := range docs {
		steps, err := reader.FromMap(doc.Data, doc.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", doc.ID, err)
		}
		a.steps = append(a.steps, steps...)
	}

	trackers, err := training.NewGenerator(d, training.WithGeneratorLogger(a.logger)).Generate(a.steps)
	if err != nil {
		return fmt.Errorf("failed to generate training trackers: %w", err)
	}

	if a.policies != nil {
		a.ensemble = policy.NewEnsemble(a.policies, policy.WithLogger(a.logger))
	} else {
		a.ensemble = policy.Default(policy.WithLogger(a.logger))
	}
	if err := a.ensemble.Train(trackers, d); err != nil {
		return fmt.Errorf("failed to train policies: %w", err)
	}
	if err := a.ensemble.ValidateAgainstDomain(d); err != nil {
		return err
	}
	a.logger.Info("agent trained",
		"steps", len(a.steps),
		"trackers", len(trackers),
		"actions", d.NumActions(),
	)
	return nil
}

func (a *Agent) assemble() error {
	if a.generator == nil {
		a.generator = nlg.NewTemplate(a.domain)
	}
	registryOpts := []actions.Option{
		actions.WithGenerator(a.generator),
		actions.WithLogger(a.logger),
	}
	if a.actionServer != nil {
		registryOpts = append(registryOpts, actions.WithActionServer(a.actionServer))
	}
	a.registry = actions.NewRegistry(a.domain, registryOpts...)
	for _, c := range a.customActions {
		if err := a.registry.Register(c.name, c.fn); err != nil {
			return err
		}
	}

	if a.store == nil {
		a.store = memory.NewStore()
	}
	sessionOpts := []session.Option{session.WithLogger(a.logger)}
	if a.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(a.locker))
	}
	a.sessions = session.NewManager(a.store, sessionOpts...)

	if a.scheduler == nil {
		a.ownedScheduler = scheduler.New(scheduler.WithLogger(a.logger))
		a.scheduler = a.ownedScheduler
	}

	procOpts := []processor.Option{
		processor.WithGenerator(a.generator),
		processor.WithScheduler(a.scheduler),
		processor.WithHooks(a.hooks),
		processor.WithMaxPredictions(a.maxPredictions),
		processor.WithLogger(a.logger),
	}
	if a.interpreter != nil {
		procOpts = append(procOpts, processor.WithInterpreter(a.interpreter))
	}
	if a.publisher != nil {
		procOpts = append(procOpts, processor.WithPublisher(a.publisher))
	}
	a.processor = processor.New(a.domain, a.ensemble, a.registry, a.sessions, procOpts...)
	return nil
}

// Start runs the reminder scheduler the agent owns.
// It is a no-op when the scheduler came from WithScheduler.
func (a *Agent) Start(ctx context.Context) error {
	if a.ownedScheduler == nil {
		return nil
	}
	if err := a.ownedScheduler.Start(ctx); err != nil && !errors.Is(err, scheduler.ErrStarted) {
		return err
	}
	return nil
}

// Close stops the owned scheduler, dropping pending reminders.
func (a *Agent) Close() error {
	if a.ownedScheduler != nil {
		a.ownedScheduler.Stop()
	}
	return nil
}

// HandleMessage processes one user message and returns the events it added.
// Bot messages are delivered to out.
func (a *Agent) HandleMessage(ctx context.Context, msg domain.UserMessage, out ports.OutputChannel) ([]domain.Event, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.InputChannel == "" && out != nil {
		msg.InputChannel = out.Name()
	}
	return a.processor.HandleMessage(ctx, msg, out)
}

// HandleText processes a text message and returns the bot replies,
// for request/response transports.
func (a *Agent) HandleText(ctx context.Context, channel, senderID, text string) ([]processor.CollectedMessage, error) {
	out := processor.NewCollector(channel)
	if _, err := a.HandleMessage(ctx, domain.UserMessage{Text: text, SenderID: senderID}, out); err != nil {
		return nil, err
	}
	return out.Messages(), nil
}

// PredictNext scores every action for the conversation without running any.
func (a *Agent) PredictNext(ctx context.Context, senderID string) (processor.Prediction, error) {
	return a.processor.PredictNext(ctx, senderID)
}

// TriggerIntent injects an intent as if the user had sent it.
func (a *Agent) TriggerIntent(ctx context.Context, senderID, intent string, entities []domain.Entity, out ports.OutputChannel) ([]domain.Event, error) {
	return a.processor.TriggerIntent(ctx, senderID, intent, entities, out)
}

// ExecuteAction runs one action on the conversation, as if a policy had
// predicted it with full confidence.
func (a *Agent) ExecuteAction(ctx context.Context, senderID, action string, out ports.OutputChannel) ([]domain.Event, error) {
	return a.processor.ExecuteAction(ctx, senderID, action, "", 1, out)
}

// AppendEvents adds events to a conversation without running any action.
func (a *Agent) AppendEvents(ctx context.Context, senderID string, events []domain.Event) ([]domain.Event, error) {
	return a.processor.AppendEvents(ctx, senderID, events)
}

// DeleteTracker forgets a conversation.
func (a *Agent) DeleteTracker(ctx context.Context, senderID string) error {
	return a.sessions.Delete(ctx, senderID)
}

// Conversations lists the ids of stored conversations.
func (a *Agent) Conversations(ctx context.Context) ([]string, error) {
	return a.sessions.List(ctx)
}

// Replay feeds a recorded conversation through the agent and reports the
// turns where it acted differently.
func (a *Agent) Replay(ctx context.Context, dlg *domain.Dialogue, out ports.OutputChannel) ([]processor.Divergence, error) {
	return a.processor.Replay(ctx, dlg, out)
}

// Tracker returns the current state of a conversation. Unknown conversations
// yield an empty tracker.
func (a *Agent) Tracker(ctx context.Context, senderID string) (*domain.Tracker, error) {
	return a.sessions.Tracker(ctx, senderID, a.domain)
}

// Sessions returns the session manager guarding the tracker store.
func (a *Agent) Sessions() *session.Manager {
	return a.sessions
}

// Domain returns the domain the agent was built from.
func (a *Agent) Domain() *domain.Domain {
	return a.domain
}

// Steps returns the story steps read from the training data.
func (a *Agent) Steps() []*training.StoryStep {
	return a.steps
}

// Policies returns the trained policy ensemble.
func (a *Agent) Policies() *policy.Ensemble {
	return a.ensemble
}

// Watch returns a channel that signals when the project changes.
// Returns error if the loader does not support watching.
func (a *Agent) Watch(ctx context.Context) (<-chan struct{}, error) {
	if w, ok := a.loader.(ports.Watchable); ok {
		return w.Watch(ctx)
	}
	return nil, fmt.Errorf("current loader does not support watching")
}

// Loader returns the underlying ProjectLoader used by the agent.
func (a *Agent) Loader() ports.ProjectLoader {
	return a.loader
}
