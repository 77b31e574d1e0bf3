package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/nlu"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/session"
)

const (
	// DefaultMaxPredictions bounds the actions predicted for one message.
	DefaultMaxPredictions = 10

	// DefaultSenderID is used for messages without a conversation id.
	DefaultSenderID = "default"

	// ExternalPrefix marks the text of utterances triggered by the host.
	ExternalPrefix = "EXTERNAL: "
)

// Decider picks the next action for a tracker.
type Decider interface {
	Decide(t *domain.Tracker, d *domain.Domain) (policy.Decision, error)
}

// CircuitBreakFunc runs once when a message predicted too many actions.
type CircuitBreakFunc func(ctx context.Context, t *domain.Tracker, out ports.OutputChannel) error

// Processor drives the predict-run-fold loop of every conversation.
// It is safe for concurrent use; work on one conversation is serialized by
// the session manager.
type Processor struct {
	domain   *domain.Domain
	decider  Decider
	actions  ports.ActionRunner
	sessions *session.Manager

	interpreter ports.Interpreter
	structured  ports.Interpreter
	nlg         ports.Generator
	scheduler   ports.Scheduler
	publisher   ports.EventPublisher

	reminders pendingReminders

	hooks          domain.LifecycleHooks
	onCircuitBreak CircuitBreakFunc
	maxPredictions int
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithInterpreter sets the interpreter for free text. Structured
// "/intent{...}" messages never reach it.
func WithInterpreter(i ports.Interpreter) Option {
	return func(p *Processor) {
		p.interpreter = i
	}
}

// WithGenerator sets the generator used by the default circuit breaker callback.
func WithGenerator(g ports.Generator) Option {
	return func(p *Processor) {
		p.nlg = g
	}
}

// WithScheduler enables reminders.
func WithScheduler(s ports.Scheduler) Option {
	return func(p *Processor) {
		p.scheduler = s
	}
}

// WithPublisher forwards the events of every handled message.
func WithPublisher(pub ports.EventPublisher) Option {
	return func(p *Processor) {
		p.publisher = pub
	}
}

// WithHooks sets the lifecycle hooks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(p *Processor) {
		p.hooks = h
	}
}

// WithOnCircuitBreak replaces the default callback, which utters utter_default.
func WithOnCircuitBreak(fn CircuitBreakFunc) Option {
	return func(p *Processor) {
		p.onCircuitBreak = fn
	}
}

// WithMaxPredictions sets the circuit breaker limit.
func WithMaxPredictions(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxPredictions = n
		}
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// New assembles a processor. The decider and action runner must belong to d.
func New(d *domain.Domain, decider Decider, runner ports.ActionRunner, sessions *session.Manager, opts ...Option) *Processor {
	p := &Processor{
		domain:         d,
		decider:        decider,
		actions:        runner,
		sessions:       sessions,
		maxPredictions: DefaultMaxPredictions,
		now:            time.Now,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.structured = nlu.NewRegex(nlu.WithLogger(p.logger))
	if p.interpreter == nil {
		p.interpreter = p.structured
	}
	if p.onCircuitBreak == nil {
		p.onCircuitBreak = p.utterDefault
	}
	return p
}

// Domain returns the domain the processor decides for.
func (p *Processor) Domain() *domain.Domain { return p.domain }

// HandleMessage logs msg on its conversation and runs actions until the bot
// listens again. It returns the events the message added.
func (p *Processor) HandleMessage(ctx context.Context, msg domain.UserMessage, out ports.OutputChannel) ([]domain.Event, error) {
	if msg.SenderID == "" {
		msg.SenderID = DefaultSenderID
	}
	return p.withTracker(ctx, msg.SenderID, func(ctx context.Context, t *domain.Tracker) error {
		if err := p.updateSession(ctx, t, out, msg.Metadata); err != nil {
			return err
		}
		if err := p.logMessage(ctx, t, msg); err != nil {
			return err
		}
		return p.predictAndExecute(ctx, t, out)
	})
}

// TriggerIntent behaves like a message carrying intent and entities, without
// text. Reminders fire through it.
func (p *Processor) TriggerIntent(ctx context.Context, senderID, intent string, entities []domain.Entity, out ports.OutputChannel) ([]domain.Event, error) {
	if _, ok := p.domain.Intent(intent); !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownIntent, intent)
	}
	return p.withTracker(ctx, senderID, func(ctx context.Context, t *domain.Tracker) error {
		if err := p.updateSession(ctx, t, out, nil); err != nil {
			return err
		}
		return p.triggerExternal(ctx, t, intent, entities, out)
	})
}

// ExecuteAction runs a single named action, as if policy had predicted it.
func (p *Processor) ExecuteAction(ctx context.Context, senderID, action, policyName string, confidence float64, out ports.OutputChannel) ([]domain.Event, error) {
	if !p.domain.HasAction(action) {
		return nil, &domain.UnknownActionError{Action: action}
	}
	return p.withTracker(ctx, senderID, func(ctx context.Context, t *domain.Tracker) error {
		if err := p.updateSession(ctx, t, out, nil); err != nil {
			return err
		}
		_, err := p.runAction(ctx, t, out, action, policyName, confidence)
		return err
	})
}

// AppendEvents adds events to a conversation without predicting anything.
// Timestamps set by the caller are kept.
func (p *Processor) AppendEvents(ctx context.Context, senderID string, events []domain.Event) ([]domain.Event, error) {
	return p.withTracker(ctx, senderID, func(_ context.Context, t *domain.Tracker) error {
		p.restore(t, events...)
		return nil
	})
}

// ActionScore is the confidence of one action.
type ActionScore struct {
	Action string  `json:"action"`
	Score  float64 `json:"score"`
}

// Prediction is what PredictNext reports without running anything.
type Prediction struct {
	Scores     []ActionScore          `json:"scores"`
	Policy     string                 `json:"policy"`
	Confidence float64                `json:"confidence"`
	Tracker    domain.TrackerSnapshot `json:"tracker"`
}

// PredictNext scores every action for the conversation's next step. A new
// or expired session is started first and persisted.
func (p *Processor) PredictNext(ctx context.Context, senderID string) (Prediction, error) {
	var pred Prediction
	_, err := p.withTracker(ctx, senderID, func(ctx context.Context, t *domain.Tracker) error {
		if err := p.updateSession(ctx, t, nil, nil); err != nil {
			return err
		}
		dec, err := p.predict(ctx, t)
		if err != nil {
			return err
		}
		pred = Prediction{
			Scores:     make([]ActionScore, len(dec.Scores)),
			Policy:     dec.Policy,
			Confidence: dec.Confidence,
			Tracker:    t.Snapshot(true),
		}
		for i, name := range p.domain.ActionNames() {
			pred.Scores[i] = ActionScore{Action: name, Score: dec.Scores[i]}
		}
		return nil
	})
	return pred, err
}

// withTracker loads the tracker under the conversation lock, runs fn, then
// persists and publishes what fn appended. Nothing is saved when fn fails.
func (p *Processor) withTracker(ctx context.Context, senderID string, fn func(context.Context, *domain.Tracker) error) ([]domain.Event, error) {
	if senderID == "" {
		senderID = DefaultSenderID
	}
	var added []domain.Event
	err := p.sessions.WithLock(ctx, senderID, func(ctx context.Context) error {
		t, err := p.sessions.Tracker(ctx, senderID, p.domain)
		if err != nil {
			return err
		}
		before := t.Len()
		if err := fn(ctx, t); err != nil {
			return err
		}
		if err := p.sessions.Persist(ctx, t); err != nil {
			return err
		}
		added = t.Events()[before:]
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.publish(ctx, senderID, added)
	return added, nil
}

func (p *Processor) publish(ctx context.Context, senderID string, events []domain.Event) {
	if p.publisher == nil || len(events) == 0 {
		return
	}
	if err := p.publisher.Publish(ctx, senderID, events); err != nil {
		p.logger.Error("failed to publish events", "sender_id", senderID, "err", err)
	}
}

// updateSession starts a session when the conversation has none yet or the
// latest one expired.
func (p *Processor) updateSession(ctx context.Context, t *domain.Tracker, out ports.OutputChannel, metadata map[string]any) error {
	if len(t.AppliedEvents()) > 0 && !p.sessionExpired(t) {
		return nil
	}
	p.logger.Debug("starting a new session", "sender_id", t.SenderID())
	if p.hooks.OnSessionStart != nil {
		p.hooks.OnSessionStart(ctx, t.SenderID())
	}
	start := len(t.Events())
	if _, err := p.runAction(ctx, t, out, domain.ActionSessionStart, "", 0); err != nil {
		return err
	}
	if len(metadata) == 0 {
		return nil
	}
	for _, e := range t.Events()[start:] {
		if s, ok := e.(*domain.SessionStarted); ok {
			s.Metadata = metadata
		}
	}
	return nil
}

func (p *Processor) sessionExpired(t *domain.Tracker) bool {
	cfg := p.domain.Session()
	if !cfg.Enabled() {
		return false
	}
	last := t.LastUserUttered()
	if last == nil {
		return false
	}
	expired := p.now().Sub(last.Time()) > cfg.Expiration()
	if expired {
		p.logger.Debug("session expired", "sender_id", t.SenderID())
	}
	return expired
}

func (p *Processor) logMessage(ctx context.Context, t *domain.Tracker, msg domain.UserMessage) error {
	parsed, err := p.parse(ctx, msg)
	if err != nil {
		return err
	}
	user := &domain.UserUttered{
		Base:         domain.Base{Metadata: msg.Metadata},
		Text:         msg.Text,
		Intent:       parsed.Intent,
		Entities:     parsed.Entities,
		InputChannel: msg.InputChannel,
		MessageID:    msg.MessageID,
	}
	p.logUser(ctx, t, user)
	return nil
}

func (p *Processor) parse(ctx context.Context, msg domain.UserMessage) (domain.ParseResult, error) {
	if msg.ParseData != nil {
		return *msg.ParseData, nil
	}
	interpreter := p.interpreter
	if nlu.IsStructured(msg.Text) {
		interpreter = p.structured
	}
	parsed, err := interpreter.Parse(ctx, msg.Text)
	if err != nil {
		return domain.ParseResult{}, fmt.Errorf("failed to parse message: %w", err)
	}
	p.warnUnseen(parsed)
	p.logger.Debug("received user message", "text", msg.Text, "intent", parsed.Intent.Name, "entities", len(parsed.Entities))
	return parsed, nil
}

func (p *Processor) warnUnseen(parsed domain.ParseResult) {
	if name := parsed.Intent.Name; name != "" {
		if _, ok := p.domain.Intent(name); !ok {
			p.logger.Warn("interpreter parsed an intent which is not defined in the domain", "intent", name)
		}
	}
	for _, e := range parsed.Entities {
		if !slices.Contains(p.domain.Entities(), e.Entity) {
			p.logger.Warn("interpreter parsed an entity which is not defined in the domain", "entity", e.Entity)
		}
	}
}

// logUser appends the utterance followed by the slots it auto-fills.
func (p *Processor) logUser(ctx context.Context, t *domain.Tracker, user *domain.UserUttered) {
	p.apply(t, user)
	p.apply(t, p.domain.SlotsForEntities(user.Entities)...)
	if p.hooks.OnMessage != nil {
		p.hooks.OnMessage(ctx, user)
	}
}

func (p *Processor) triggerExternal(ctx context.Context, t *domain.Tracker, intent string, entities []domain.Entity, out ports.OutputChannel) error {
	channel := ""
	if last := t.LastUserUttered(); last != nil {
		channel = last.InputChannel
	}
	p.logUser(ctx, t, &domain.UserUttered{
		Text:         ExternalPrefix + intent,
		Intent:       domain.Intent{Name: intent, Confidence: 1},
		Entities:     entities,
		InputChannel: channel,
	})
	return p.predictAndExecute(ctx, t, out)
}

// shouldHandle is false while paused, unless the user asked for a restart.
func shouldHandle(t *domain.Tracker) bool {
	return !t.IsPaused() || t.LatestMessage().Intent.Name == domain.IntentRestart
}

// predictAndExecute runs predicted actions until one halts the loop. When
// the limit is hit on an action that would continue, the circuit breaker
// callback runs once.
func (p *Processor) predictAndExecute(ctx context.Context, t *domain.Tracker, out ports.OutputChannel) error {
	more := true
	n := 0
	for more && shouldHandle(t) && n < p.maxPredictions {
		dec, err := p.predict(ctx, t)
		if err != nil {
			return err
		}
		p.apply(t, dec.Events...)
		more, err = p.runAction(ctx, t, out, dec.Action, dec.Policy, dec.Confidence)
		if err != nil {
			return err
		}
		n++
	}

	if n >= p.maxPredictions && more {
		p.logger.Warn("circuit breaker tripped, stopped predicting more actions", "sender_id", t.SenderID(), "predictions", n)
		if p.hooks.OnCircuitBreak != nil {
			p.hooks.OnCircuitBreak(ctx, t.SenderID())
		}
		if err := p.onCircuitBreak(ctx, t, out); err != nil {
			p.logger.Error("circuit breaker callback failed", "sender_id", t.SenderID(), "err", err)
		}
	}
	return nil
}

// predict honours a pending follow-up action before asking the decider.
func (p *Processor) predict(ctx context.Context, t *domain.Tracker) (policy.Decision, error) {
	var dec policy.Decision
	if name := t.FollowupAction(); name != "" {
		if idx, err := p.domain.IndexForAction(name); err == nil {
			dec = policy.Decision{Action: name, Confidence: 1, Scores: make([]float64, p.domain.NumActions())}
			dec.Scores[idx] = 1
		} else {
			p.logger.Error("ignoring unknown follow-up action", "action", name, "sender_id", t.SenderID())
		}
	}
	if dec.Action == "" {
		var err error
		dec, err = p.decider.Decide(t, p.domain)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("failed to predict next action: %w", err)
		}
	}
	if p.hooks.OnPrediction != nil {
		p.hooks.OnPrediction(ctx, domain.PredictionEvent{
			SenderID:   t.SenderID(),
			Action:     dec.Action,
			Policy:     dec.Policy,
			Confidence: dec.Confidence,
		})
	}
	return dec, nil
}

// halts reports whether the loop waits for the user after name.
func halts(name string) bool {
	return name == domain.ActionListen || name == domain.ActionSessionStart
}

// runAction executes name and folds its events, reporting whether another
// action should be predicted. Only unknown actions and cancellation are
// returned as errors; other failures are logged and the action's events lost.
func (p *Processor) runAction(ctx context.Context, t *domain.Tracker, out ports.OutputChannel, name, policyName string, confidence float64) (bool, error) {
	events, err := p.actions.Run(ctx, name, t, p.domain)

	var rejection *ports.Rejection
	var unknown *domain.UnknownActionError
	switch {
	case errors.As(err, &rejection):
		rejected := &domain.ActionExecutionRejected{ActionName: name, Policy: policyName, Confidence: confidence}
		p.apply(t, rejected)
		p.logger.Debug("action rejected execution", "action", name, "reason", rejection.Reason)
		if p.hooks.OnActionRejected != nil {
			p.hooks.OnActionRejected(ctx, rejected)
		}
		return !halts(name), nil
	case errors.As(err, &unknown):
		return false, err
	case ctx.Err() != nil:
		return false, ctx.Err()
	case err != nil:
		p.logger.Error("action failed, its events are lost", "action", name, "sender_id", t.SenderID(), "err", err)
		if p.hooks.OnActionFailed != nil {
			p.hooks.OnActionFailed(ctx, name, err)
		}
		events = nil
	}

	executed := &domain.ActionExecuted{ActionName: name, Policy: policyName, Confidence: confidence}
	nameReminders(events)
	p.apply(t, executed)
	p.apply(t, events...)
	p.logger.Debug("action executed", "action", name, "events", len(events))
	if name != domain.ActionListen && !strings.HasPrefix(name, domain.UtterPrefix) {
		p.logger.Debug("current slot values", "sender_id", t.SenderID(), "slots", t.Slots())
	}
	if p.hooks.OnActionExecuted != nil {
		p.hooks.OnActionExecuted(ctx, executed)
	}

	p.sendBotMessages(ctx, t, out, events)
	p.scheduleReminders(t, out, events)
	p.cancelReminders(t, events)
	return !halts(name), nil
}

// apply stamps each event strictly after the latest one and folds it.
// Events naming unknown slots stay in the log but are logged.
// apply stamps every event with the current time, kept strictly after the
// previous event, and folds it into the tracker.
func (p *Processor) apply(t *domain.Tracker, events ...domain.Event) {
	for _, e := range events {
		p.stamp(t, e)
		p.fold(t, e)
	}
}

// restore folds events that may carry their own time. Only unstamped events
// get the current time.
func (p *Processor) restore(t *domain.Tracker, events ...domain.Event) {
	for _, e := range events {
		if e.Time().IsZero() {
			p.stamp(t, e)
		}
		p.fold(t, e)
	}
}

func (p *Processor) stamp(t *domain.Tracker, e domain.Event) {
	ts := p.now().UTC()
	if last := t.LatestEventTime(); !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	e.SetTime(ts)
}

func (p *Processor) fold(t *domain.Tracker, e domain.Event) {
	if err := t.Update(e); err != nil {
		p.logger.Warn("event did not apply to the tracker", "sender_id", t.SenderID(), "event", e.Type(), "err", err)
	}
}

func (p *Processor) sendBotMessages(ctx context.Context, t *domain.Tracker, out ports.OutputChannel, events []domain.Event) {
	if out == nil {
		return
	}
	for _, e := range events {
		bot, ok := e.(*domain.BotUttered)
		if !ok {
			continue
		}
		if err := out.Send(ctx, t.SenderID(), MessageFor(bot)); err != nil {
			p.logger.Error("failed to send bot message", "sender_id", t.SenderID(), "channel", out.Name(), "err", err)
		}
	}
}

// utterDefault sends utter_default without logging it on the tracker.
func (p *Processor) utterDefault(ctx context.Context, t *domain.Tracker, out ports.OutputChannel) error {
	if p.nlg == nil || out == nil {
		return nil
	}
	msg, err := p.nlg.Generate(ctx, domain.ResponseDefault, t, out.Name())
	if err != nil || msg == nil {
		return err
	}
	return out.Send(ctx, t.SenderID(), *msg)
}

// MessageFor turns a logged bot utterance back into a sendable message.
func MessageFor(bot *domain.BotUttered) ports.BotMessage {
	msg := ports.BotMessage{Text: bot.Text}
	if bot.Data == nil {
		return msg
	}
	if img, ok := bot.Data["image"].(string); ok {
		msg.Image = img
	}
	switch buttons := bot.Data["buttons"].(type) {
	case []domain.Button:
		msg.Buttons = buttons
	case []any:
		for _, b := range buttons {
			if m, ok := b.(map[string]any); ok {
				title, _ := m["title"].(string)
				payload, _ := m["payload"].(string)
				msg.Buttons = append(msg.Buttons, domain.Button{Title: title, Payload: payload})
			}
		}
	}
	if custom, ok := bot.Data["custom"].(map[string]any); ok {
		msg.Custom = custom
	}
	return msg
}
