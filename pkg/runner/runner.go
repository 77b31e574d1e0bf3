package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Agent is the part of the dialogue engine the runner drives.
type Agent interface {
	HandleMessage(ctx context.Context, msg domain.UserMessage, out ports.OutputChannel) ([]domain.Event, error)
	Tracker(ctx context.Context, senderID string) (*domain.Tracker, error)
}

// Runner reads user messages from a handler and feeds them to an agent until
// the input ends, the user types "exit" or the process is interrupted.
type Runner struct {
	// Handler is the strategy for IO. Defaults to a TextHandler on stdin/stdout.
	Handler IOHandler

	// SenderID identifies the conversation.
	SenderID string

	// TurnTimeout bounds a single HandleMessage call. Zero means no limit.
	TurnTimeout time.Duration

	// InterruptSource stops the loop when it fires.
	InterruptSource <-chan struct{}

	// Logger is used for internal debug logging.
	Logger *slog.Logger

	agent Agent
}

// NewRunner creates a Runner for agent.
func NewRunner(agent Agent, opts ...Option) *Runner {
	r := &Runner{
		agent:    agent,
		SenderID: DefaultSenderID,
		Logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the conversation loop. It returns nil when the user ends the
// conversation or the process is interrupted.
func (r *Runner) Run(ctx context.Context) error {
	handler := r.resolveHandler()

	signals := NewSignalManager(ctx)
	defer signals.Stop()
	if r.InterruptSource != nil {
		go func() {
			select {
			case <-r.InterruptSource:
				signals.Stop()
			case <-signals.Context().Done():
			}
		}()
	}

	if err := r.announceResume(signals.Context(), handler); err != nil {
		return err
	}

	for {
		loopCtx := signals.Context()

		text, err := handler.Input(loopCtx)
		if err != nil {
			signals.CheckRace()
			if loopCtx.Err() != nil {
				r.Logger.Debug("runner interrupted", "err", loopCtx.Err())
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}

		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := r.turn(loopCtx, handler, text); err != nil {
			if loopCtx.Err() != nil {
				return nil
			}
			r.Logger.Warn("turn failed", "sender_id", r.SenderID, "err", err)
			if err := handler.SystemOutput(loopCtx, err.Error()); err != nil {
				return fmt.Errorf("output error: %w", err)
			}
		}
	}
}

func (r *Runner) turn(ctx context.Context, handler IOHandler, text string) error {
	if r.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.TurnTimeout)
		defer cancel()
	}

	msg := domain.UserMessage{
		Text:         text,
		SenderID:     r.SenderID,
		InputChannel: handler.Name(),
	}
	events, err := r.agent.HandleMessage(ctx, msg, handler)
	if err != nil {
		return err
	}
	r.Logger.Debug("turn handled", "sender_id", r.SenderID, "events", len(events))
	return nil
}

// announceResume tells the user when the conversation already has history.
func (r *Runner) announceResume(ctx context.Context, handler IOHandler) error {
	tracker, err := r.agent.Tracker(ctx, r.SenderID)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", r.SenderID, err)
	}
	if n := len(tracker.Events()); n > 0 {
		return handler.SystemOutput(ctx, fmt.Sprintf("Resuming conversation %q (%d events)", r.SenderID, n))
	}
	return nil
}

// resolveHandler ensures a valid IOHandler is set.
func (r *Runner) resolveHandler() IOHandler {
	if r.Handler == nil {
		// memoize so later Run calls share the input pump
		r.Handler = NewTextHandler(os.Stdin, os.Stdout)
	}
	return r.Handler
}
