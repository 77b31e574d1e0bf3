package runner

import (
	"log/slog"
	"time"
)

// DefaultInputBufferSize is the default number of lines to buffer for input handlers.
const DefaultInputBufferSize = 64

// DefaultSenderID identifies the conversation when none is configured.
const DefaultSenderID = "default"

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithInputHandler configures a custom IOHandler.
func WithInputHandler(handler IOHandler) Option {
	return func(r *Runner) {
		r.Handler = handler
	}
}

// WithSenderID sets the conversation the runner talks in.
// Reusing an id with a durable store resumes that conversation.
func WithSenderID(id string) Option {
	return func(r *Runner) {
		r.SenderID = id
	}
}

// WithTurnTimeout bounds how long the agent may take to answer one message.
func WithTurnTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.TurnTimeout = d
	}
}

// WithInterruptSource sets a channel that stops the runner when closed or signalled.
func WithInterruptSource(ch <-chan struct{}) Option {
	return func(r *Runner) {
		r.InterruptSource = ch
	}
}
