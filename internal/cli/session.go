package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/runner"
)

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	ProjectPath    string
	ConfigPath     string
	SenderID       string
	JSON           bool
	Watch          bool
	Fresh          bool
	Debug          bool
	ConfirmActions bool

	// Input and Output default to stdin and stdout.
	Input  io.Reader
	Output io.Writer
}

func (o RunOptions) output() io.Writer {
	if o.Output == nil {
		return os.Stdout
	}
	return o.Output
}

// Execute dispatches the run command to session or watch mode.
func Execute(ctx context.Context, opts RunOptions) error {
	if opts.Watch {
		if opts.JSON {
			return errors.New("--watch and --json cannot be used together")
		}
		return RunWatch(ctx, opts)
	}
	return RunSession(ctx, opts)
}

// RunSession talks to the agent of the project until the user leaves.
func RunSession(ctx context.Context, opts RunOptions) error {
	handler := newHandler(opts)

	stack, err := Build(ctx, buildOptions(opts, handler, nil))
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.Agent.Start(ctx); err != nil {
		return err
	}
	if !opts.JSON {
		tui.PrintBanner(opts.output(), "tendril "+tendril.Version)
	}
	if opts.Fresh {
		if err := resetConversation(ctx, stack, opts.SenderID); err != nil {
			return err
		}
	}
	return newRunner(stack, handler, opts.SenderID).Run(ctx)
}

func newHandler(opts RunOptions) runner.IOHandler {
	if opts.JSON {
		return runner.NewJSONHandler(opts.Input, opts.Output)
	}
	h := runner.NewTextHandler(opts.Input, opts.Output)
	if h.Interactive {
		h.Renderer = tui.NewRenderer(80)
	}
	return h
}

func buildOptions(opts RunOptions, handler runner.IOHandler, store ports.TrackerStore) Options {
	b := Options{
		ProjectPath: opts.ProjectPath,
		ConfigPath:  opts.ConfigPath,
		Debug:       opts.Debug,
		Quiet:       true,
		Store:       store,
	}
	if opts.ConfirmActions {
		b.Confirm = handler
	}
	return b
}

func newRunner(stack *Stack, handler runner.IOHandler, senderID string) *runner.Runner {
	opts := []runner.Option{
		runner.WithInputHandler(handler),
		runner.WithLogger(stack.Logger),
	}
	if senderID != "" {
		opts = append(opts, runner.WithSenderID(senderID))
	}
	return runner.NewRunner(stack.Agent, opts...)
}

func resetConversation(ctx context.Context, stack *Stack, senderID string) error {
	if senderID == "" {
		senderID = runner.DefaultSenderID
	}
	if err := stack.Agent.DeleteTracker(ctx, senderID); err != nil {
		return fmt.Errorf("failed to reset conversation %s: %w", senderID, err)
	}
	return nil
}
