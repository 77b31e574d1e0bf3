// Package process runs custom actions as local commands.
//
// The command receives the action request as JSON on stdin and writes the
// response to stdout, in the same format as a remote action server. A
// non-zero exit whose stdout carries {"error": ...} is a rejection.
// Only commands registered up front can run.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/adapters/actionserver"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// ErrNotRegistered is returned for actions without a registered command.
var ErrNotRegistered = errors.New("no command registered for action")

// Runner implements ports.ActionRunner.
type Runner struct {
	registry  map[string]ActionConfig
	baseDir   string
	generator ports.Generator
	logger    *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry registers every action from a loaded config.
func WithRegistry(actions map[string]ActionConfig) RunnerOption {
	return func(r *Runner) {
		for _, a := range actions {
			r.registry[a.Name] = a
		}
	}
}

// WithBaseDir sets the working directory of the commands.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGenerator renders templates named in command output.
func WithGenerator(g ports.Generator) RunnerOption {
	return func(r *Runner) {
		r.generator = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner with an empty allow-list.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]ActionConfig),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register allows action to run command.
func (r *Runner) Register(action string, command string, args ...string) {
	r.registry[action] = ActionConfig{Name: action, Command: command, Args: args}
}

// Actions lists the registered action names.
func (r *Runner) Actions() []string {
	names := make([]string, 0, len(r.registry))
	for name := range r.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the command registered for action.
func (r *Runner) Run(ctx context.Context, action string, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
	cfg, ok := r.registry[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, action)
	}

	input, err := json.Marshal(actionserver.NewRequest(action, tracker, d, true))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request for %s: %w", action, err)
	}

	// The request travels on stdin only; nothing from the conversation
	// reaches the command line.
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = r.baseDir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(cmd.Environ(),
		"TENDRIL_ACTION="+action,
		"TENDRIL_SENDER_ID="+tracker.SenderID(),
	)
	for k, v := range cfg.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("action %s interrupted: %w", action, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && looksLikeJSON(stdout.Bytes()) {
			return nil, actionserver.Rejection(action, stdout.Bytes())
		}
		return nil, fmt.Errorf("action %s failed: %w: %s", action, err, strings.TrimSpace(stderr.String()))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	events, err := actionserver.Decode(ctx, out, tracker, r.generator)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action, err)
	}
	r.logger.Debug("process action executed", "action", action, "command", cfg.Command, "events", len(events))
	return events, nil
}

func looksLikeJSON(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 1 && b[0] == '{' && b[len(b)-1] == '}'
}
