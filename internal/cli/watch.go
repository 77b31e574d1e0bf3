package cli

import (
	"context"
	"crypto/md5"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/runner"
)

// retryDelay is how long a broken project waits before the next build.
var retryDelay = 2 * time.Second

// RunWatch runs the agent in development mode, retraining it whenever the
// project changes. The conversation survives reloads.
func RunWatch(ctx context.Context, opts RunOptions) error {
	// scoped by path hash so projects do not share a conversation
	if opts.SenderID == "" {
		hash := md5.Sum([]byte(opts.ProjectPath))
		opts.SenderID = fmt.Sprintf("watch-%x", hash[:4])
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(opts.ProjectPath, config.DefaultFile)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// a memory store rebuilt on each reload would forget the conversation
	var store ports.TrackerStore
	if cfg.TrackerStore.Type == config.StoreMemory {
		store = memory.NewStore()
	}

	// one handler for every iteration, so stdin has a single reader
	handler := newHandler(opts)
	tui.PrintBanner(opts.output(), "tendril "+tendril.Version+" (watch)")

	fresh := opts.Fresh
	for {
		reload, err := watchIteration(ctx, opts, handler, store, fresh)
		if err != nil || !reload {
			return err
		}
		fresh = false
	}
}

// watchIteration reports whether the agent must be rebuilt.
func watchIteration(ctx context.Context, opts RunOptions, handler runner.IOHandler, store ports.TrackerStore, fresh bool) (bool, error) {
	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stack, err := Build(iterCtx, buildOptions(opts, handler, store))
	if err != nil {
		if outErr := handler.SystemOutput(ctx, err.Error()); outErr != nil {
			return false, outErr
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(retryDelay):
			return true, nil
		}
	}
	defer stack.Close()

	if fresh {
		if err := resetConversation(iterCtx, stack, opts.SenderID); err != nil {
			return false, err
		}
	}
	changes, err := stack.Agent.Watch(iterCtx)
	if err != nil {
		return false, err
	}
	if err := stack.Agent.Start(iterCtx); err != nil {
		return false, err
	}

	runCtx, stopRun := context.WithCancel(iterCtx)
	defer stopRun()
	done := make(chan error, 1)
	go func() {
		done <- newRunner(stack, handler, opts.SenderID).Run(runCtx)
	}()

	for {
		select {
		case err := <-done:
			return false, err
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			stack.Logger.Info("project changed, reloading", "path", opts.ProjectPath)
			stopRun()
			<-done
			if err := handler.SystemOutput(ctx, "Project changed, reloading..."); err != nil {
				return false, err
			}
			return true, nil
		}
	}
}
