package cli

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/resilience"
	"github.com/aretw0/tendril/pkg/adapters/actionserver"
	"github.com/aretw0/tendril/pkg/adapters/file"
	api "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	natsAdapter "github.com/aretw0/tendril/pkg/adapters/nats"
	"github.com/aretw0/tendril/pkg/adapters/postgres"
	"github.com/aretw0/tendril/pkg/adapters/process"
	redisAdapter "github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/runner"
	backend "github.com/redis/go-redis/v9"
)

// DefaultActionsFile is picked up from the project when actions_file is unset.
const DefaultActionsFile = "actions.yml"

// Options selects what Build assembles around the agent.
type Options struct {
	ProjectPath string
	// ConfigPath defaults to endpoints.yml inside ProjectPath.
	ConfigPath string
	Debug      bool
	// Quiet discards logs unless Debug is set, keeping the terminal for the conversation.
	Quiet bool
	// Logger replaces the logger derived from the endpoints.
	Logger *slog.Logger

	// Store replaces the configured tracker store. Watch mode uses it to keep
	// conversations across reloads.
	Store ports.TrackerStore
	// Confirm asks before every custom action when set.
	Confirm runner.Prompter
	Metrics *observability.Metrics
	Streams *api.StreamManager
}

// Stack is an agent together with the connections it was built on.
type Stack struct {
	Agent  *tendril.Agent
	Config config.Config
	Logger *slog.Logger

	closers []io.Closer
}

// Close shuts the agent down, then every connection in reverse order.
func (s *Stack) Close() error {
	errs := []error{s.Agent.Close()}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Build reads the endpoints of the project and assembles an agent on them.
func Build(ctx context.Context, opts Options) (*Stack, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(opts.ProjectPath, config.DefaultFile)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	s := &Stack{Config: cfg, Logger: opts.Logger}
	if s.Logger == nil {
		s.Logger = NewLogger(cfg, opts.Debug, opts.Quiet)
	}
	agentOpts, err := s.wire(ctx, opts)
	if err != nil {
		s.closeConnections()
		return nil, err
	}

	agent, err := tendril.New(ctx, opts.ProjectPath, agentOpts...)
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("error initializing agent: %w", err)
	}
	s.Agent = agent
	return s, nil
}

func (s *Stack) closeConnections() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

func (s *Stack) wire(ctx context.Context, opts Options) ([]tendril.Option, error) {
	cfg := s.Config
	agentOpts := []tendril.Option{
		tendril.WithLogger(s.Logger),
		tendril.WithMaxPredictions(cfg.MaxPredictions),
	}

	store := opts.Store
	if store == nil {
		var err error
		if store, err = s.buildStore(ctx, opts.ProjectPath); err != nil {
			return nil, err
		}
	}
	mws, err := securityMiddlewares(cfg.Security)
	if err != nil {
		return nil, err
	}
	agentOpts = append(agentOpts, tendril.WithStore(middleware.Chain(store, mws...)))

	if cfg.LockStore.URL != "" {
		client, err := redisClient(cfg.LockStore.URL)
		if err != nil {
			return nil, fmt.Errorf("lock_store: %w", err)
		}
		s.closers = append(s.closers, client)
		agentOpts = append(agentOpts, tendril.WithLocker(redisAdapter.NewLocker(client, cfg.LockStore.Prefix)))
	}

	executor := resilience.NewExecutor(cfg.Resilience, resilience.WithLogger(s.Logger))

	actionRunner, err := s.buildActionRunner(opts.ProjectPath, executor)
	if err != nil {
		return nil, err
	}
	if actionRunner != nil {
		if opts.Confirm != nil {
			actionRunner = runner.Intercept(actionRunner, runner.ConfirmationMiddleware(opts.Confirm))
		}
		agentOpts = append(agentOpts, tendril.WithActionServer(actionRunner))
	}

	var publishers ports.Publishers
	if cfg.EventBroker.URL != "" {
		pub, err := natsAdapter.Connect(cfg.EventBroker.URL, natsAdapter.Options{
			Subject:  cfg.EventBroker.Subject,
			Executor: executor,
			Logger:   s.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("event_broker: %w", err)
		}
		s.closers = append(s.closers, pub)
		publishers = append(publishers, pub)
	}
	if opts.Streams != nil {
		publishers = append(publishers, opts.Streams)
	}
	if len(publishers) > 0 {
		agentOpts = append(agentOpts, tendril.WithPublisher(publishers))
	}

	hooks := []domain.LifecycleHooks{observability.AuditHooks(s.Logger)}
	if opts.Metrics != nil {
		hooks = append(hooks, opts.Metrics.Hooks())
	}
	agentOpts = append(agentOpts, tendril.WithLifecycleHooks(observability.Combine(hooks...)))
	return agentOpts, nil
}

func (s *Stack) buildStore(ctx context.Context, projectPath string) (ports.TrackerStore, error) {
	tc := s.Config.TrackerStore
	switch tc.Type {
	case config.StoreFile:
		path := tc.Path
		if path == "" {
			path = filepath.Join(projectPath, ".tendril", "trackers")
		}
		return file.New(path), nil
	case config.StoreRedis:
		client, err := redisClient(tc.URL)
		if err != nil {
			return nil, fmt.Errorf("tracker_store: %w", err)
		}
		var storeOpts []redisAdapter.Option
		if tc.Prefix != "" {
			storeOpts = append(storeOpts, redisAdapter.WithPrefix(tc.Prefix))
		}
		if tc.TTL > 0 {
			storeOpts = append(storeOpts, redisAdapter.WithTTL(tc.TTL))
		}
		store := redisAdapter.NewFromClient(client, storeOpts...)
		s.closers = append(s.closers, store)
		return store, nil
	case config.StorePostgres:
		db, err := postgres.OpenDB(ctx, tc.URL)
		if err != nil {
			return nil, fmt.Errorf("tracker_store: %w", err)
		}
		store := postgres.New(db)
		s.closers = append(s.closers, store)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("tracker_store: %w", err)
		}
		return store, nil
	default:
		return memory.NewStore(), nil
	}
}

// buildActionRunner returns nil when the project has no custom action backend.
func (s *Stack) buildActionRunner(projectPath string, executor *resilience.Executor) (ports.ActionRunner, error) {
	cfg := s.Config
	if cfg.ActionEndpoint.URL != "" {
		return actionserver.New(cfg.ActionEndpoint.URL,
			actionserver.WithHTTPClient(&http.Client{Timeout: cfg.ActionEndpoint.Timeout}),
			actionserver.WithExecutor(executor),
			actionserver.WithVersion(tendril.Version),
			actionserver.WithLogger(s.Logger),
		), nil
	}

	path := cfg.ActionsFile
	if path == "" {
		candidate := filepath.Join(projectPath, DefaultActionsFile)
		if _, err := os.Stat(candidate); err != nil {
			return nil, nil
		}
		path = candidate
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(projectPath, path)
	}

	registry, err := process.LoadActions(path)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("process actions loaded", "path", path, "count", len(registry))
	return process.NewRunner(
		process.WithRegistry(registry),
		process.WithBaseDir(projectPath),
		process.WithLogger(s.Logger),
	), nil
}

// securityMiddlewares masks before it encrypts, so ciphertext never holds PII.
func securityMiddlewares(sec config.Security) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(sec.PIIPatterns) > 0 {
		pii, err := middleware.NewPII(sec.PIIPatterns)
		if err != nil {
			return nil, fmt.Errorf("security: %w", err)
		}
		mws = append(mws, pii)
	}
	if sec.EncryptionKey == "" {
		return mws, nil
	}

	active, err := decodeKey(sec.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security: encryption_key: %w", err)
	}
	encCfg := middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range sec.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, fmt.Errorf("security: fallback_keys[%d]: %w", i, err)
		}
		encCfg.FallbackKeys = append(encCfg.FallbackKeys, key)
	}
	enc, err := middleware.NewEncryption(encCfg)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	return append(mws, enc), nil
}

// decodeKey accepts a raw 32 character key, 64 hex digits or base64.
func decodeKey(s string) ([]byte, error) {
	switch {
	case len(s) == 32:
		return []byte(s), nil
	case len(s) == 64:
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(key) != 32 {
		return nil, middleware.ErrInvalidKey
	}
	return key, nil
}

func redisClient(rawURL string) (*backend.Client, error) {
	opts, err := backend.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return backend.NewClient(opts), nil
}

// NewLogger follows the configured level and format. Debug forces the debug
// level; Quiet without Debug discards everything.
func NewLogger(cfg config.Config, debug, quiet bool) *slog.Logger {
	level := logging.ParseLevel(cfg.LogLevel)
	switch {
	case debug:
		level = slog.LevelDebug
	case quiet:
		return logging.NewNop()
	}
	if cfg.LogFormat == "json" {
		return logging.NewJSON(level)
	}
	return logging.New(level)
}
