package loam

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// DomainID is the document holding the domain description.
const DomainID = "domain"

// Loader adapts the Loam library to the ports.ProjectLoader interface.
// Any document with stories or rules is training data; the one named
// DomainID describes the domain.
type Loader struct {
	Repo   *loam.TypedRepository[ProjectFile]
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used to report skipped documents.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[ProjectFile], opts ...Option) *Loader {
	l := &Loader{
		Repo:   repo,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open initializes a read-only Loam repository at path and wraps it.
func Open(path string, opts ...Option) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[ProjectFile](repo), opts...), nil
}

type entry struct {
	id   string
	path string
	file ProjectFile
}

// list returns every document under its normalized ID, rejecting collisions
// such as domain.yml next to domain.json.
func (l *Loader) list(ctx context.Context) ([]entry, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	entries := make([]entry, 0, len(docs))
	for _, doc := range docs {
		id := trimExtension(doc.ID)
		if existingPath, ok := seen[id]; ok {
			return nil, fmt.Errorf("collision detected: ID '%s' is defined in both '%s' and '%s'", id, existingPath, doc.ID)
		}
		seen[id] = doc.ID
		entries = append(entries, entry{id: id, path: doc.ID, file: doc.Data})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries, nil
}

// LoadDomain implements ports.ProjectLoader.
func (l *Loader) LoadDomain(ctx context.Context) (domain.Config, error) {
	entries, err := l.list(ctx)
	if err != nil {
		return domain.Config{}, err
	}
	for _, e := range entries {
		if e.id != DomainID {
			continue
		}
		cfg, err := domain.ConfigFromMap(e.file.domainMap())
		if err != nil {
			return domain.Config{}, fmt.Errorf("%s: %w", e.path, err)
		}
		return cfg, nil
	}
	return domain.Config{}, fmt.Errorf("no %s document in project", DomainID)
}

// LoadTrainingData implements ports.ProjectLoader.
func (l *Loader) LoadTrainingData(ctx context.Context) ([]ports.Document, error) {
	entries, err := l.list(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]ports.Document, 0, len(entries))
	for _, e := range entries {
		if e.id == DomainID {
			continue
		}
		if !e.file.IsTraining() {
			l.logger.Debug("skipping document without stories or rules", "id", e.id)
			continue
		}
		docs = append(docs, ports.Document{ID: e.id, Data: e.file.trainingMap()})
	}
	return docs, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch implements ports.Watchable.
func (l *Loader) Watch(ctx context.Context) (<-chan struct{}, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				l.logger.Debug("project changed", "id", evt.ID)
				// Coalesce bursts: a pending signal already covers this change.
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch, nil
}
