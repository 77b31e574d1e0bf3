package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed replica can hold a conversation.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes work on a conversation and owns its persistence.
// Distinct conversations proceed concurrently. Unused locks are reclaimed
// through reference counting.
type Manager struct {
	store ports.TrackerStore

	mu    sync.Mutex            // guards locks
	locks map[string]*lockEntry // active locks by sender id

	locker  ports.DistributedLocker // optional, across replicas
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager persisting to store.
func NewManager(store ports.TrackerStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(senderID) after unlocking.
func (m *Manager) acquire(senderID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[senderID]
	if !exists {
		entry = &lockEntry{}
		m.locks[senderID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(senderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[senderID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, senderID)
	}
}

// Tracker returns the stored conversation folded into a tracker, or a fresh
// tracker when none is stored. It does not lock: call it inside WithLock.
func (m *Manager) Tracker(ctx context.Context, senderID string, d *domain.Domain) (*domain.Tracker, error) {
	return ports.GetOrCreate(ctx, m.store, d, senderID)
}

// Persist saves a tracker. It does not lock: call it inside WithLock.
func (m *Manager) Persist(ctx context.Context, t *domain.Tracker) error {
	if err := m.store.Save(ctx, t.Dialogue()); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", t.SenderID(), err)
	}
	return nil
}

// Load retrieves a stored conversation.
func (m *Manager) Load(ctx context.Context, senderID string) (*domain.Dialogue, error) {
	var dlg *domain.Dialogue
	err := m.WithLock(ctx, senderID, func(ctx context.Context) error {
		var err error
		dlg, err = m.store.Load(ctx, senderID)
		return err
	})
	return dlg, err
}

// Save persists a conversation.
func (m *Manager) Save(ctx context.Context, dlg *domain.Dialogue) error {
	return m.WithLock(ctx, dlg.SenderID, func(ctx context.Context) error {
		return m.store.Save(ctx, dlg)
	})
}

// Delete removes a conversation from the store.
func (m *Manager) Delete(ctx context.Context, senderID string) error {
	return m.WithLock(ctx, senderID, func(ctx context.Context) error {
		return m.store.Delete(ctx, senderID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying tracker store.
func (m *Manager) Store() ports.TrackerStore {
	return m.store
}

// WithLock executes fn while holding the lock for the conversation.
func (m *Manager) WithLock(ctx context.Context, senderID string, fn func(context.Context) error) error {
	entry := m.acquire(senderID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(senderID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, senderID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// release even when ctx was cancelled by fn
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"sender_id", senderID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// IsNotFound reports whether err means the conversation does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrConversationNotFound)
}
