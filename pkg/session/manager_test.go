package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain(t *testing.T) *domain.Domain {
	t.Helper()
	d, err := domain.New(domain.Config{Intents: []domain.IntentSpec{{Name: "greet"}}})
	require.NoError(t, err)
	return d
}

// TestManager_SerializesReadModifyWrite would lose updates without the lock.
func TestManager_SerializesReadModifyWrite(t *testing.T) {
	d := testDomain(t)
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	id := "race-test"

	var wg sync.WaitGroup
	writers := 10
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.WithLock(ctx, id, func(ctx context.Context) error {
				tr, err := mgr.Tracker(ctx, id, d)
				if err != nil {
					return err
				}
				time.Sleep(time.Millisecond)
				if err := tr.Update(&domain.ActionExecuted{ActionName: domain.ActionListen}); err != nil {
					return err
				}
				return mgr.Persist(ctx, tr)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	dlg, err := mgr.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, dlg.Events, writers)
}

func TestManager_Tracker_NewConversation(t *testing.T) {
	d := testDomain(t)
	mgr := session.NewManager(memory.NewStore())

	tr, err := mgr.Tracker(context.Background(), "fresh", d)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tr.SenderID())
	assert.Zero(t, tr.Len())

	_, err = mgr.Load(context.Background(), "fresh")
	assert.True(t, session.IsNotFound(err))
}

type failingStore struct{ ports.TrackerStore }

func (failingStore) Load(context.Context, string) (*domain.Dialogue, error) {
	return nil, errors.New("connection refused")
}

func TestManager_Tracker_StoreError(t *testing.T) {
	mgr := session.NewManager(failingStore{})
	_, err := mgr.Tracker(context.Background(), "x", testDomain(t))
	require.Error(t, err)
	assert.False(t, session.IsNotFound(err))
}

type countingLocker struct {
	locks, unlocks atomic.Int32
	ttl            time.Duration
}

func (l *countingLocker) Lock(_ context.Context, _ string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.locks.Add(1)
	l.ttl = ttl
	return func(context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Second))

	require.NoError(t, mgr.Delete(context.Background(), "a"))
	assert.Equal(t, int32(1), locker.locks.Load())
	assert.Equal(t, int32(1), locker.unlocks.Load())
	assert.Equal(t, time.Second, locker.ttl)
}

type refusingLocker struct{}

func (refusingLocker) Lock(context.Context, string, time.Duration) (ports.UnlockFunc, error) {
	return nil, errors.New("busy")
}

func TestManager_DistributedLockerFailure(t *testing.T) {
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(refusingLocker{}))
	called := false
	err := mgr.WithLock(context.Background(), "a", func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}
