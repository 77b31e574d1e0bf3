package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, backend.NewClient(&backend.Options{Addr: mr.Addr()})
}

func dialogue(senderID string) *domain.Dialogue {
	return &domain.Dialogue{SenderID: senderID, Events: domain.Events{
		&domain.ActionExecuted{ActionName: domain.ActionListen},
		&domain.UserUttered{Text: "hi", Intent: domain.Intent{Name: "greet", Confidence: 1}},
	}}
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunTrackerStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	senderID := "conversation-ttl"

	require.NoError(t, store.Save(ctx, dialogue(senderID)))

	ids, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, ids, senderID)

	// Key expiration happens in miniredis time
	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, senderID)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	// The index is pruned against wall clock time.
	time.Sleep(1200 * time.Millisecond)

	ids, err = store.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, dialogue("my-conversation")))

	assert.True(t, mr.Exists("custom:app:my-conversation"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix to exist")

	ids, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, ids, "my-conversation")
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)

	require.NoError(t, mr.Set(redis.DefaultPrefix+"broken", "{not json"))

	_, err := store.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrConversationNotFound)
}
