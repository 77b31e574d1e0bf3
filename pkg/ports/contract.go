package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractDialogue(senderID string) *domain.Dialogue {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	events := domain.Events{
		&domain.ActionExecuted{ActionName: domain.ActionSessionStart},
		&domain.SessionStarted{},
		&domain.ActionExecuted{ActionName: domain.ActionListen},
		&domain.UserUttered{Text: "hi", Intent: domain.Intent{Name: "greet", Confidence: 1}},
		&domain.SlotSet{Key: "count", Value: 42},
		&domain.BotUttered{Text: "hello"},
	}
	for i, e := range events {
		e.SetTime(at.Add(time.Duration(i) * time.Millisecond))
	}
	return &domain.Dialogue{SenderID: senderID, Events: events}
}

// RunTrackerStoreContract runs a suite of tests to verify that a TrackerStore
// implementation adheres to the defined interface contract.
func RunTrackerStoreContract(t *testing.T, store TrackerStore) {
	ctx := context.Background()
	senderID := "contract-test-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		dlg := contractDialogue(senderID)
		require.NoError(t, store.Save(ctx, dlg), "Save should not return error")

		loaded, err := store.Load(ctx, senderID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, senderID, loaded.SenderID)
		require.Len(t, loaded.Events, len(dlg.Events))
		for i := range dlg.Events {
			assert.Equal(t, dlg.Events[i].Type(), loaded.Events[i].Type())
			assert.True(t, dlg.Events[i].Time().Equal(loaded.Events[i].Time()), "timestamp of event %d", i)
		}
		user, ok := loaded.Events[3].(*domain.UserUttered)
		require.True(t, ok)
		assert.Equal(t, "greet", user.Intent.Name)
		// JSON stores may turn numbers into float64
		assert.NotNil(t, loaded.Events[4].(*domain.SlotSet).Value)
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		dlg := contractDialogue(senderID)
		dlg.Events = append(dlg.Events, &domain.ActionExecuted{ActionName: domain.ActionListen})
		require.NoError(t, store.Save(ctx, dlg))

		loaded, err := store.Load(ctx, senderID)
		require.NoError(t, err)
		assert.Len(t, loaded.Events, len(dlg.Events))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+senderID)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, contractDialogue(senderID)))
		require.NoError(t, store.Delete(ctx, senderID), "Delete should not return error")

		_, err := store.Load(ctx, senderID)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound, "Load after Delete should return ErrConversationNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := senderID + "-1"
		id2 := senderID + "-2"
		require.NoError(t, store.Save(ctx, contractDialogue(id1)))
		require.NoError(t, store.Save(ctx, contractDialogue(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
