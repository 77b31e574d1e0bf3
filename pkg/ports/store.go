package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// TrackerStore persists conversations as their ordered event log.
type TrackerStore interface {
	// Save replaces the stored events of dlg.SenderID.
	Save(ctx context.Context, dlg *domain.Dialogue) error

	// Load retrieves a conversation.
	// Returns domain.ErrConversationNotFound if it does not exist.
	Load(ctx context.Context, senderID string) (*domain.Dialogue, error)

	// Delete removes a conversation. Deleting an unknown id is not an error.
	Delete(ctx context.Context, senderID string) error

	// List returns the ids of every stored conversation.
	List(ctx context.Context) ([]string, error)
}

// GetOrCreate loads a conversation into a tracker of d, or returns a new
// tracker when the store has none.
func GetOrCreate(ctx context.Context, store TrackerStore, d *domain.Domain, senderID string) (*domain.Tracker, error) {
	dlg, err := store.Load(ctx, senderID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return d.NewTracker(senderID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", senderID, err)
	}
	return d.TrackerFromDialogue(dlg), nil
}
