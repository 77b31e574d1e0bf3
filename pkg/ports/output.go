package ports

import (
	"context"
	"errors"

	"github.com/aretw0/tendril/pkg/domain"
)

// BotMessage is a rendered response ready to be sent.
type BotMessage struct {
	Text    string          `json:"text,omitempty"`
	Image   string          `json:"image,omitempty"`
	Buttons []domain.Button `json:"buttons,omitempty"`
	Custom  map[string]any  `json:"custom,omitempty"`
}

// Data returns the non-text parts of the message, as stored on BotUttered.
func (m BotMessage) Data() map[string]any {
	data := map[string]any{}
	if m.Image != "" {
		data["image"] = m.Image
	}
	if len(m.Buttons) > 0 {
		data["buttons"] = m.Buttons
	}
	if len(m.Custom) > 0 {
		data["custom"] = m.Custom
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// Generator renders a response template for the given tracker.
// It returns nil without error when the template does not exist.
type Generator interface {
	Generate(ctx context.Context, template string, tracker *domain.Tracker, channel string) (*BotMessage, error)
}

// OutputChannel delivers bot messages to the user of a conversation.
type OutputChannel interface {
	Name() string
	Send(ctx context.Context, recipientID string, msg BotMessage) error
}

// EventPublisher forwards the events of a handled message to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, senderID string, events []domain.Event) error
}

// Publishers fans events out to several publishers. Every publisher is
// called even when an earlier one fails.
type Publishers []EventPublisher

func (ps Publishers) Publish(ctx context.Context, senderID string, events []domain.Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, senderID, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
