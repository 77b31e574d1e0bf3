package processor

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/ports"
)

// Collector is an OutputChannel that keeps every message it is sent, for
// request/response transports and tests.
type Collector struct {
	name string

	mu       sync.Mutex
	messages []CollectedMessage
}

// CollectedMessage is a message together with its recipient.
type CollectedMessage struct {
	RecipientID string `json:"recipient_id"`
	ports.BotMessage
}

// NewCollector returns a collector that reports name as its channel.
func NewCollector(name string) *Collector {
	return &Collector{name: name}
}

func (c *Collector) Name() string { return c.name }

func (c *Collector) Send(_ context.Context, recipientID string, msg ports.BotMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, CollectedMessage{RecipientID: recipientID, BotMessage: msg})
	return nil
}

// Messages returns a copy of what was sent so far.
func (c *Collector) Messages() []CollectedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CollectedMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Texts returns the text of every collected message.
func (c *Collector) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Text
	}
	return out
}
