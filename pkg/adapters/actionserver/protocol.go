// Package actionserver runs custom actions on a remote action server.
//
// The runner POSTs a Request for every action and turns the Response into
// tracker events. Messages in the response become BotUttered events; a
// message naming a response template is rendered with the configured
// generator first.
package actionserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Request is the body sent for one action.
type Request struct {
	NextAction string                 `json:"next_action"`
	SenderID   string                 `json:"sender_id"`
	Tracker    domain.TrackerSnapshot `json:"tracker"`
	Domain     *domain.Domain         `json:"domain,omitempty"`
	Version    string                 `json:"version,omitempty"`
}

// Message is a bot message returned by an action. Template names a
// response of the domain to render instead of the literal fields.
type Message struct {
	ports.BotMessage
	Template string `json:"response,omitempty"`
}

// Response is the body returned for a successful action.
type Response struct {
	Events    domain.Events `json:"events"`
	Responses []Message     `json:"responses"`
}

// ErrorBody is returned with a 400 status when an action rejects execution.
type ErrorBody struct {
	ActionName string `json:"action_name"`
	Error      string `json:"error"`
}

// NewRequest builds the request for action on tracker.
func NewRequest(action string, tracker *domain.Tracker, d *domain.Domain, withDomain bool) Request {
	req := Request{
		NextAction: action,
		SenderID:   tracker.SenderID(),
		Tracker:    tracker.Snapshot(true),
	}
	if withDomain {
		req.Domain = d
	}
	return req
}

// Decode parses a response body into events: first the bot messages,
// then the action's own events.
func Decode(ctx context.Context, body []byte, tracker *domain.Tracker, gen ports.Generator) ([]domain.Event, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode action response: %w", err)
	}

	events := make([]domain.Event, 0, len(resp.Responses)+len(resp.Events))
	for _, m := range resp.Responses {
		msg := m.BotMessage
		if m.Template != "" {
			if gen == nil {
				return nil, fmt.Errorf("action response names template %q but no generator is configured", m.Template)
			}
			rendered, err := gen.Generate(ctx, m.Template, tracker, "")
			if err != nil {
				return nil, fmt.Errorf("failed to render %s: %w", m.Template, err)
			}
			if rendered == nil {
				continue
			}
			msg = *rendered
		}
		events = append(events, &domain.BotUttered{Text: msg.Text, Data: msg.Data()})
	}
	return append(events, resp.Events...), nil
}

// Rejection converts an error body into a rejection of action.
func Rejection(action string, body []byte) *ports.Rejection {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		return &ports.Rejection{Action: action}
	}
	name := eb.ActionName
	if name == "" {
		name = action
	}
	return &ports.Rejection{Action: name, Reason: eb.Error}
}
