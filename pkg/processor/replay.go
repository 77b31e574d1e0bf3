package processor

import (
	"context"
	"slices"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/pmezard/go-difflib/difflib"
)

// missing pads an aligned action list where the other side has an action.
const missing = "None"

// Divergence is a user turn after which the bot acted differently than the
// recorded conversation did.
type Divergence struct {
	// Turn counts the replayed user messages, starting at 1.
	Turn      int      `json:"turn"`
	Expected  []string `json:"expected"`
	Predicted []string `json:"predicted"`
}

// Replay feeds the user messages of a recorded conversation, with their
// recorded intents and entities, through the loop again. The new events are
// appended to the stored conversation of the recorded sender id. Every turn
// whose actions differ from the recording is reported.
func (p *Processor) Replay(ctx context.Context, dlg *domain.Dialogue, out ports.OutputChannel) ([]Divergence, error) {
	recorded := p.domain.TrackerFromDialogue(dlg)

	var (
		divergences []Divergence
		expected    []string
		predicted   = []string{domain.ActionListen}
		turn        int
	)
	check := func() {
		if turn == 0 {
			return
		}
		if d, ok := diverges(turn, expected, predicted); ok {
			p.logger.Warn("replayed conversation diverged", "sender_id", dlg.SenderID, "turn", turn, "expected", d.Expected, "predicted", d.Predicted)
			divergences = append(divergences, d)
		}
	}

	for _, e := range recorded.EventsSinceLastRestart() {
		switch e := e.(type) {
		case *domain.UserUttered:
			check()
			expected = nil
			turn++
			added, err := p.HandleMessage(ctx, domain.UserMessage{
				Text:         e.Text,
				SenderID:     dlg.SenderID,
				InputChannel: e.InputChannel,
				MessageID:    e.MessageID,
				ParseData:    &domain.ParseResult{Text: e.Text, Intent: e.Intent, Entities: e.Entities},
			}, out)
			if err != nil {
				return divergences, err
			}
			predicted = actionsAfterLastUtterance(added)
		case *domain.ActionExecuted:
			expected = append(expected, e.ActionName)
		}
	}
	check()
	return divergences, nil
}

func actionsAfterLastUtterance(events []domain.Event) []string {
	var actions []string
	for i := len(events) - 1; i >= 0; i-- {
		if _, ok := events[i].(*domain.UserUttered); ok {
			break
		}
		if a, ok := events[i].(*domain.ActionExecuted); ok {
			actions = append(actions, a.ActionName)
		}
	}
	slices.Reverse(actions)
	return actions
}

func diverges(turn int, expected, predicted []string) (Divergence, bool) {
	p, e := align(predicted, expected)
	if slices.Equal(p, e) {
		return Divergence{}, false
	}
	return Divergence{Turn: turn, Expected: e, Predicted: p}, true
}

// align pads both lists so that equal actions share an index.
func align(predictions, golds []string) ([]string, []string) {
	var p, g []string
	for _, op := range difflib.NewMatcher(predictions, golds).GetOpCodes() {
		p = append(p, predictions[op.I1:op.I2]...)
		p = append(p, pad((op.J2-op.J1)-(op.I2-op.I1))...)
		g = append(g, golds[op.J1:op.J2]...)
		g = append(g, pad((op.I2-op.I1)-(op.J2-op.J1))...)
	}
	return p, g
}

func pad(n int) []string {
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = missing
	}
	return out
}
