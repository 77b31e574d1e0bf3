package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/processor"
)

// JSONChannelName is the input channel reported by JSONHandler.
const JSONChannelName = "json"

// JSONHandler implements the IOHandler interface for JSON-Lines communication.
// Each reply is written as one object; system messages as {"system": "..."}.
type JSONHandler struct {
	Reader  *bufio.Reader
	Encoder *json.Encoder
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Name() string { return JSONChannelName }

func (h *JSONHandler) Send(_ context.Context, recipientID string, msg ports.BotMessage) error {
	return h.Encoder.Encode(processor.CollectedMessage{RecipientID: recipientID, BotMessage: msg})
}

// Input reads one line holding a JSON string, an object with a "text" field
// or plain text.
func (h *JSONHandler) Input(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := h.Reader.ReadString('\n')
	if err != nil && (err != io.EOF || text == "") {
		return "", err
	}
	text = strings.TrimSpace(text)

	var val string
	if err := json.Unmarshal([]byte(text), &val); err == nil {
		return SanitizeInput(val)
	}
	var msg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(text), &msg); err == nil {
		return SanitizeInput(msg.Text)
	}

	// plain text
	return SanitizeInput(text)
}

func (h *JSONHandler) SystemOutput(_ context.Context, msg string) error {
	return h.Encoder.Encode(map[string]string{"system": msg})
}
