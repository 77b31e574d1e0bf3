package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// TextChannelName is the input channel reported by TextHandler.
const TextChannelName = "cmdline"

// ContentRenderer transforms reply text before it is printed,
// e.g. markdown to ANSI.
type ContentRenderer func(string) (string, error)

// TextHandler implements the standard text-based interface.
// Buttons are listed with a number; typing the number sends the button payload.
type TextHandler struct {
	Reader      *bufio.Reader
	Writer      io.Writer
	Renderer    ContentRenderer
	Interactive bool

	mu      sync.Mutex
	buttons []domain.Button

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer configures the content renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Reader:      bufio.NewReader(r),
		Writer:      w,
		Interactive: isTerminal(r),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) Name() string { return TextChannelName }

// Send prints a bot reply.
func (h *TextHandler) Send(_ context.Context, _ string, msg ports.BotMessage) error {
	if msg.Text != "" {
		output := msg.Text
		if h.Renderer != nil {
			if rendered, err := h.Renderer(msg.Text); err == nil {
				output = rendered
			}
		}
		fmt.Fprintln(h.Writer, strings.TrimSpace(output))
	}
	if msg.Image != "" {
		fmt.Fprintf(h.Writer, "Image: %s\n", msg.Image)
	}
	for i, b := range msg.Buttons {
		fmt.Fprintf(h.Writer, "  %d: %s (%s)\n", i+1, b.Title, b.Payload)
	}
	if len(msg.Custom) > 0 {
		fmt.Fprintf(h.Writer, "Custom: %v\n", msg.Custom)
	}

	if len(msg.Buttons) > 0 {
		h.mu.Lock()
		h.buttons = msg.Buttons
		h.mu.Unlock()
	}
	return nil
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult, DefaultInputBufferSize)
		go h.pump()
	})
}

func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')

		// If we got text (even with EOF), send it
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				h.inputChan <- inputResult{err: err}
			}
			close(h.inputChan)
			return
		}
	}
}

// Input reads one line. A number matching a button listed since the last
// input is replaced by that button's payload.
func (h *TextHandler) Input(ctx context.Context) (string, error) {
	h.initPump()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			fmt.Fprint(h.Writer, "> ")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-h.inputChan:
			if !ok {
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}

			clean, err := SanitizeInput(strings.TrimSpace(res.text))
			if err != nil {
				fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
				continue
			}
			return h.selectButton(clean), nil
		}
	}
}

func (h *TextHandler) selectButton(text string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	buttons := h.buttons
	h.buttons = nil

	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(buttons) {
		return text
	}
	return buttons[n-1].Payload
}

func (h *TextHandler) SystemOutput(_ context.Context, msg string) error {
	_, err := fmt.Fprintf(h.Writer, "[System] %s\n", msg)
	return err
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
