package actionserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/resilience"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

const maxBodyBytes = 10 << 20

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Action string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("action server failed to run %q: status %d: %s", e.Action, e.Status, e.Body)
}

// Client implements ports.ActionRunner over HTTP.
type Client struct {
	url        string
	http       *http.Client
	executor   *resilience.Executor
	generator  ports.Generator
	sendDomain bool
	version    string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client with a 10s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithExecutor retries failed calls and guards the server with a breaker.
func WithExecutor(e *resilience.Executor) Option {
	return func(cl *Client) { cl.executor = e }
}

// WithGenerator renders templates named in action responses.
func WithGenerator(g ports.Generator) Option {
	return func(cl *Client) { cl.generator = g }
}

// WithoutDomain omits the domain from requests.
func WithoutDomain() Option {
	return func(cl *Client) { cl.sendDomain = false }
}

// WithVersion sets the version reported to the server.
func WithVersion(v string) Option {
	return func(cl *Client) { cl.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New returns a client for the webhook at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		http:       &http.Client{Timeout: 10 * time.Second},
		sendDomain: true,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes action remotely.
func (c *Client) Run(ctx context.Context, action string, tracker *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
	req := NewRequest(action, tracker, d, c.sendDomain)
	req.Version = c.version
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request for %s: %w", action, err)
	}

	var body []byte
	call := func(ctx context.Context) error {
		body, err = c.post(ctx, action, payload)
		return err
	}
	if c.executor != nil {
		err = c.executor.Do(ctx, "actionserver."+action, call, Classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	events, err := Decode(ctx, body, tracker, c.generator)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action, err)
	}
	c.logger.Debug("custom action executed", "action", action, "sender_id", tracker.SenderID(), "events", len(events))
	return events, nil
}

func (c *Client) post(ctx context.Context, action string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach action server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read action server response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, Rejection(action, body)
	default:
		return nil, &StatusError{Action: action, Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
}

// Classify retries network errors and 5xx statuses. Rejections are answers,
// not failures.
func Classify(err error) resilience.Verdict {
	var rejection *ports.Rejection
	var status *StatusError
	switch {
	case err == nil, errors.As(err, &rejection):
		return resilience.Verdict{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Verdict{}
	case errors.As(err, &status):
		if status.Status >= 500 || status.Status == http.StatusTooManyRequests {
			return resilience.Verdict{Retry: true, Count: true}
		}
		return resilience.Verdict{Count: true}
	default:
		return resilience.Verdict{Retry: true, Count: true}
	}
}
