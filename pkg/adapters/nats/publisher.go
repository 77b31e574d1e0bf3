// Package nats forwards conversation events to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/resilience"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultSubject receives every event unless configured otherwise.
	DefaultSubject = "tendril.events"
	// SenderHeader carries the conversation id on each message.
	SenderHeader = "Tendril-Sender"
)

// Message is the payload published for one event.
type Message struct {
	SenderID string          `json:"sender_id"`
	Event    json.RawMessage `json:"event"`
}

type conn interface {
	PublishMsg(msg *nats.Msg) error
	Close()
}

// Publisher implements ports.EventPublisher.
type Publisher struct {
	conn     conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

// Options configures the connection. Zero values take defaults.
type Options struct {
	Subject              string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Executor             *resilience.Executor
	Logger               *slog.Logger
}

// Connect dials url and returns a publisher.
func Connect(url string, opts Options) (*Publisher, error) {
	opts = opts.withDefaults()
	retry := true
	if opts.RetryOnFailedConnect != nil {
		retry = *opts.RetryOnFailedConnect
	}

	logger := opts.Logger
	nc, err := nats.Connect(
		url,
		nats.Name("tendril"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(retry),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, opts), nil
}

func (o Options) withDefaults() Options {
	if o.Subject == "" {
		o.Subject = DefaultSubject
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

func newPublisher(c conn, opts Options) *Publisher {
	opts = opts.withDefaults()
	return &Publisher{
		conn:     c,
		subject:  opts.Subject,
		executor: opts.Executor,
		logger:   opts.Logger,
	}
}

// Publish sends one message per event, in order.
func (p *Publisher) Publish(ctx context.Context, senderID string, events []domain.Event) error {
	for _, e := range events {
		msg, err := p.message(senderID, e)
		if err != nil {
			return err
		}
		call := func(context.Context) error {
			if err := p.conn.PublishMsg(msg); err != nil {
				return fmt.Errorf("nats publish: %w", err)
			}
			return nil
		}
		if p.executor != nil {
			err = p.executor.Do(ctx, "nats.publish", call, Classify)
		} else {
			err = call(ctx)
		}
		if err != nil {
			return err
		}
	}
	p.logger.Debug("events published", "sender_id", senderID, "count", len(events), "subject", p.subject)
	return nil
}

func (p *Publisher) message(senderID string, e domain.Event) (*nats.Msg, error) {
	raw, err := domain.MarshalEvent(e)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(Message{SenderID: senderID, Event: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Header.Set(SenderHeader, senderID)
	msg.Data = data
	return msg, nil
}

// Close closes the connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

// Classify retries connection failures and ignores cancellation.
func Classify(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Verdict{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Verdict{}
	case resilience.IsOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return resilience.Verdict{Retry: true, Count: true}
	default:
		return resilience.Verdict{Count: true}
	}
}
