package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces tracker keys.
const DefaultPrefix = "tendril:tracker:"

// neverExpires scores index entries of stores without a TTL (2100-01-01).
const neverExpires = 4102444800

// Store implements ports.TrackerStore on Redis. Each conversation is one JSON
// value under prefix+senderID. The sorted set prefix+"index" scores every
// sender by the unix time its value expires, so List can skip dead ones
// without a SCAN.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL expires a conversation ttl after its last save. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewFromClient wraps a client owned by the store from now on: Close closes it.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(senderID string) string { return s.prefix + senderID }

func (s *Store) indexKey() string { return s.prefix + "index" }

func (s *Store) expiresAt(now time.Time) float64 {
	if s.ttl <= 0 {
		return neverExpires
	}
	return float64(now.Add(s.ttl).Unix())
}

// Save writes the dialogue and refreshes its index entry in one round trip.
func (s *Store) Save(ctx context.Context, dlg *domain.Dialogue) error {
	data, err := json.Marshal(dlg)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", dlg.SenderID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.key(dlg.SenderID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: s.expiresAt(time.Now()), Member: dlg.SenderID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", dlg.SenderID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, senderID string) (*domain.Dialogue, error) {
	data, err := s.client.Get(ctx, s.key(senderID)).Bytes()
	switch {
	case errors.Is(err, backend.Nil):
		return nil, domain.ErrConversationNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to load conversation %s: %w", senderID, err)
	}

	var dlg domain.Dialogue
	if err := json.Unmarshal(data, &dlg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", senderID, err)
	}
	return &dlg, nil
}

func (s *Store) Delete(ctx context.Context, senderID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.key(senderID))
		pipe.ZRem(ctx, s.indexKey(), senderID)
		return nil
	})
	return err
}

// List prunes senders whose value has expired, then returns the rest.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", now).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired conversations: %w", err)
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return ids, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
