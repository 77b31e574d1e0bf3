// Package postgres stores conversations in PostgreSQL, one row per event.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aretw0/tendril/pkg/domain"
)

// schemaLockID serializes bootstrap DDL across replicas.
const schemaLockID int64 = 2024030109

// Store implements ports.TrackerStore on a tracker_events table. Conversations
// only ever grow, so Save appends the events the table does not have yet.
type Store struct {
	db *sql.DB
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenDB opens a pgx-backed pool and checks the connection.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the events table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS tracker_events (
	id BIGSERIAL PRIMARY KEY,
	sender_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	type_name TEXT NOT NULL,
	timestamp DOUBLE PRECISION NOT NULL,
	data JSONB NOT NULL,
	UNIQUE (sender_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_tracker_events_sender ON tracker_events(sender_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Save appends the events of dlg the table does not hold yet. A stored log
// longer than dlg is rewritten from scratch.
func (s *Store) Save(ctx context.Context, dlg *domain.Dialogue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dlg.SenderID); err != nil {
		return fmt.Errorf("acquire conversation lock: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracker_events WHERE sender_id = $1`, dlg.SenderID).Scan(&stored); err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	if stored > len(dlg.Events) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracker_events WHERE sender_id = $1`, dlg.SenderID); err != nil {
			return fmt.Errorf("reset events: %w", err)
		}
		stored = 0
	}

	for seq := stored; seq < len(dlg.Events); seq++ {
		e := dlg.Events[seq]
		data, err := domain.MarshalEvent(e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO tracker_events (sender_id, seq, type_name, timestamp, data)
VALUES ($1, $2, $3, $4, $5)
`, dlg.SenderID, seq, string(e.Type()), unixSeconds(e.Time()), data)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

// Load reads the events of a conversation in order.
func (s *Store) Load(ctx context.Context, senderID string) (*domain.Dialogue, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT data FROM tracker_events
WHERE sender_id = $1
ORDER BY seq
`, senderID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events domain.Events
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e, err := domain.UnmarshalEvent(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if len(events) == 0 {
		return nil, domain.ErrConversationNotFound
	}
	return &domain.Dialogue{SenderID: senderID, Events: events}, nil
}

// Delete removes every event of the conversation.
func (s *Store) Delete(ctx context.Context, senderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracker_events WHERE sender_id = $1`, senderID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

// List returns the ids of stored conversations, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sender_id FROM tracker_events ORDER BY sender_id`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
