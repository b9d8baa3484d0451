package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresBackend persists sessions in Postgres. The full state is stored as
// JSONB; the indexed columns exist for listing and cleanup queries.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend opens a connection pool against the given DSN.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Save(ctx context.Context, st *State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", st.ID, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO sessions (id, format, status, current_phase, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_phase = EXCLUDED.current_phase,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, st.ID, st.Format, st.Status, st.CurrentPhase, payload, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", st.ID, err)
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, id string) (*State, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &st, nil
}

func (b *PostgresBackend) List(ctx context.Context) ([]Summary, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, format, status, current_phase, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var r Summary
		if err := rows.Scan(&r.ID, &r.Format, &r.Status, &r.CurrentPhase, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Delete(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (b *PostgresBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	return res.RowsAffected()
}

func (b *PostgresBackend) Close() error { return b.db.Close() }

// DB exposes the pool for migrations.
func (b *PostgresBackend) DB() *sql.DB { return b.db }
