// Package postgres provides a PostgreSQL history.Store using pgx/v5
// connection pooling.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bossm747/agentboyong/pkg/history"
)

var _ history.Store = (*Store)(nil)

// Store is a PostgreSQL-backed command history.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and, if configured, applies migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Append inserts one entry.
func (s *Store) Append(ctx context.Context, e history.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO command_history (agent_id, shell_index, session_id, command, executed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.AgentID, e.ShellIndex, e.SessionID, e.Command, e.ExecutedAt)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// List returns the most recent matching entries, oldest first.
func (s *Store) List(ctx context.Context, q history.Query) ([]history.Entry, error) {
	where := "true"
	var args []any
	if q.AgentID != "" {
		args = append(args, q.AgentID)
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if q.ShellIndex >= 0 {
		args = append(args, q.ShellIndex)
		where += fmt.Sprintf(" AND shell_index = $%d", len(args))
	}
	args = append(args, q.EffectiveLimit())

	query := fmt.Sprintf(`
		SELECT agent_id, shell_index, session_id, command, executed_at FROM (
			SELECT id, agent_id, shell_index, session_id, command, executed_at
			FROM command_history
			WHERE %s
			ORDER BY executed_at DESC, id DESC
			LIMIT $%d
		) recent
		ORDER BY executed_at ASC, id ASC
	`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var e history.Entry
		err := row.Scan(&e.AgentID, &e.ShellIndex, &e.SessionID, &e.Command, &e.ExecutedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning history: %w", err)
	}
	return entries, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
