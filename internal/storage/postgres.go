package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/config"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// Store reads generation inputs from Postgres:
//
//	data_sources(id text primary key, name text)
//	data_rows(data_source_id text, row_index int, data jsonb)
//	generation_rules(id text primary key, definition jsonb)
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// DataSource returns nil, nil when id is unknown.
func (s *Store) DataSource(ctx context.Context, id string) (*engine.DataSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var ds engine.DataSource
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM data_sources WHERE id = $1`, id).Scan(&ds.ID, &ds.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query data source: %w", err)
	}
	return &ds, nil
}

// DataRows loads every row of a data source ordered by row index.
func (s *Store) DataRows(ctx context.Context, id string) ([]variables.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data
		FROM data_rows
		WHERE data_source_id = $1
		ORDER BY row_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query data rows: %w", err)
	}
	defer rows.Close()

	var out []variables.Row
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var r variables.Row
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", len(out), err)
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Rule returns the raw rule definition, or nil when id is unknown.
func (s *Store) Rule(ctx context.Context, id string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT definition FROM generation_rules WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query rule: %w", err)
	}
	return raw, nil
}

// LoadRules loads every rule definition keyed by id.
func (s *Store) LoadRules(ctx context.Context) (map[string]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id, definition FROM generation_rules`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out[id] = raw
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
