package analyzer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mbd888/walletrisk/internal/pagination"
	"github.com/mbd888/walletrisk/internal/risk"
	"github.com/mbd888/walletrisk/migrations"
)

// PostgresStore persists reports in the analyses table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed report store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db)
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Record(ctx context.Context, r *Report) error {
	findings, err := json.Marshal(r.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, address, overall, sanctions_hit, fallbacks, findings, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		r.ID,
		string(r.Address),
		string(r.Overall),
		r.SanctionsHit,
		r.Fallbacks,
		findings,
		r.StartedAt,
		r.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAddress(ctx context.Context, addr risk.Address, limit int, after *pagination.Cursor) ([]*Report, error) {
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT id, address, overall, sanctions_hit, fallbacks, findings, started_at, duration_ms FROM analyses`
	if after == nil {
		rows, err = s.db.QueryContext(ctx, cols+`
			WHERE address = $1
			ORDER BY started_at DESC, id DESC
			LIMIT $2
		`, string(addr), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+`
			WHERE address = $1 AND (started_at, id) < ($2, $3::uuid)
			ORDER BY started_at DESC, id DESC
			LIMIT $4
		`, string(addr), after.At, after.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []*Report{}
	for rows.Next() {
		var (
			r        Report
			address  string
			overall  string
			findings []byte
		)
		if err := rows.Scan(&r.ID, &address, &overall, &r.SanctionsHit, &r.Fallbacks, &findings, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		r.Address = risk.Address(address)
		r.Overall = risk.Band(overall)
		if err := json.Unmarshal(findings, &r.Findings); err != nil {
			return nil, fmt.Errorf("failed to decode findings of %s: %w", r.ID, err)
		}
		r.StartedAt = r.StartedAt.UTC()
		result = append(result, &r)
	}
	return result, rows.Err()
}
