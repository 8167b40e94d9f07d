package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/walletrisk/internal/risk"
)

// PostgresStore persists webhook subscriptions in PostgreSQL. The table is
// created by the embedded goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `
	SELECT id, url, secret, events, addresses, active, created_at, last_success, last_error, consecutive_failures
	FROM webhooks`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	eventsJSON, addrsJSON, err := encodeLists(sub)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, url, secret, events, addresses, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.URL, sub.Secret, eventsJSON, addrsJSON, sub.Active, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	subs, err := p.scanSubscriptions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return subs[0], nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return p.scanSubscriptions(rows)
}

func (p *PostgresStore) ListByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	// Encoded through json.Marshal so the containment operand is valid JSONB
	eventsJSON, err := json.Marshal([]EventType{eventType})
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, selectColumns+`
		WHERE active = TRUE AND events @> $1::jsonb
		ORDER BY created_at, id
	`, string(eventsJSON))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return p.scanSubscriptions(rows)
}

func (p *PostgresStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhooks SET
			last_success = $2,
			last_error = NULL,
			consecutive_failures = 0
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordFailure increments in a single statement; the SET expressions see
// the row as it was before the update.
func (p *PostgresStore) RecordFailure(ctx context.Context, id, msg string, limit int) (int, bool, error) {
	var failures int
	var active bool
	err := p.db.QueryRowContext(ctx, `
		UPDATE webhooks SET
			last_error = $2,
			consecutive_failures = consecutive_failures + 1,
			active = active AND consecutive_failures + 1 < $3
		WHERE id = $1
		RETURNING consecutive_failures, active
	`, id, msg, limit).Scan(&failures, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, err
	}
	return failures, active, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeLists(sub *Subscription) (events, addrs []byte, err error) {
	if events, err = json.Marshal(sub.Events); err != nil {
		return nil, nil, err
	}
	list := sub.Addresses
	if list == nil {
		list = []risk.Address{}
	}
	if addrs, err = json.Marshal(list); err != nil {
		return nil, nil, err
	}
	return events, addrs, nil
}

func (p *PostgresStore) scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		var eventsJSON, addrsJSON []byte
		var lastSuccess sql.NullTime
		var lastError sql.NullString

		if err := rows.Scan(
			&sub.ID, &sub.URL, &sub.Secret, &eventsJSON, &addrsJSON,
			&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError, &sub.ConsecutiveFailures,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(eventsJSON, &sub.Events); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(addrsJSON, &sub.Addresses); err != nil {
			return nil, err
		}
		if len(sub.Addresses) == 0 {
			sub.Addresses = nil
		}

		if lastSuccess.Valid {
			t := lastSuccess.Time
			sub.LastSuccess = &t
		}
		sub.LastError = lastError.String

		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return subs, nil
}
