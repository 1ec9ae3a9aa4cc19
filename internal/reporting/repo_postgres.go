package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voice-relay/pkg/utils"
)

// Schema creates agent_metrics.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS agent_metrics (
  tenant_id  TEXT NOT NULL,
  agent_id   TEXT NOT NULL,
  period     TEXT NOT NULL,
  source     TEXT NOT NULL,
  metrics    JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (tenant_id, agent_id, period, source)
)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e      Entry
		source string
		doc    []byte
	)
	if err := row.Scan(&e.TenantID, &e.AgentID, &e.Period, &source, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.Source = Source(source)
	if err := json.Unmarshal(doc, &e.Metrics); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *PostgresRepo) Get(ctx context.Context, k Key) (Entry, error) {
	const q = `
SELECT tenant_id, agent_id, period, source, metrics
FROM agent_metrics
WHERE tenant_id = $1 AND agent_id = $2 AND period = $3 AND source = $4
`
	return scanEntry(r.db.QueryRowContext(ctx, q, k.TenantID, k.AgentID, k.Period.String(), string(k.Source)))
}

func (r *PostgresRepo) ListPeriod(ctx context.Context, tenantID string, p Period) ([]Entry, error) {
	const q = `
SELECT tenant_id, agent_id, period, source, metrics
FROM agent_metrics
WHERE tenant_id = $1 AND period = $2
ORDER BY agent_id, source
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, p.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Apply(ctx context.Context, k Key, now time.Time, fn func(*Metrics)) (Entry, error) {
	if k.TenantID == "" || k.AgentID == "" || k.Source == "" || k.Source == SourceCombined {
		return Entry{}, ErrInvalidRequest
	}
	var out Entry
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Create the row first so concurrent increments serialize on its lock.
		const seed = `
INSERT INTO agent_metrics (tenant_id, agent_id, period, source, metrics, updated_at)
VALUES ($1, $2, $3, $4, '{}'::jsonb, $5)
ON CONFLICT (tenant_id, agent_id, period, source) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, seed, k.TenantID, k.AgentID, k.Period.String(), string(k.Source), now); err != nil {
			return err
		}

		const sel = `
SELECT tenant_id, agent_id, period, source, metrics
FROM agent_metrics
WHERE tenant_id = $1 AND agent_id = $2 AND period = $3 AND source = $4
FOR UPDATE
`
		e, err := scanEntry(tx.QueryRowContext(ctx, sel, k.TenantID, k.AgentID, k.Period.String(), string(k.Source)))
		if err != nil {
			return err
		}
		fn(&e.Metrics)
		e.Metrics.LastUpdated = now

		doc, err := json.Marshal(e.Metrics)
		if err != nil {
			return err
		}
		const upd = `
UPDATE agent_metrics SET metrics = $5::jsonb, updated_at = $6
WHERE tenant_id = $1 AND agent_id = $2 AND period = $3 AND source = $4
`
		if _, err := tx.ExecContext(ctx, upd, k.TenantID, k.AgentID, k.Period.String(), string(k.Source), string(doc), now); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}
