package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"voice-relay/pkg/utils"
)

// NOTE: PostgresRepo assumes the tenants table from Schema exists.
// Agents and client metadata are stored as JSONB documents on the tenant row
// so that the uniqueness check and the write happen under one row lock.

// Schema creates the tenants table.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS tenants (
  client_id           TEXT PRIMARY KEY,
  cal_id              TEXT NOT NULL,
  client_token        TEXT NOT NULL DEFAULT '',
  client_secret       TEXT NOT NULL DEFAULT '',
  access_token        TEXT NOT NULL DEFAULT '',
  refresh_token       TEXT NOT NULL DEFAULT '',
  token_expires_at    TIMESTAMPTZ,
  agent_id            TEXT NOT NULL,
  twilio_phone_number TEXT NOT NULL,
  meeting_title       TEXT NOT NULL DEFAULT 'Consultation',
  meeting_location    TEXT NOT NULL DEFAULT 'Google Meet',
  additional_agents   JSONB NOT NULL DEFAULT '[]',
  status              TEXT NOT NULL DEFAULT 'Active',
  client_meta         JSONB NOT NULL DEFAULT '{}',
  created_at          TIMESTAMPTZ NOT NULL,
  updated_at          TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS tenants_twilio_phone_idx ON tenants (twilio_phone_number)`,
	`CREATE INDEX IF NOT EXISTS tenants_agent_id_idx ON tenants (agent_id)`,
	`CREATE INDEX IF NOT EXISTS tenants_additional_agents_idx ON tenants USING GIN (additional_agents jsonb_path_ops)`,
}

const tenantColumns = `
client_id, cal_id, client_token, client_secret, access_token, refresh_token, token_expires_at,
agent_id, twilio_phone_number, meeting_title, meeting_location, additional_agents, status,
client_meta, created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (Tenant, error) {
	var (
		t      Tenant
		exp    sql.NullTime
		agents []byte
		meta   []byte
		status string
	)
	if err := row.Scan(
		&t.ClientID,
		&t.CalID,
		&t.ClientToken,
		&t.ClientSecret,
		&t.AccessToken,
		&t.RefreshToken,
		&exp,
		&t.AgentID,
		&t.TwilioPhoneNumber,
		&t.MeetingTitle,
		&t.MeetingLocation,
		&agents,
		&status,
		&meta,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	t.Status = Status(status)
	if exp.Valid {
		v := exp.Time
		t.TokenExpiresAt = &v
	}
	if err := json.Unmarshal(agents, &t.AdditionalAgents); err != nil {
		return Tenant{}, fmt.Errorf("decode additional_agents: %w", err)
	}
	if err := json.Unmarshal(meta, &t.ClientMeta); err != nil {
		return Tenant{}, fmt.Errorf("decode client_meta: %w", err)
	}
	return t, nil
}

func encodeDocs(t Tenant) (agents, meta []byte, err error) {
	list := t.AdditionalAgents
	if list == nil {
		list = []Agent{}
	}
	if agents, err = json.Marshal(list); err != nil {
		return nil, nil, err
	}
	if meta, err = json.Marshal(t.ClientMeta); err != nil {
		return nil, nil, err
	}
	return agents, meta, nil
}

func nullTime(t Tenant) sql.NullTime {
	if t.TokenExpiresAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t.TokenExpiresAt, Valid: true}
}

func (r *PostgresRepo) Create(ctx context.Context, t Tenant) error {
	agents, meta, err := encodeDocs(t)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO tenants (` + tenantColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13,$14::jsonb,$15,$16)
`
	_, err = r.db.ExecContext(ctx, q,
		t.ClientID,
		t.CalID,
		t.ClientToken,
		t.ClientSecret,
		t.AccessToken,
		t.RefreshToken,
		nullTime(t),
		t.AgentID,
		t.TwilioPhoneNumber,
		t.MeetingTitle,
		t.MeetingLocation,
		string(agents),
		string(t.Status),
		string(meta),
		t.CreatedAt,
		t.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, clientID string) (Tenant, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE client_id = $1`
	return scanTenant(r.db.QueryRowContext(ctx, q, clientID))
}

func (r *PostgresRepo) FindByNumber(ctx context.Context, phone string, status Status) (Tenant, error) {
	q := `
SELECT ` + tenantColumns + `
FROM tenants
WHERE (twilio_phone_number = $1
       OR additional_agents @> jsonb_build_array(jsonb_build_object('twilioPhoneNumber', $1::text)))
  AND ($2 = '' OR status = $2)
ORDER BY (twilio_phone_number = $1) DESC, created_at DESC
LIMIT 1
`
	return scanTenant(r.db.QueryRowContext(ctx, q, phone, string(status)))
}

func (r *PostgresRepo) FindByAgentID(ctx context.Context, agentID string, status Status) (Tenant, error) {
	q := `
SELECT ` + tenantColumns + `
FROM tenants
WHERE (agent_id = $1
       OR additional_agents @> jsonb_build_array(jsonb_build_object('agentId', $1::text)))
  AND ($2 = '' OR status = $2)
ORDER BY (agent_id = $1) DESC, created_at DESC
LIMIT 1
`
	return scanTenant(r.db.QueryRowContext(ctx, q, agentID, string(status)))
}

func (r *PostgresRepo) FindByContactPhone(ctx context.Context, phone string, status Status) (Tenant, error) {
	q := `
SELECT ` + tenantColumns + `
FROM tenants
WHERE client_meta->>'phone' = $1
  AND ($2 = '' OR status = $2)
ORDER BY created_at DESC
LIMIT 1
`
	return scanTenant(r.db.QueryRowContext(ctx, q, phone, string(status)))
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Tenant, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(client_meta->>'fullName' ILIKE $%d OR client_meta->>'email' ILIKE $%d OR client_meta->>'businessName' ILIKE $%d)",
			n, n, n))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + cond + ` ORDER BY created_at DESC, client_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Tenant, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, clientID string, fn func(*Tenant) error) (Tenant, error) {
	var out Tenant
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the row so agent uniqueness is checked against the committed set.
		q := `SELECT ` + tenantColumns + ` FROM tenants WHERE client_id = $1 FOR UPDATE`
		t, err := scanTenant(tx.QueryRowContext(ctx, q, clientID))
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		agents, meta, err := encodeDocs(t)
		if err != nil {
			return err
		}
		const uq = `
UPDATE tenants SET
  cal_id = $2, client_token = $3, client_secret = $4, access_token = $5, refresh_token = $6,
  token_expires_at = $7, agent_id = $8, twilio_phone_number = $9, meeting_title = $10,
  meeting_location = $11, additional_agents = $12::jsonb, status = $13, client_meta = $14::jsonb,
  updated_at = $15
WHERE client_id = $1
`
		if _, err := tx.ExecContext(ctx, uq,
			clientID,
			t.CalID,
			t.ClientToken,
			t.ClientSecret,
			t.AccessToken,
			t.RefreshToken,
			nullTime(t),
			t.AgentID,
			t.TwilioPhoneNumber,
			t.MeetingTitle,
			t.MeetingLocation,
			string(agents),
			string(t.Status),
			string(meta),
			t.UpdatedAt,
		); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return Tenant{}, err
	}
	return out, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, clientID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE client_id = $1`, clientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (StatusCounts, error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE status = 'Active'),
  COUNT(*) FILTER (WHERE status = 'Inactive'),
  COUNT(*)
FROM tenants
`
	var c StatusCounts
	if err := r.db.QueryRowContext(ctx, q).Scan(&c.Active, &c.Inactive, &c.Total); err != nil {
		return StatusCounts{}, err
	}
	return c, nil
}
