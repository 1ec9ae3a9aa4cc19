package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-relay/pkg/utils"
)

// Schema creates call_history and call_correlations.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS call_history (
  call_id               TEXT PRIMARY KEY,
  tenant_id             TEXT NOT NULL,
  call_sid              TEXT NOT NULL,
  request_id            TEXT NOT NULL DEFAULT '',
  phone                 TEXT NOT NULL DEFAULT '',
  from_number           TEXT NOT NULL DEFAULT '',
  agent_id              TEXT NOT NULL DEFAULT '',
  direction             TEXT NOT NULL,
  start_time            TIMESTAMPTZ NOT NULL,
  end_time              TIMESTAMPTZ,
  duration              INT NOT NULL DEFAULT 0,
  status                TEXT NOT NULL DEFAULT '',
  is_booking_successful BOOLEAN NOT NULL DEFAULT FALSE,
  conversation_id       TEXT NOT NULL DEFAULT '',
  admin_initiated       BOOLEAN NOT NULL DEFAULT FALSE,
  call_outcome          TEXT NOT NULL DEFAULT '',
  call_summary          TEXT NOT NULL DEFAULT '',
  call_transcript       TEXT NOT NULL DEFAULT '',
  call_sentiment        TEXT NOT NULL DEFAULT '',
  next_action           TEXT NOT NULL DEFAULT '',
  transcript_url        TEXT NOT NULL DEFAULT '',
  created_at            TIMESTAMPTZ NOT NULL,
  updated_at            TIMESTAMPTZ NOT NULL,
  UNIQUE (tenant_id, call_sid)
)`,
	`CREATE INDEX IF NOT EXISTS call_history_tenant_start_idx ON call_history (tenant_id, start_time DESC)`,
	`CREATE INDEX IF NOT EXISTS call_history_agent_idx ON call_history (tenant_id, agent_id, start_time)`,
	`
CREATE TABLE IF NOT EXISTS call_correlations (
  call_sid   TEXT PRIMARY KEY,
  tenant_id  TEXT NOT NULL,
  agent_id   TEXT NOT NULL DEFAULT '',
  direction  TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
}

const entryColumns = `
call_id, tenant_id, call_sid, request_id, phone, from_number, agent_id, direction, start_time,
end_time, duration, status, is_booking_successful, conversation_id, admin_initiated,
call_outcome, call_summary, call_transcript, call_sentiment, next_action, transcript_url,
created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e         Entry
		end       sql.NullTime
		direction string
		sentiment string
	)
	if err := row.Scan(
		&e.CallID,
		&e.TenantID,
		&e.CallData.CallSid,
		&e.CallData.RequestID,
		&e.CallData.Phone,
		&e.CallData.From,
		&e.CallData.AgentID,
		&direction,
		&e.CallData.StartTime,
		&end,
		&e.CallData.Duration,
		&e.CallData.Status,
		&e.CallData.IsBookingSuccessful,
		&e.CallData.ConversationID,
		&e.CallData.AdminInitiated,
		&e.Details.CallOutcome,
		&e.Details.CallSummary,
		&e.Details.CallTranscript,
		&sentiment,
		&e.Details.NextAction,
		&e.Details.TranscriptURL,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.CallData.Direction = Direction(direction)
	e.Details.CallSentiment = Sentiment(sentiment)
	if end.Valid {
		v := end.Time
		e.CallData.EndTime = &v
	}
	return e, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, e Entry) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_history (` + entryColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
ON CONFLICT (tenant_id, call_sid) DO NOTHING
`
		var end sql.NullTime
		if e.CallData.EndTime != nil {
			end = sql.NullTime{Time: *e.CallData.EndTime, Valid: true}
		}
		res, err := tx.ExecContext(ctx, q,
			e.CallID,
			e.TenantID,
			e.CallData.CallSid,
			e.CallData.RequestID,
			e.CallData.Phone,
			e.CallData.From,
			e.CallData.AgentID,
			string(e.CallData.Direction),
			e.CallData.StartTime,
			end,
			e.CallData.Duration,
			e.CallData.Status,
			e.CallData.IsBookingSuccessful,
			e.CallData.ConversationID,
			e.CallData.AdminInitiated,
			e.Details.CallOutcome,
			e.Details.CallSummary,
			e.Details.CallTranscript,
			string(e.Details.CallSentiment),
			e.Details.NextAction,
			e.Details.TranscriptURL,
			e.CreatedAt,
			e.UpdatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrDuplicate
		}

		const cq = `
INSERT INTO call_correlations (call_sid, tenant_id, agent_id, direction, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (call_sid) DO NOTHING
`
		_, err = tx.ExecContext(ctx, cq,
			e.CallData.CallSid,
			e.TenantID,
			e.CallData.AgentID,
			string(e.CallData.Direction),
			e.CreatedAt,
		)
		return err
	})
}

func (r *PostgresRepo) Correlation(ctx context.Context, callSid string) (Correlation, error) {
	const q = `
SELECT call_sid, tenant_id, agent_id, direction, created_at
FROM call_correlations
WHERE call_sid = $1
`
	var (
		c         Correlation
		direction string
	)
	if err := r.db.QueryRowContext(ctx, q, callSid).Scan(&c.CallSid, &c.TenantID, &c.AgentID, &direction, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Correlation{}, ErrNotFound
		}
		return Correlation{}, err
	}
	c.Direction = Direction(direction)
	return c, nil
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, callSid string) (Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM call_history WHERE tenant_id = $1 AND call_sid = $2`
	return scanEntry(r.db.QueryRowContext(ctx, q, tenantID, callSid))
}

func (r *PostgresRepo) Update(ctx context.Context, tenantID, callSid string, p Patch, now time.Time) error {
	var sentiment *string
	if p.CallSentiment != nil {
		s := string(*p.CallSentiment)
		sentiment = &s
	}
	const q = `
UPDATE call_history SET
  status                = COALESCE($3, status),
  end_time              = COALESCE($4, end_time),
  duration              = COALESCE($5, duration),
  conversation_id       = COALESCE($6, conversation_id),
  is_booking_successful = COALESCE($7, is_booking_successful),
  call_outcome          = COALESCE($8, call_outcome),
  call_summary          = COALESCE($9, call_summary),
  call_transcript       = COALESCE($10, call_transcript),
  call_sentiment        = COALESCE($11, call_sentiment),
  next_action           = COALESCE($12, next_action),
  transcript_url        = COALESCE($13, transcript_url),
  updated_at            = $14
WHERE tenant_id = $1 AND call_sid = $2
`
	res, err := r.db.ExecContext(ctx, q,
		tenantID,
		callSid,
		p.Status,
		p.EndTime,
		p.Duration,
		p.ConversationID,
		p.IsBookingSuccessful,
		p.CallOutcome,
		p.CallSummary,
		p.CallTranscript,
		sentiment,
		p.NextAction,
		p.TranscriptURL,
		now,
	)
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

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Entry, int, error) {
	where := []string{"1=1"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.Since.IsZero() {
		add("start_time >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("start_time < $%d", f.Until)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_history WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + entryColumns + ` FROM call_history WHERE ` + cond + ` ORDER BY start_time DESC`
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

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepo) Stats(ctx context.Context, tenantID string, recentSince time.Time) (Stats, error) {
	s := Stats{ByOutcome: map[string]int{}, ByStatus: map[string]int{}}

	const tq = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE start_time >= $2)
FROM call_history
WHERE ($1 = '' OR tenant_id = $1)
`
	if err := r.db.QueryRowContext(ctx, tq, tenantID, recentSince).Scan(&s.Total, &s.Recent); err != nil {
		return Stats{}, err
	}

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"call_outcome", s.ByOutcome},
		{"status", s.ByStatus},
	}
	for _, g := range groups {
		q := `
SELECT ` + g.column + `, COUNT(*)
FROM call_history
WHERE ($1 = '' OR tenant_id = $1) AND ` + g.column + ` <> ''
GROUP BY ` + g.column
		if err := func() error {
			rows, err := r.db.QueryContext(ctx, q, tenantID)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var (
					k string
					n int
				)
				if err := rows.Scan(&k, &n); err != nil {
					return err
				}
				g.into[k] = n
			}
			return rows.Err()
		}(); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}
