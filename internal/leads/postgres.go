package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStore persists leads and results in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = applyMigrations(ctx, db, goose.DialectPostgres, "migrations/postgres")
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) queryLeads(ctx context.Context, where string, args ...any) ([]Lead, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+leadColumnsSQL+` FROM leads `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()
	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]Lead, error) {
	return s.queryLeads(ctx, `WHERE status = $1`, string(StatusPending))
}

func (s *PostgresStore) ListLeads(ctx context.Context) ([]Lead, error) {
	return s.queryLeads(ctx, ``)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, phone string, status Status) error {
	if phone == "" {
		return ErrLeadNotFound
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM leads WHERE phone = $1 ORDER BY id LIMIT 1 FOR UPDATE`, phone,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLeadNotFound
	}
	if err != nil {
		return fmt.Errorf("load lead status: %w", err)
	}
	if err := checkTransition(phone, Status(current), status); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = now() WHERE phone = $2`, string(status), phone,
	); err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AppendResult(ctx context.Context, result Result) error {
	if result.CallDate.IsZero() {
		result.CallDate = time.Now().UTC()
	}
	leadJSON, outcomeJSON, err := encodeResult(result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_results (token, call_sid, phone, call_status, interest_level, scheduled_meeting, lead_json, outcome_json, call_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		result.Token,
		result.CallSID,
		result.Lead.Phone,
		result.Outcome.CallStatus,
		result.Outcome.InterestLevel,
		result.Outcome.ScheduledMeeting,
		leadJSON,
		outcomeJSON,
		result.CallDate.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryResults(ctx context.Context, query string, args ...any) ([]Result, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var (
			r                     Result
			leadJSON, outcomeJSON []byte
		)
		if err := rows.Scan(&r.Token, &r.CallSID, &leadJSON, &outcomeJSON, &r.CallDate); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := decodeResult(&r, leadJSON, outcomeJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListFailedSince(ctx context.Context, since time.Time) ([]Result, error) {
	return s.queryResults(ctx,
		`SELECT token, call_sid, lead_json, outcome_json, call_date FROM call_results
		 WHERE call_status = $1 AND call_date >= $2 ORDER BY id`,
		CallFailed, since.UTC(),
	)
}

func (s *PostgresStore) ListResults(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		return s.queryResults(ctx, `SELECT token, call_sid, lead_json, outcome_json, call_date FROM call_results ORDER BY id`)
	}
	return s.queryResults(ctx,
		`SELECT token, call_sid, lead_json, outcome_json, call_date FROM (
			SELECT id, token, call_sid, lead_json, outcome_json, call_date FROM call_results ORDER BY id DESC LIMIT $1
		) recent ORDER BY id`, limit)
}

func (s *PostgresStore) ImportLeads(ctx context.Context, in []Lead) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, l := range in {
		l = NormalizeLead(l)
		if l.Phone != "" {
			tag, err := tx.Exec(ctx,
				`UPDATE leads SET business_name = $1, contact_name = $2, business_type = $3, company_size = $4,
				 current_challenges = $5, best_call_time = $6, status = $7, updated_at = now() WHERE phone = $8`,
				l.BusinessName, l.ContactName, l.Category, l.SizeTier, l.Challenges, l.BestCallTime, string(l.Status), l.Phone,
			)
			if err != nil {
				return 0, fmt.Errorf("update lead %s: %w", l.Phone, err)
			}
			if tag.RowsAffected() > 0 {
				continue
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO leads (`+leadColumnsSQL+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			l.Phone, l.BusinessName, l.ContactName, l.Category, l.SizeTier, l.Challenges, l.BestCallTime, string(l.Status),
		); err != nil {
			return 0, fmt.Errorf("insert lead: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(in), nil
}

func (s *PostgresStore) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM leads),
			(SELECT COUNT(*) FROM leads WHERE status = 'pending'),
			(SELECT COUNT(*) FROM call_results),
			(SELECT COUNT(*) FROM call_results WHERE call_status = 'answered'),
			(SELECT COUNT(*) FROM call_results WHERE call_status = 'failed'),
			(SELECT COUNT(*) FROM call_results WHERE scheduled_meeting),
			(SELECT COUNT(*) FROM call_results WHERE interest_level = 'high')`,
	).Scan(
		&stats.TotalLeads,
		&stats.PendingCalls,
		&stats.CompletedCalls,
		&stats.AnsweredCalls,
		&stats.FailedCalls,
		&stats.ScheduledMeetings,
		&stats.HighInterest,
	)
	if err != nil {
		return Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	stats.finish()
	return stats, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
