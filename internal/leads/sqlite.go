package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so call_date compares lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists leads and results in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps pragmas and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if err := applyMigrations(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

const leadColumnsSQL = `phone, business_name, contact_name, business_type, company_size, current_challenges, best_call_time, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var l Lead
	var status string
	if err := row.Scan(&l.Phone, &l.BusinessName, &l.ContactName, &l.Category, &l.SizeTier, &l.Challenges, &l.BestCallTime, &status); err != nil {
		return Lead{}, err
	}
	l.Status = Status(status)
	return l, nil
}

func (s *SQLiteStore) queryLeads(ctx context.Context, where string, args ...any) ([]Lead, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumnsSQL+` FROM leads `+where+` ORDER BY id`, args...)
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

func (s *SQLiteStore) ListPending(ctx context.Context) ([]Lead, error) {
	return s.queryLeads(ctx, `WHERE status = ?`, string(StatusPending))
}

func (s *SQLiteStore) ListLeads(ctx context.Context) ([]Lead, error) {
	return s.queryLeads(ctx, ``)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, phone string, status Status) error {
	if phone == "" {
		return ErrLeadNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM leads WHERE phone = ? ORDER BY id LIMIT 1`, phone).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLeadNotFound
	}
	if err != nil {
		return fmt.Errorf("load lead status: %w", err)
	}
	if err := checkTransition(phone, Status(current), status); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE phone = ?`,
		string(status), time.Now().UTC().Format(sqliteTimeLayout), phone,
	); err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendResult(ctx context.Context, result Result) error {
	if result.CallDate.IsZero() {
		result.CallDate = time.Now().UTC()
	}
	leadJSON, outcomeJSON, err := encodeResult(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_results (token, call_sid, phone, call_status, interest_level, scheduled_meeting, lead_json, outcome_json, call_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.Token,
		result.CallSID,
		result.Lead.Phone,
		result.Outcome.CallStatus,
		result.Outcome.InterestLevel,
		result.Outcome.ScheduledMeeting,
		string(leadJSON),
		string(outcomeJSON),
		result.CallDate.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryResults(ctx context.Context, query string, args ...any) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var (
			r                     Result
			leadJSON, outcomeJSON string
			callDate              string
		)
		if err := rows.Scan(&r.Token, &r.CallSID, &leadJSON, &outcomeJSON, &callDate); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := decodeResult(&r, []byte(leadJSON), []byte(outcomeJSON)); err != nil {
			return nil, err
		}
		if r.CallDate, err = time.Parse(sqliteTimeLayout, callDate); err != nil {
			return nil, fmt.Errorf("parse call_date: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFailedSince(ctx context.Context, since time.Time) ([]Result, error) {
	return s.queryResults(ctx,
		`SELECT token, call_sid, lead_json, outcome_json, call_date FROM call_results
		 WHERE call_status = ? AND call_date >= ? ORDER BY id`,
		CallFailed, since.UTC().Format(sqliteTimeLayout),
	)
}

func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]Result, error) {
	all, err := s.queryResults(ctx, `SELECT token, call_sid, lead_json, outcome_json, call_date FROM call_results ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return limitResults(all, limit), nil
}

func (s *SQLiteStore) ImportLeads(ctx context.Context, in []Lead) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(sqliteTimeLayout)
	for _, l := range in {
		l = NormalizeLead(l)
		if l.Phone != "" {
			res, err := tx.ExecContext(ctx,
				`UPDATE leads SET business_name = ?, contact_name = ?, business_type = ?, company_size = ?,
				 current_challenges = ?, best_call_time = ?, status = ?, updated_at = ? WHERE phone = ?`,
				l.BusinessName, l.ContactName, l.Category, l.SizeTier, l.Challenges, l.BestCallTime, string(l.Status), now, l.Phone,
			)
			if err != nil {
				return 0, fmt.Errorf("update lead %s: %w", l.Phone, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				continue
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leads (`+leadColumnsSQL+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.Phone, l.BusinessName, l.ContactName, l.Category, l.SizeTier, l.Challenges, l.BestCallTime, string(l.Status), now,
		); err != nil {
			return 0, fmt.Errorf("insert lead: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(in), nil
}

func (s *SQLiteStore) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM leads),
			(SELECT COUNT(*) FROM leads WHERE status = 'pending'),
			(SELECT COUNT(*) FROM call_results),
			(SELECT COUNT(*) FROM call_results WHERE call_status = 'answered'),
			(SELECT COUNT(*) FROM call_results WHERE call_status = 'failed'),
			(SELECT COUNT(*) FROM call_results WHERE scheduled_meeting = 1),
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

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeResult(r Result) (leadJSON, outcomeJSON []byte, err error) {
	if leadJSON, err = json.Marshal(r.Lead); err != nil {
		return nil, nil, fmt.Errorf("encode lead: %w", err)
	}
	if outcomeJSON, err = json.Marshal(r.Outcome); err != nil {
		return nil, nil, fmt.Errorf("encode outcome: %w", err)
	}
	return leadJSON, outcomeJSON, nil
}

func decodeResult(r *Result, leadJSON, outcomeJSON []byte) error {
	if err := json.Unmarshal(leadJSON, &r.Lead); err != nil {
		return fmt.Errorf("decode lead: %w", err)
	}
	if err := json.Unmarshal(outcomeJSON, &r.Outcome); err != nil {
		return fmt.Errorf("decode outcome: %w", err)
	}
	return nil
}
