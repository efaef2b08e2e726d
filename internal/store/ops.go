package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

// UpsertEndpoint inserts a new Proxy or returns the existing one for the
// (protocol, ip, port) triple, per spec.md §4.1. Idempotent: calling it
// repeatedly for the same triple creates exactly one row.
func (s *Store) UpsertEndpoint(ctx context.Context, proto proxyurl.Protocol, ip uint32, port uint16) (*Proxy, error) {
	var p *Proxy
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proxy (protocol, ip, port, status, test_count, fail_count, created_at, modified_at)
			VALUES (?, ?, ?, ?, 0, 0, ?, ?)
			ON CONFLICT(protocol, ip, port) DO NOTHING
		`, int(proto), ip, port, int(StatusNew), now, now)
		if err != nil {
			return fmt.Errorf("store: upsert: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT id, protocol, ip, port, country, status, latency_ms, anonymous,
			       test_count, fail_count, last_tested_at, created_at, modified_at
			FROM proxy WHERE protocol = ? AND ip = ? AND port = ?
		`, int(proto), ip, port)
		p, err = scanProxy(row)
		return err
	})
	return p, err
}

// ClaimBatch atomically selects up to limit claimable endpoints for proto
// and marks them TESTING, per spec.md §4.1. A claim is conservative: the
// caller is now the endpoint's sole owner until it releases or the
// stale-claim sweep recovers it.
func (s *Store) ClaimBatch(ctx context.Context, proto proxyurl.Protocol, limit int, notTestedWithin time.Duration) ([]*Proxy, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []*Proxy
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cutoff := time.Now().UTC().Add(-notTestedWithin)

		rows, err := tx.QueryContext(ctx, `
			SELECT id, protocol, ip, port, country, status, latency_ms, anonymous,
			       test_count, fail_count, last_tested_at, created_at, modified_at
			FROM proxy
			WHERE protocol = ?
			  AND status NOT IN (?, ?)
			  AND (last_tested_at IS NULL OR last_tested_at < ?)
			ORDER BY (last_tested_at IS NOT NULL), last_tested_at ASC, created_at ASC
			LIMIT ?
		`, int(proto), int(StatusTesting), int(StatusBanned), cutoff, limit)
		if err != nil {
			return fmt.Errorf("store: claim select: %w", err)
		}

		var ids []int64
		for rows.Next() {
			p, err := scanProxyRows(rows)
			if err != nil {
				rows.Close()
				return err
			}
			claimed = append(claimed, p)
			ids = append(ids, p.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(ids) == 0 {
			return nil
		}

		now := time.Now().UTC()
		stmt, err := tx.PrepareContext(ctx, `UPDATE proxy SET status = ?, modified_at = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("store: claim update prepare: %w", err)
		}
		defer stmt.Close()

		for _, p := range claimed {
			if _, err := stmt.ExecContext(ctx, int(StatusTesting), now, p.ID); err != nil {
				return fmt.Errorf("store: claim update: %w", err)
			}
			p.Status = StatusTesting
			p.ModifiedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Release records verdict as a new ProxyTest row and updates the Proxy's
// mutable fields in a single transaction, per spec.md §4.1.
func (s *Store) Release(ctx context.Context, proxyID int64, v Verdict) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT fail_count FROM proxy WHERE id = ?`, proxyID)
		var failCount int
		if err := row.Scan(&failCount); err != nil {
			return fmt.Errorf("store: release lookup: %w", err)
		}

		newStatus, newFailCount := nextState(v.Outcome, failCount, s.banAt)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proxy_test (proxy_id, outcome, latency_ms, started_at, finished_at, info)
			VALUES (?, ?, ?, ?, ?, ?)
		`, proxyID, int(v.Outcome), nullableInt(v.LatencyMs), v.StartedAt, v.FinishedAt, v.Info); err != nil {
			return fmt.Errorf("store: insert test: %w", err)
		}

		var country interface{}
		if v.Country != "" {
			country = v.Country
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE proxy SET
				status = ?,
				country = COALESCE(?, country),
				latency_ms = ?,
				anonymous = ?,
				last_tested_at = ?,
				test_count = test_count + 1,
				fail_count = ?,
				modified_at = ?
			WHERE id = ?
		`, int(newStatus), country, nullableInt(v.LatencyMs), int(v.Anonymous),
			v.FinishedAt, newFailCount, v.FinishedAt, proxyID); err != nil {
			return fmt.Errorf("store: update proxy: %w", err)
		}
		return nil
	})
}

// nextState computes the Proxy's post-release status and fail_count from
// the verdict outcome, per spec.md §4.1: OK -> OK; TIMEOUT/BAD_RESPONSE ->
// FAIL; CONN_REFUSED/TIMEOUT repeated banThreshold times -> BANNED;
// FORBIDDEN_COUNTRY -> BANNED immediately.
func nextState(outcome Outcome, priorFailCount, banThreshold int) (Status, int) {
	if outcome == OutcomeForbiddenCountry {
		return StatusBanned, priorFailCount
	}
	if outcome == OutcomeOK {
		return StatusOK, 0
	}

	failCount := priorFailCount
	if outcome.isBanWorthy() {
		failCount++
	} else {
		failCount = 0
	}

	if failCount >= banThreshold {
		return StatusBanned, failCount
	}
	return StatusFail, failCount
}

// RecoverStale resets any Proxy stuck in TESTING longer than grace back to
// FAIL, recording a synthetic INTERNAL_ERROR ProxyTest row, per spec.md
// §4.1. Idempotent within a single invocation window: once reset, a row
// no longer matches the TESTING predicate.
func (s *Store) RecoverStale(ctx context.Context, grace time.Duration) (int64, error) {
	var recovered int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cutoff := time.Now().UTC().Add(-grace)

		rows, err := tx.QueryContext(ctx, `SELECT id FROM proxy WHERE status = ? AND modified_at < ?`, int(StatusTesting), cutoff)
		if err != nil {
			return fmt.Errorf("store: recover select: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now().UTC()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO proxy_test (proxy_id, outcome, latency_ms, started_at, finished_at, info)
				VALUES (?, ?, NULL, ?, ?, ?)
			`, id, int(OutcomeInternalError), now, now, "stale claim recovered"); err != nil {
				return fmt.Errorf("store: recover insert test: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE proxy SET status = ?, last_tested_at = ?, fail_count = fail_count + 1,
					test_count = test_count + 1, modified_at = ?
				WHERE id = ?
			`, int(StatusFail), now, now, id); err != nil {
				return fmt.Errorf("store: recover update: %w", err)
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

// TopWorking returns the limit OK endpoints for proto with lowest latency,
// excluding ignoreCountries, per spec.md §4.1 and Testable Property 4.
func (s *Store) TopWorking(ctx context.Context, proto proxyurl.Protocol, limit int, ignoreCountries []string) ([]*Proxy, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, protocol, ip, port, country, status, latency_ms, anonymous,
		       test_count, fail_count, last_tested_at, created_at, modified_at
		FROM proxy
		WHERE protocol = ? AND status = ?
	`
	args := []interface{}{int(proto), int(StatusOK)}
	for _, c := range ignoreCountries {
		query += " AND (country IS NULL OR country != ?)"
		args = append(args, c)
	}
	query += " ORDER BY latency_ms ASC, last_tested_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: top working: %w", err)
	}
	defer rows.Close()

	var out []*Proxy
	for rows.Next() {
		p, err := scanProxyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats returns the current per-status counters.
func (s *Store) Stats(ctx context.Context) (Counters, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM proxy GROUP BY status`)
	if err != nil {
		return Counters{}, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()

	var c Counters
	for rows.Next() {
		var status, count int
		if err := rows.Scan(&status, &count); err != nil {
			return Counters{}, err
		}
		switch Status(status) {
		case StatusNew:
			c.New = count
		case StatusTesting:
			c.Testing = count
		case StatusOK:
			c.OK = count
		case StatusFail:
			c.Fail = count
		case StatusBanned:
			c.Banned = count
		}
	}
	return c, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProxy(row *sql.Row) (*Proxy, error) { return scanProxyGeneric(row) }

func scanProxyRows(rows *sql.Rows) (*Proxy, error) { return scanProxyGeneric(rows) }

func scanProxyGeneric(r rowScanner) (*Proxy, error) {
	var (
		p            Proxy
		protocol     int
		status       int
		anonymous    int
		country      sql.NullString
		latencyMs    sql.NullInt64
		lastTestedAt sql.NullTime
	)

	if err := r.Scan(&p.ID, &protocol, &p.IP, &p.Port, &country, &status, &latencyMs,
		&anonymous, &p.TestCount, &p.FailCount, &lastTestedAt, &p.CreatedAt, &p.ModifiedAt); err != nil {
		return nil, fmt.Errorf("store: scan proxy: %w", err)
	}

	p.Protocol = proxyurl.Protocol(protocol)
	p.Status = Status(status)
	p.Anonymous = Anonymity(anonymous)
	if country.Valid {
		p.Country = country.String
	}
	if latencyMs.Valid {
		v := int(latencyMs.Int64)
		p.LatencyMs = &v
	}
	if lastTestedAt.Valid {
		t := lastTestedAt.Time
		p.LastTestedAt = &t
	}
	return &p, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
