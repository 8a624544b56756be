// Package sqlstore implements store.Store over database/sql. The sqlite and
// postgres packages supply the connection, schema and dialect.
//
// Timestamps are stored as UTC unix nanoseconds in both dialects so that
// round-trips and tie ordering are exact.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tabwarden/tabwarden/internal/model"
	"github.com/tabwarden/tabwarden/internal/store"
)

// Dialect captures the SQL differences between drivers.
type Dialect struct {
	// Numbered switches "?" placeholders to "$1, $2, ...".
	Numbered bool
	// Greatest is the two-argument maximum function (MAX in sqlite,
	// GREATEST in postgres).
	Greatest string
}

// Store is a database/sql backed store.Store.
type Store struct {
	db *sql.DB
	d  Dialect
}

// New wraps an open, migrated database.
func New(db *sql.DB, d Dialect) *Store { return &Store{db: db, d: d} }

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Subjects() store.Subjects { return subjects{s} }
func (s *Store) Usage() store.Usage       { return usage{s} }
func (s *Store) Alerts() store.Alerts     { return alerts{s} }
func (s *Store) Blocks() store.Blocks     { return blocks{s} }

// q rewrites placeholders for the dialect.
func (s *Store) q(query string) string {
	if !s.d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) requireSubject(ctx context.Context, tx *sql.Tx, subjectID string) error {
	var one int
	err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM subjects WHERE subject_id = ?`), subjectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("subject %q: %w", subjectID, model.ErrNotFound)
	}
	return err
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// --- Subjects ---

type subjects struct{ s *Store }

func (x subjects) Create(ctx context.Context, m *model.Subject) (*model.Subject, error) {
	out := *m
	if out.Connectivity == "" {
		out.Connectivity = model.Offline
	}
	if out.CreationTime.IsZero() {
		out.CreationTime = time.Now().UTC()
	}
	res, err := x.s.db.ExecContext(ctx, x.s.q(`
        INSERT INTO subjects (subject_id, connectivity, creation_time)
        VALUES (?, ?, ?)
        ON CONFLICT (subject_id) DO NOTHING
    `), out.SubjectID, string(out.Connectivity), nanos(out.CreationTime))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("subject %q: %w", m.SubjectID, model.ErrConflict)
	}
	out.CreationTime = fromNanos(nanos(out.CreationTime))
	return &out, nil
}

func (x subjects) Get(ctx context.Context, subjectID string) (*model.Subject, error) {
	var (
		out          model.Subject
		conn         string
		hb, seen     sql.NullInt64
		creationTime int64
	)
	err := x.s.db.QueryRowContext(ctx, x.s.q(`
        SELECT subject_id, connectivity, last_heartbeat, last_seen, creation_time
        FROM subjects WHERE subject_id = ?
    `), subjectID).Scan(&out.SubjectID, &conn, &hb, &seen, &creationTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %q: %w", subjectID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	out.Connectivity = model.Connectivity(conn)
	out.LastHeartbeat = nullTime(hb)
	out.LastSeen = nullTime(seen)
	out.CreationTime = fromNanos(creationTime)
	return &out, nil
}

func (x subjects) SetConnectivity(ctx context.Context, subjectID string, c model.Connectivity, at time.Time, heartbeat bool) error {
	var (
		res sql.Result
		err error
	)
	if heartbeat {
		res, err = x.s.db.ExecContext(ctx, x.s.q(`
            UPDATE subjects SET connectivity = ?, last_seen = ?, last_heartbeat = ? WHERE subject_id = ?
        `), string(c), nanos(at), nanos(at), subjectID)
	} else {
		res, err = x.s.db.ExecContext(ctx, x.s.q(`
            UPDATE subjects SET connectivity = ?, last_seen = ? WHERE subject_id = ?
        `), string(c), nanos(at), subjectID)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subject %q: %w", subjectID, model.ErrNotFound)
	}
	return nil
}

// --- Usage ---

type usage struct{ s *Store }

// touch upserts the usage record, keeping the category of an existing row.
func (x usage) touch(ctx context.Context, tx *sql.Tx, subjectID, domain string, at time.Time) error {
	_, err := tx.ExecContext(ctx, x.s.q(fmt.Sprintf(`
        INSERT INTO usage_records (subject_id, domain, category, last_updated)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (subject_id, domain)
        DO UPDATE SET last_updated = %s(usage_records.last_updated, excluded.last_updated)
    `, x.s.d.Greatest)), subjectID, domain, model.DefaultCategory, nanos(at))
	return err
}

func (x usage) AddSeconds(ctx context.Context, inc model.UsageIncrement) error {
	return x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, inc.SubjectID); err != nil {
			return err
		}
		if err := x.touch(ctx, tx, inc.SubjectID, inc.Domain, inc.At); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, x.s.q(`
            INSERT INTO usage_daily (subject_id, domain, usage_day, seconds)
            VALUES (?, ?, ?, ?)
            ON CONFLICT (subject_id, domain, usage_day)
            DO UPDATE SET seconds = usage_daily.seconds + excluded.seconds
        `), inc.SubjectID, inc.Domain, inc.Day, inc.Seconds); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, x.s.q(`
            INSERT INTO activity (subject_id, kind, domain, seconds, ts) VALUES (?, ?, ?, ?, ?)
        `), inc.SubjectID, string(model.ActivityUsage), inc.Domain, inc.Seconds, nanos(inc.At))
		return err
	})
}

func (x usage) AddSearch(ctx context.Context, ins model.SearchInsert) (bool, error) {
	var inserted bool
	err := x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, ins.SubjectID); err != nil {
			return err
		}
		if err := x.touch(ctx, tx, ins.SubjectID, ins.Domain, ins.At); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, x.s.q(`
            INSERT INTO usage_searches (subject_id, domain, search_query) VALUES (?, ?, ?)
            ON CONFLICT (subject_id, domain, search_query) DO NOTHING
        `), ins.SubjectID, ins.Domain, ins.Query)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		inserted = true
		_, err = tx.ExecContext(ctx, x.s.q(`
            INSERT INTO activity (subject_id, kind, domain, search_query, ts) VALUES (?, ?, ?, ?, ?)
        `), ins.SubjectID, string(model.ActivitySearch), ins.Domain, ins.Query, nanos(ins.At))
		return err
	})
	return inserted, err
}

func (x usage) List(ctx context.Context, subjectID string) ([]*model.UsageRecord, error) {
	var out []*model.UsageRecord
	err := x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		byDomain := map[string]*model.UsageRecord{}

		rows, err := tx.QueryContext(ctx, x.s.q(`
            SELECT domain, category, last_updated FROM usage_records
            WHERE subject_id = ? ORDER BY domain
        `), subjectID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var r model.UsageRecord
			var last int64
			if err := rows.Scan(&r.Domain, &r.Category, &last); err != nil {
				_ = rows.Close()
				return err
			}
			r.SubjectID = subjectID
			r.LastUpdated = fromNanos(last)
			r.Daily = map[string]int64{}
			r.Searches = []string{}
			byDomain[r.Domain] = &r
			out = append(out, &r)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, x.s.q(`
            SELECT domain, usage_day, seconds FROM usage_daily WHERE subject_id = ?
        `), subjectID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var domain, day string
			var secs int64
			if err := rows.Scan(&domain, &day, &secs); err != nil {
				_ = rows.Close()
				return err
			}
			if r, ok := byDomain[domain]; ok {
				r.Daily[day] = secs
			}
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, x.s.q(`
            SELECT domain, search_query FROM usage_searches WHERE subject_id = ? ORDER BY id
        `), subjectID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var domain, q string
			if err := rows.Scan(&domain, &q); err != nil {
				return err
			}
			if r, ok := byDomain[domain]; ok {
				r.Searches = append(r.Searches, q)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x usage) SetCategory(ctx context.Context, subjectID, domain, category string) error {
	res, err := x.s.db.ExecContext(ctx, x.s.q(`
        UPDATE usage_records SET category = ? WHERE subject_id = ? AND domain = ?
    `), category, subjectID, domain)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("usage record %q: %w", domain, model.ErrNotFound)
	}
	return nil
}

func (x usage) Activity(ctx context.Context, subjectID string, tf model.Timeframe) ([]model.ActivityItem, error) {
	query := `SELECT seq, kind, domain, search_query, seconds, ts FROM activity WHERE subject_id = ?`
	args := []any{subjectID}
	if !tf.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, nanos(tf.Since))
	}
	if !tf.Until.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, nanos(tf.Until))
	}
	query += ` ORDER BY ts DESC, seq ASC`

	var out []model.ActivityItem
	err := x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, x.s.q(query), args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var it model.ActivityItem
			var kind string
			var ts int64
			if err := rows.Scan(&it.Seq, &kind, &it.Domain, &it.Query, &it.Seconds, &ts); err != nil {
				return err
			}
			it.Kind = model.ActivityKind(kind)
			it.Timestamp = fromNanos(ts)
			out = append(out, it)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Alerts ---

type alerts struct{ s *Store }

func (x alerts) Append(ctx context.Context, a *model.IncognitoAlert) error {
	return x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, a.SubjectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, x.s.q(`
            INSERT INTO incognito_alerts (alert_id, subject_id, url, ts) VALUES (?, ?, ?, ?)
        `), a.AlertID, a.SubjectID, a.URL, nanos(a.Timestamp))
		return err
	})
}

func (x alerts) List(ctx context.Context, subjectID string) ([]*model.IncognitoAlert, error) {
	var out []*model.IncognitoAlert
	err := x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, x.s.q(`
            SELECT alert_id, url, ts FROM incognito_alerts WHERE subject_id = ? ORDER BY seq
        `), subjectID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			a := &model.IncognitoAlert{SubjectID: subjectID}
			var ts int64
			if err := rows.Scan(&a.AlertID, &a.URL, &ts); err != nil {
				return err
			}
			a.Timestamp = fromNanos(ts)
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x alerts) Clear(ctx context.Context, subjectID string) (int, error) {
	var n int64
	err := x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, x.s.q(`DELETE FROM incognito_alerts WHERE subject_id = ?`), subjectID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// --- Blocks ---

type blocks struct{ s *Store }

func (x blocks) Add(ctx context.Context, subjectID, domain string) error {
	return x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, x.s.q(`
            INSERT INTO blocked_domains (subject_id, domain) VALUES (?, ?)
            ON CONFLICT (subject_id, domain) DO NOTHING
        `), subjectID, domain)
		return err
	})
}

func (x blocks) Remove(ctx context.Context, subjectID, domain string) error {
	return x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, x.s.q(`
            DELETE FROM blocked_domains WHERE subject_id = ? AND domain = ?
        `), subjectID, domain)
		return err
	})
}

func (x blocks) Contains(ctx context.Context, subjectID, domain string) (bool, error) {
	var found bool
	err := x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		var one int
		err := tx.QueryRowContext(ctx, x.s.q(`
            SELECT 1 FROM blocked_domains WHERE subject_id = ? AND domain = ?
        `), subjectID, domain).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (x blocks) List(ctx context.Context, subjectID string) ([]string, error) {
	var out []string
	err := x.s.tx(ctx, func(tx *sql.Tx) error {
		if err := x.s.requireSubject(ctx, tx, subjectID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, x.s.q(`
            SELECT domain FROM blocked_domains WHERE subject_id = ? ORDER BY domain
        `), subjectID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var d string
			if err := rows.Scan(&d); err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
