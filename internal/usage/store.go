package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists usage records so history survives restarts. The in-memory
// ring stays the source for live stats; the store answers long-range ones.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		invocation_id TEXT NOT NULL,
		command TEXT NOT NULL,
		invoker_id TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		argument_summary TEXT
	);

	CREATE TABLE IF NOT EXISTS usage_contexts (
		record_seq INTEGER NOT NULL REFERENCES usage_records(seq) ON DELETE CASCADE,
		context_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_command ON usage_records(command);
	CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage_records(ts_ms);
	CREATE INDEX IF NOT EXISTS idx_usage_context ON usage_contexts(context_id)
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert writes records in one transaction.
func (s *Store) Insert(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	recStmt, err := tx.PrepareContext(ctx, `INSERT INTO usage_records
		(invocation_id, command, invoker_id, ts_ms, argument_summary)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer recStmt.Close()

	ctxStmt, err := tx.PrepareContext(ctx, `INSERT INTO usage_contexts (record_seq, context_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer ctxStmt.Close()

	for _, r := range records {
		res, err := recStmt.ExecContext(ctx, r.InvocationID, r.Command, r.InvokerID, r.TimestampMs(), r.ArgumentSummary)
		if err != nil {
			return fmt.Errorf("insert usage record: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, c := range r.ContextIDs {
			if _, err := ctxStmt.ExecContext(ctx, seq, c); err != nil {
				return fmt.Errorf("insert usage context: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Stats aggregates persisted records at or after since. A zero since covers
// everything.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	stats := newStats()
	sinceMs := int64(0)
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE ts_ms >= ?`, sinceMs).Scan(&stats.Total); err != nil {
		return stats, err
	}

	groups := []struct {
		query string
		into  map[string]int
	}{
		{`SELECT command, COUNT(*) FROM usage_records WHERE ts_ms >= ? GROUP BY command`, stats.ByCommand},
		{`SELECT invoker_id, COUNT(*) FROM usage_records WHERE ts_ms >= ? GROUP BY invoker_id`, stats.ByInvoker},
		{`SELECT c.context_id, COUNT(*) FROM usage_contexts c
			JOIN usage_records r ON r.seq = c.record_seq
			WHERE r.ts_ms >= ? GROUP BY c.context_id`, stats.ByContext},
	}

	for _, g := range groups {
		if err := s.countInto(ctx, g.query, sinceMs, g.into); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, query string, sinceMs int64, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query, sinceMs)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// Prune deletes records older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := before.UnixMilli()
	if _, err := tx.ExecContext(ctx, `DELETE FROM usage_contexts WHERE record_seq IN
		(SELECT seq FROM usage_records WHERE ts_ms < ?)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM usage_records WHERE ts_ms < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
