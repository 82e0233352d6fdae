package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store in a single SQLite file. Strings, sets and
// lists live in separate tables; Atomic maps onto one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// querier is the subset of *sql.DB and *sql.Tx the op helpers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens the database at dbPath and creates tables if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time keeps transactions from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_strings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv_sets (
		name   TEXT NOT NULL,
		member TEXT NOT NULL,
		PRIMARY KEY (name, member)
	);

	CREATE TABLE IF NOT EXISTS kv_lists (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		name  TEXT NOT NULL,
		pos   INTEGER NOT NULL,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_lists_name_pos ON kv_lists(name, pos);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_strings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, backendErr("GET", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.apply(ctx, s.db, Set(key, value))
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	ops := make([]Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, Delete(k))
	}
	return s.Atomic(ctx, ops...)
}

func (s *SQLiteStore) AddToSet(ctx context.Context, set, member string) error {
	return s.apply(ctx, s.db, SetAdd(set, member))
}

func (s *SQLiteStore) RemoveFromSet(ctx context.Context, set, member string) error {
	return s.apply(ctx, s.db, SetRemove(set, member))
}

func (s *SQLiteStore) Members(ctx context.Context, set string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM kv_sets WHERE name = ? ORDER BY member`, set)
	if err != nil {
		return nil, backendErr("SMEMBERS", set, err)
	}
	defer func() { _ = rows.Close() }()

	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, backendErr("SMEMBERS", set, err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("SMEMBERS", set, err)
	}
	return members, nil
}

func (s *SQLiteStore) Append(ctx context.Context, list, value string) error {
	return s.apply(ctx, s.db, PushTail(list, value))
}

func (s *SQLiteStore) Range(ctx context.Context, list string, start, stop int64) ([]string, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_lists WHERE name = ?`, list).Scan(&n); err != nil {
		return nil, backendErr("LRANGE", list, err)
	}
	start, stop, ok := normalizeRange(start, stop, n)
	if !ok {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM kv_lists WHERE name = ? ORDER BY pos ASC LIMIT ? OFFSET ?`,
		list, stop-start+1, start,
	)
	if err != nil {
		return nil, backendErr("LRANGE", list, err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]string, 0, stop-start+1)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, backendErr("LRANGE", list, err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("LRANGE", list, err)
	}
	return items, nil
}

// Atomic applies ops inside one IMMEDIATE transaction.
func (s *SQLiteStore) Atomic(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backendErr("BEGIN", ops[0].Key, err)
	}
	for _, op := range ops {
		if err := s.apply(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return backendErr("COMMIT", ops[0].Key, err)
	}
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, q querier, op Op) error {
	var err error
	switch op.Kind {
	case OpSet:
		_, err = q.ExecContext(ctx,
			`INSERT INTO kv_strings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			op.Key, op.Value)
	case OpDelete:
		for _, stmt := range []string{
			`DELETE FROM kv_strings WHERE key = ?`,
			`DELETE FROM kv_sets WHERE name = ?`,
			`DELETE FROM kv_lists WHERE name = ?`,
		} {
			if _, err = q.ExecContext(ctx, stmt, op.Key); err != nil {
				break
			}
		}
	case OpSetAdd:
		_, err = q.ExecContext(ctx, `INSERT OR IGNORE INTO kv_sets (name, member) VALUES (?, ?)`, op.Key, op.Value)
	case OpSetRemove:
		_, err = q.ExecContext(ctx, `DELETE FROM kv_sets WHERE name = ? AND member = ?`, op.Key, op.Value)
	case OpListPushHead:
		_, err = q.ExecContext(ctx,
			`INSERT INTO kv_lists (name, pos, value)
			 SELECT ?, COALESCE(MIN(pos), 0) - 1, ? FROM kv_lists WHERE name = ?`,
			op.Key, op.Value, op.Key)
	case OpListPushTail:
		_, err = q.ExecContext(ctx,
			`INSERT INTO kv_lists (name, pos, value)
			 SELECT ?, COALESCE(MAX(pos), 0) + 1, ? FROM kv_lists WHERE name = ?`,
			op.Key, op.Value, op.Key)
	case OpListRemove:
		err = listRemove(ctx, q, op)
	default:
		err = fmt.Errorf("unsupported op %v", op.Kind)
	}
	if err != nil {
		return backendErr(op.Kind.String(), op.Key, err)
	}
	return nil
}

func listRemove(ctx context.Context, q querier, op Op) error {
	if op.Count == 0 {
		_, err := q.ExecContext(ctx, `DELETE FROM kv_lists WHERE name = ? AND value = ?`, op.Key, op.Value)
		return err
	}
	order, limit := "ASC", op.Count
	if op.Count < 0 {
		order, limit = "DESC", -op.Count
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM kv_lists WHERE id IN (
			SELECT id FROM kv_lists WHERE name = ? AND value = ? ORDER BY pos `+order+` LIMIT ?
		)`,
		op.Key, op.Value, limit)
	return err
}
