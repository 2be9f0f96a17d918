package store

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tables (
	run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name    TEXT NOT NULL,
	csv     BLOB NOT NULL,
	kinds   BLOB NOT NULL,
	n_rows  INTEGER NOT NULL,
	n_cols  INTEGER NOT NULL,
	PRIMARY KEY (run_id, name)
);
CREATE TABLE IF NOT EXISTS objects (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	key    TEXT NOT NULL,
	data   BLOB NOT NULL,
	PRIMARY KEY (run_id, key)
);`

// timeLayout sorts lexically in time order (fixed-width fraction, UTC).
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps runs, tables and objects in one SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger log.Logger

	mu  sync.RWMutex
	run *Run
}

// OpenSQLite opens path (":memory:" for an in-process database), applies
// the pragmas and schema, and resumes the latest run.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.NewValidationError("store.dsn", "database path is required", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	// 単一接続: :memory: を共有し、書き込みを直列化する
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "apply %q", pragma)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create store schema")
	}
	s := &SQLiteStore{db: db, logger: log.GetLoggerWithName("store")}
	r, ok, err := s.latest(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	if ok {
		s.run = &r
	}
	return s, nil
}

func (s *SQLiteStore) latest(ctx context.Context) (Run, bool, error) {
	var r Run
	var started string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, started_at FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&r.ID, &r.Label, &started)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, errors.Wrap(err, "query latest run")
	}
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, false, errors.Wrapf(err, "parse start time of run %s", r.ID)
	}
	return r, true, nil
}

// Runs lists every run, newest first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, started_at FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &r.Label, &started); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

func (s *SQLiteStore) BeginRun(ctx context.Context, label string) (Run, error) {
	r := newRun(label)
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, label, started_at) VALUES (?, ?, ?)`,
		r.ID, r.Label, r.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return Run{}, errors.Wrap(err, "insert run")
	}
	s.mu.Lock()
	s.run = &r
	s.mu.Unlock()
	s.logger.Info("run started", log.RunIDKey, r.ID)
	return r, nil
}

func (s *SQLiteStore) Current(_ context.Context) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return Run{}, false, nil
	}
	return *s.run, true, nil
}

func (s *SQLiteStore) runID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return "", errNoRun
	}
	return s.run.ID, nil
}

func (s *SQLiteStore) PutTable(ctx context.Context, name string, f *tabular.Frame) error {
	id, err := s.runID()
	if err != nil {
		return err
	}
	data, kinds, err := encodeTable(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tables (run_id, name, csv, kinds, n_rows, n_cols) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET
			csv = excluded.csv, kinds = excluded.kinds, n_rows = excluded.n_rows, n_cols = excluded.n_cols`,
		id, name, data, kinds, f.NRows(), f.NCols())
	if err != nil {
		return errors.Wrapf(err, "store table %s", name)
	}
	s.logger.Debug("table written", log.TableKey, name, log.RowsKey, f.NRows(), log.ColumnsKey, f.NCols())
	return nil
}

func (s *SQLiteStore) Table(ctx context.Context, name string) (*tabular.Frame, error) {
	id, err := s.runID()
	if err != nil {
		return nil, err
	}
	var data, kinds []byte
	err = s.db.QueryRowContext(ctx, `SELECT csv, kinds FROM tables WHERE run_id = ? AND name = ?`, id, name).
		Scan(&data, &kinds)
	if err == sql.ErrNoRows {
		return nil, notFound("table", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load table %s", name)
	}
	return decodeTable(name, bytes.NewReader(data), kinds)
}

func (s *SQLiteStore) PutObject(ctx context.Context, key string, v interface{}) error {
	if err := validKey(key); err != nil {
		return err
	}
	id, err := s.runID()
	if err != nil {
		return err
	}
	data, err := encodeObject(v)
	if err != nil {
		return errors.Wrapf(err, "encode object %s", key)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (run_id, key, data) VALUES (?, ?, ?)
		ON CONFLICT (run_id, key) DO UPDATE SET data = excluded.data`, id, key, data)
	return errors.Wrapf(err, "store object %s", key)
}

func (s *SQLiteStore) Object(ctx context.Context, key string, v interface{}) error {
	id, err := s.runID()
	if err != nil {
		return err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM objects WHERE run_id = ? AND key = ?`, id, key).Scan(&data)
	if err == sql.ErrNoRows {
		return notFound("object", key)
	}
	if err != nil {
		return errors.Wrapf(err, "load object %s", key)
	}
	return errors.Wrapf(decodeObject(data, v), "decode object %s", key)
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	id, err := s.runID()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM objects WHERE run_id = ? AND substr(key, 1, length(?)) = ? ORDER BY key`,
		id, prefix, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "list objects")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan object key")
		}
		keys = append(keys, k)
	}
	return keys, errors.Wrap(rows.Err(), "iterate object keys")
}

func (s *SQLiteStore) DeleteObjects(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.NewValueError("DeleteObjects", "empty prefix")
	}
	id, err := s.runID()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE run_id = ? AND substr(key, 1, length(?)) = ?`, id, prefix, prefix)
	if err != nil {
		return 0, errors.Wrapf(err, "delete objects under %s", prefix)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "count deleted objects")
	}
	s.logger.Debug("objects deleted", log.PathKey, prefix, "count", n)
	return int(n), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
