package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps reports in a SQLite file so they survive the process.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the report database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; a second connection would see a separate ":memory:" database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_reports (
		intent_type TEXT NOT NULL,
		target TEXT NOT NULL,
		taken INTEGER NOT NULL,
		misaligned INTEGER NOT NULL,
		report JSON NOT NULL,
		PRIMARY KEY (intent_type, target)
	);
	CREATE INDEX IF NOT EXISTS idx_misaligned ON audit_reports(intent_type, misaligned);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, r Report) error {
	doc, err := json.Marshal(r.Doc)
	if err != nil {
		return fmt.Errorf("encode report %s/%s: %w", r.IntentType, r.Target, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO audit_reports (intent_type, target, taken, misaligned, report)
		VALUES (?, ?, ?, ?, ?)`,
		r.IntentType, r.Target, r.Taken.UnixNano(), r.Misaligned(), string(doc))
	if err != nil {
		return fmt.Errorf("store report %s/%s: %w", r.IntentType, r.Target, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, intentType, target string) (Report, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT intent_type, target, taken, report FROM audit_reports WHERE intent_type = ? AND target = ?`,
		intentType, target)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, err
	}
	return r, true, nil
}

func (s *SQLiteStore) List(ctx context.Context, intentType string) ([]Report, error) {
	q := `SELECT intent_type, target, taken, report FROM audit_reports`
	var args []any
	if intentType != "" {
		q += ` WHERE intent_type = ?`
		args = append(args, intentType)
	}
	q += ` ORDER BY intent_type, target`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (Report, error) {
	var (
		r     Report
		taken int64
		doc   string
	)
	if err := sc.Scan(&r.IntentType, &r.Target, &taken, &doc); err != nil {
		return Report{}, err
	}
	r.Taken = time.Unix(0, taken)
	if err := json.Unmarshal([]byte(doc), &r.Doc); err != nil {
		return Report{}, fmt.Errorf("decode report %s/%s: %w", r.IntentType, r.Target, err)
	}
	return r, nil
}
