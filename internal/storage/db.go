package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type store struct {
	q querier
}

type DB struct {
	store
	conn *sql.DB
}

// Tx exposes the same helpers as DB bound to one transaction.
type Tx struct {
	store
	tx *sql.Tx
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas below are per connection; one connection also serialises writers.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode = WAL;`, `PRAGMA busy_timeout = 5000;`, `PRAGMA foreign_keys = ON;`} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	db := &DB{store: store{q: conn}, conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (d *DB) WithTx(fn func(tx *Tx) error) error {
	sqlTx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{store: store{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS clients (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE COLLATE NOCASE,
  active INTEGER NOT NULL DEFAULT 1,
  createdAt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS client_references (
  id TEXT PRIMARY KEY,
  clientId TEXT NOT NULL,
  pattern TEXT NOT NULL,
  isRegex INTEGER NOT NULL DEFAULT 0,
  isFuzzy INTEGER NOT NULL DEFAULT 0,
  priority INTEGER NOT NULL DEFAULT 100,
  active INTEGER NOT NULL DEFAULT 1,
  createdAt TEXT NOT NULL,
  FOREIGN KEY(clientId) REFERENCES clients(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_client_references_client ON client_references(clientId);

CREATE TABLE IF NOT EXISTS client_rates (
  id TEXT PRIMARY KEY,
  clientId TEXT NOT NULL,
  ratePerTonne TEXT NOT NULL,
  effectiveFrom TEXT NOT NULL,
  effectiveTo TEXT,
  approvedBy TEXT,
  approvedAt TEXT,
  notes TEXT,
  createdAt TEXT NOT NULL,
  FOREIGN KEY(clientId) REFERENCES clients(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_client_rates_client ON client_rates(clientId, effectiveFrom);

CREATE TABLE IF NOT EXISTS batches (
  id TEXT PRIMARY KEY,
  sourceFile TEXT NOT NULL,
  fileHash TEXT NOT NULL,
  uploadDate TEXT NOT NULL,
  layout TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  errorReason TEXT,
  statsJson TEXT NOT NULL DEFAULT '{}',
  createdAt TEXT NOT NULL,
  processedAt TEXT
);
CREATE INDEX IF NOT EXISTS idx_batches_hash ON batches(fileHash);

CREATE TABLE IF NOT EXISTS tickets (
  id TEXT PRIMARY KEY,
  batchId TEXT NOT NULL,
  rowNumber INTEGER NOT NULL,
  layout TEXT NOT NULL,
  ticketNumber TEXT NOT NULL,
  reference TEXT,
  note TEXT,
  vehicle TEXT,
  license TEXT,
  grossWeight REAL,
  tareWeight REAL,
  netWeight REAL,
  status TEXT NOT NULL,
  entryDate TEXT,
  entryTime TEXT,
  exitDate TEXT,
  exitTime TEXT,
  material TEXT NOT NULL,
  attendant TEXT,
  isBillable INTEGER NOT NULL,
  clientId TEXT,
  clientName TEXT,
  matchedPattern TEXT,
  matchType TEXT,
  confidence REAL NOT NULL DEFAULT 0,
  ratePerTonne TEXT,
  rawJson TEXT NOT NULL,
  createdAt TEXT NOT NULL,
  FOREIGN KEY(batchId) REFERENCES batches(id)
);
CREATE INDEX IF NOT EXISTS idx_tickets_batch ON tickets(batchId, rowNumber);

CREATE TABLE IF NOT EXISTS ticket_errors (
  id TEXT PRIMARY KEY,
  batchId TEXT NOT NULL,
  ticketNumber TEXT,
  rowNumber INTEGER NOT NULL,
  errorType TEXT NOT NULL,
  message TEXT NOT NULL,
  rawJson TEXT NOT NULL,
  createdAt TEXT NOT NULL,
  FOREIGN KEY(batchId) REFERENCES batches(id)
);
CREATE INDEX IF NOT EXISTS idx_ticket_errors_batch ON ticket_errors(batchId, rowNumber);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (s store) SetMetadata(key, value string) error {
	_, err := s.q.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (s store) GetMetadata(key string) (*string, error) {
	var value string
	err := s.q.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

const (
	dateLayout  = time.DateOnly
	stampLayout = time.RFC3339Nano
)

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(dateLayout)
	return &v
}

func formatStamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(stampLayout)
	return &v
}

func parseDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", v.String, err)
	}
	return &t, nil
}

func parseStamp(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(stampLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return &t, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
