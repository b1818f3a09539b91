// Package storage persists fetch runs and their transfers in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/devblac/chain-statement/internal/transfer"
)

// Store wraps SQLite-backed persistence for runs, category outcomes and transfers.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  wallet       TEXT NOT NULL,
  started_at   TIMESTAMP NOT NULL,
  finished_at  TIMESTAMP NOT NULL,
  records      INTEGER NOT NULL,
  failed       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_wallet ON runs (wallet, started_at);

CREATE TABLE IF NOT EXISTS run_categories (
  run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  category  TEXT NOT NULL,
  provider  TEXT,
  records   INTEGER NOT NULL,
  error     TEXT,
  PRIMARY KEY(run_id, category)
);

CREATE TABLE IF NOT EXISTS transfers (
  run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  seq            INTEGER NOT NULL,
  tx_hash        TEXT NOT NULL,
  block_hash     TEXT,
  block_number   TEXT,
  timestamp      TEXT,
  from_address   TEXT,
  to_address     TEXT,
  log_index      INTEGER,
  amount         TEXT,
  fee            TEXT,
  category       TEXT NOT NULL,
  contract       TEXT,
  metadata_json  TEXT,
  PRIMARY KEY(run_id, seq)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Run is one stored fetch.
type Run struct {
	ID         string
	Wallet     string
	StartedAt  time.Time
	FinishedAt time.Time
	Records    int
	Failed     int
}

// CategoryOutcome is the stored result of one category in a run.
type CategoryOutcome struct {
	Category transfer.Category
	Provider string
	Records  int
	Error    string
}

// SaveRun writes the run, its category outcomes and its records in one
// transaction, retrying while the database is busy. An empty run ID is
// replaced by a new UUID; the stored ID is returned.
func (s *Store) SaveRun(ctx context.Context, run Run, outcomes []CategoryOutcome, records []transfer.Record) (string, error) {
	if run.Wallet == "" {
		return "", errors.New("run wallet required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	run.Records = len(records)

	err := retry.Do(
		func() error {
			return s.WithTx(ctx, func(tx *sql.Tx) error {
				return insertRun(ctx, tx, run, outcomes, records)
			})
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run Run, outcomes []CategoryOutcome, records []transfer.Record) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO runs (id, wallet, started_at, finished_at, records, failed)
VALUES (?, ?, ?, ?, ?, ?);
`, run.ID, strings.ToLower(run.Wallet), run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Records, run.Failed)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, o := range outcomes {
		_, err := tx.ExecContext(ctx, `
INSERT INTO run_categories (run_id, category, provider, records, error)
VALUES (?, ?, ?, ?, ?);
`, run.ID, string(o.Category), nullString(o.Provider), o.Records, nullString(o.Error))
		if err != nil {
			return fmt.Errorf("insert category %s: %w", o.Category, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO transfers (run_id, seq, tx_hash, block_hash, block_number, timestamp, from_address, to_address,
  log_index, amount, fee, category, contract, metadata_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return fmt.Errorf("prepare transfer insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		var logIndex any
		if r.LogIndex != nil {
			logIndex = int64(*r.LogIndex)
		}
		_, err = stmt.ExecContext(ctx,
			run.ID, i, r.TransactionHash, nullString(r.BlockHash), nullString(r.BlockNumberString()),
			nullString(r.Timestamp), r.From, r.To, logIndex, nullString(r.AmountString()), nullString(r.Fee),
			string(r.Category), r.AssetContractAddress, string(meta),
		)
		if err != nil {
			return fmt.Errorf("insert transfer %s: %w", r.TransactionHash, err)
		}
	}
	return nil
}

// LatestRun returns the most recent run for wallet.
func (s *Store) LatestRun(ctx context.Context, wallet string) (Run, bool, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
SELECT id, wallet, started_at, finished_at, records, failed FROM runs
WHERE wallet = ? ORDER BY started_at DESC LIMIT 1;
`, strings.ToLower(wallet)).Scan(&r.ID, &r.Wallet, &r.StartedAt, &r.FinishedAt, &r.Records, &r.Failed)
	switch {
	case err == nil:
		return r, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return Run{}, false, nil
	default:
		return Run{}, false, fmt.Errorf("latest run: %w", err)
	}
}

// Outcomes returns the category outcomes of a run.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]CategoryOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT category, provider, records, error FROM run_categories WHERE run_id = ? ORDER BY rowid;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []CategoryOutcome
	for rows.Next() {
		var (
			o               CategoryOutcome
			provider, cause sql.NullString
		)
		if err := rows.Scan(&o.Category, &provider, &o.Records, &cause); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Provider, o.Error = provider.String, cause.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// Transfers returns the records of a run in their original order.
func (s *Store) Transfers(ctx context.Context, runID string) ([]transfer.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tx_hash, block_hash, block_number, timestamp, from_address, to_address, log_index,
  amount, fee, category, contract, metadata_json
FROM transfers WHERE run_id = ? ORDER BY seq;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	out := []transfer.Record{}
	for rows.Next() {
		var (
			r                                 transfer.Record
			blockHash, block, ts, amount, fee sql.NullString
			from, to, contract, meta          sql.NullString
			logIndex                          sql.NullInt64
		)
		if err := rows.Scan(&r.TransactionHash, &blockHash, &block, &ts, &from, &to, &logIndex,
			&amount, &fee, &r.Category, &contract, &meta); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		r.BlockHash, r.Timestamp, r.Fee = blockHash.String, ts.String, fee.String
		r.From, r.To, r.AssetContractAddress = from.String, to.String, contract.String
		r.BlockNumber = parseBig(block)
		r.Amount = parseBig(amount)
		if logIndex.Valid {
			idx := uint(logIndex.Int64)
			r.LogIndex = &idx
		}
		if meta.Valid && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func parseBig(s sql.NullString) *big.Int {
	if !s.Valid {
		return nil
	}
	n, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil
	}
	return n
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
