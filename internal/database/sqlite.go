package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"travellog/internal/database/migrations"
	"travellog/internal/travellog"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements travellog.RecordStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	policy travellog.InsertPolicy
	path   string
}

// NewSQLiteStore opens the record store at path, migrating its schema up.
// path can be a file path or ":memory:" for an in-memory store.
func NewSQLiteStore(path string, policy travellog.InsertPolicy) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db, migrations.Store); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating record store: %w", err)
	}
	if err := migrations.CheckDBMigrationStatus(db, migrations.Store); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking record store schema: %w", err)
	}

	return NewSQLiteStoreFromDB(db, policy), nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the schema is up to date.
func NewSQLiteStoreFromDB(db *sql.DB, policy travellog.InsertPolicy) *SQLiteStore {
	if policy == "" {
		policy = travellog.InsertHead
	}
	return &SQLiteStore{db: db, policy: policy}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec travellog.Record) (travellog.Record, error) {
	if rec.ID == "" {
		return travellog.Record{}, fmt.Errorf("record has no id")
	}
	if rec.Owner.IsZero() {
		return travellog.Record{}, fmt.Errorf("record has no owner")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return travellog.Record{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	next := "SELECT COALESCE(MIN(sequence), 1) - 1 FROM records WHERE owner = ?"
	if s.policy == travellog.InsertTail {
		next = "SELECT COALESCE(MAX(sequence), 0) + 1 FROM records WHERE owner = ?"
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, next, string(rec.Owner)).Scan(&seq); err != nil {
		return travellog.Record{}, fmt.Errorf("assigning sequence: %w", err)
	}
	rec.Sequence = seq

	if err := insertRecord(ctx, tx, rec); err != nil {
		return travellog.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return travellog.Record{}, fmt.Errorf("committing transaction: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, owner travellog.OwnerKey, order travellog.Ordering) ([]travellog.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner, country, city, visited_on, sequence FROM records WHERE owner = ? ORDER BY sequence",
		string(owner))
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	recs := []travellog.Record{}
	for rows.Next() {
		var (
			r         travellog.Record
			ownerKey  string
			visitedOn string
		)
		if err := rows.Scan(&r.ID, &ownerKey, &r.Country, &r.City, &visitedOn, &r.Sequence); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Owner = travellog.OwnerKey(ownerKey)
		if r.VisitedOn, err = time.Parse(travellog.DateLayout, visitedOn); err != nil {
			return nil, fmt.Errorf("parsing visited_on of %s: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	travellog.SortRecords(recs, order)
	return recs, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, owner travellog.OwnerKey, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE owner = ? AND id = ?", string(owner), id)
	if err != nil {
		return false, fmt.Errorf("removing record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("counting removed records: %w", err)
	}
	return n > 0, nil
}

// Replace swaps the owner's rows for recs in one transaction. recs are in
// ledger order (oldest first); sequences are assigned so that insertion
// order matches the store's policy.
func (s *SQLiteStore) Replace(ctx context.Context, owner travellog.OwnerKey, recs []travellog.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE owner = ?", string(owner)); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	for i, r := range recs {
		r.Owner = owner
		r.Sequence = -int64(i)
		if s.policy == travellog.InsertTail {
			r.Sequence = int64(i) + 1
		}
		if err := insertRecord(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, owner travellog.OwnerKey) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE owner = ?", string(owner)); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, owner travellog.OwnerKey) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE owner = ?", string(owner)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, r travellog.Record) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO records (owner, id, country, city, visited_on, sequence) VALUES (?, ?, ?, ?, ?, ?)",
		string(r.Owner), r.ID, r.Country, r.City, r.Date(), r.Sequence)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", r.ID, err)
	}
	return nil
}

// Compile-time check that SQLiteStore implements travellog.RecordStore
var _ travellog.RecordStore = (*SQLiteStore)(nil)
