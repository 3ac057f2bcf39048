package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"travellog/internal/database"
	"travellog/internal/database/migrations"
	"travellog/internal/travellog"
)

// SQLiteLedger is a durable local ledger. Each accepted submission is a
// pending transaction row that is sealed into its own block after the
// confirmation delay. Rows still pending when the ledger is reopened are
// sealed on open.
type SQLiteLedger struct {
	db     *sql.DB
	clock  travellog.Clock
	delay  time.Duration
	logger travellog.Logger

	mu       sync.Mutex
	nonce    uint64
	watchers map[travellog.ExternalRef][]chan travellog.Confirmation
}

// NewSQLiteLedger opens the ledger at path, migrating its schema up.
// path can be a file path or ":memory:".
func NewSQLiteLedger(path string, clock travellog.Clock, delay time.Duration, logger travellog.Logger) (*SQLiteLedger, error) {
	db, err := database.OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.Ledger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	if err := migrations.CheckDBMigrationStatus(db, migrations.Ledger); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking ledger schema: %w", err)
	}

	l := &SQLiteLedger{
		db:       db,
		clock:    clock,
		delay:    delay,
		logger:   logger,
		watchers: make(map[travellog.ExternalRef][]chan travellog.Confirmation),
	}
	if err := l.sealOrphans(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) sealOrphans(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, "SELECT ref FROM transactions WHERE status = 'pending' ORDER BY rowid")
	if err != nil {
		return fmt.Errorf("finding pending transactions: %w", err)
	}
	var refs []travellog.ExternalRef
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return fmt.Errorf("scanning pending transaction: %w", err)
		}
		refs = append(refs, travellog.ExternalRef(ref))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating pending transactions: %w", err)
	}

	for _, ref := range refs {
		if err := l.Seal(ctx, ref); err != nil {
			return err
		}
	}
	if len(refs) > 0 {
		l.logger.Info("sealed pending transactions", "count", len(refs))
	}
	return nil
}

func (l *SQLiteLedger) ListRecords(ctx context.Context, owner travellog.OwnerKey) ([]travellog.Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT record_id, country, city, visited_on FROM transactions
		 WHERE owner = ? AND status = 'confirmed' ORDER BY block, rowid`, string(owner))
	if err != nil {
		return nil, travellog.Unavailable("list records", err)
	}
	defer rows.Close()

	recs := []travellog.Record{}
	for rows.Next() {
		var (
			r         travellog.Record
			visitedOn string
		)
		if err := rows.Scan(&r.ID, &r.Country, &r.City, &visitedOn); err != nil {
			return nil, travellog.Unavailable("list records", err)
		}
		if r.VisitedOn, err = travellog.ParseDate(visitedOn); err != nil {
			return nil, fmt.Errorf("ledger entry %s: %w", r.ID, err)
		}
		r.Owner = owner
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, travellog.Unavailable("list records", err)
	}
	return recs, nil
}

func (l *SQLiteLedger) SubmitRecord(ctx context.Context, owner travellog.OwnerKey, rec travellog.Record) (travellog.ExternalRef, error) {
	l.mu.Lock()
	l.nonce++
	nonce := l.nonce
	l.mu.Unlock()

	now := l.clock.Now()
	ref := txHash(owner, rec, uint64(now.UnixNano())+nonce)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO transactions (ref, owner, record_id, country, city, visited_on, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ref), string(owner), rec.ID, rec.Country, rec.City, rec.Date(), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", travellog.Rejected("submit record", err)
	}

	timer := l.clock.After(l.delay)
	go func() {
		<-timer
		if err := l.Seal(context.Background(), ref); err != nil {
			l.logger.Error("sealing transaction failed", "ref", ref, "error", err)
		}
	}()
	return ref, nil
}

// Seal confirms a pending transaction by writing it into a new block.
// Sealing a settled transaction is a no-op.
func (l *SQLiteLedger) Seal(ctx context.Context, ref travellog.ExternalRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM transactions WHERE ref = ?", string(ref)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unknown transaction %s", ref)
	}
	if err != nil {
		return fmt.Errorf("reading transaction: %w", err)
	}
	if status != "pending" {
		return nil
	}

	var block int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(number), 0) + 1 FROM blocks").Scan(&block); err != nil {
		return fmt.Errorf("numbering block: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO blocks (number, sealed_at) VALUES (?, ?)",
		block, l.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE transactions SET status = 'confirmed', block = ? WHERE ref = ?",
		block, string(ref)); err != nil {
		return fmt.Errorf("confirming transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	l.notify(ref, travellog.Confirmation{Ref: ref, Block: block})
	return nil
}

// Revert marks a pending transaction as failed.
func (l *SQLiteLedger) Revert(ctx context.Context, ref travellog.ExternalRef, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		"UPDATE transactions SET status = 'failed', reason = ? WHERE ref = ? AND status = 'pending'",
		reason, string(ref))
	if err != nil {
		return fmt.Errorf("reverting transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no pending transaction %s", ref)
	}

	l.notify(ref, travellog.Confirmation{Ref: ref, Err: errors.New(reason)})
	return nil
}

// notify must be called with l.mu held.
func (l *SQLiteLedger) notify(ref travellog.ExternalRef, c travellog.Confirmation) {
	for _, ch := range l.watchers[ref] {
		ch <- c
		close(ch)
	}
	delete(l.watchers, ref)
}

func (l *SQLiteLedger) Watch(ref travellog.ExternalRef) <-chan travellog.Confirmation {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan travellog.Confirmation, 1)

	var (
		status string
		block  sql.NullInt64
		reason sql.NullString
	)
	err := l.db.QueryRow("SELECT status, block, reason FROM transactions WHERE ref = ?", string(ref)).
		Scan(&status, &block, &reason)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ch <- travellog.Confirmation{Ref: ref, Err: fmt.Errorf("unknown transaction %s", ref)}
		close(ch)
	case err != nil:
		ch <- travellog.Confirmation{Ref: ref, Err: fmt.Errorf("reading transaction: %w", err)}
		close(ch)
	case status == "confirmed":
		ch <- travellog.Confirmation{Ref: ref, Block: block.Int64}
		close(ch)
	case status == "failed":
		ch <- travellog.Confirmation{Ref: ref, Err: errors.New(reason.String)}
		close(ch)
	default:
		l.watchers[ref] = append(l.watchers[ref], ch)
	}
	return ch
}

func (l *SQLiteLedger) Count(ctx context.Context, owner travellog.OwnerKey) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE owner = ? AND status = 'confirmed'", string(owner)).Scan(&n)
	if err != nil {
		return 0, travellog.Unavailable("count", err)
	}
	return n, nil
}

// Close closes the database connection. Pending transactions stay pending
// and are sealed on the next open.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

var _ travellog.Remote = (*SQLiteLedger)(nil)
