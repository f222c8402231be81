// Package store manages the SQLite database that holds the locally cached
// transactions, the outbound mutation queue, and small persisted settings.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. The store is the single source of
// truth for every UI read: remote data is only ever seen after it has been
// hydrated into these tables.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mypocket/pocketsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id           TEXT PRIMARY KEY,
    userId       TEXT NOT NULL,
    type         TEXT NOT NULL CHECK(type IN ('income', 'expense')),
    amount       REAL NOT NULL,
    category     TEXT NOT NULL,
    categoryName TEXT NOT NULL DEFAULT '',
    categoryIcon TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    date         TEXT NOT NULL,
    createdAt    TEXT NOT NULL,
    updatedAt    TEXT NOT NULL,
    syncStatus   TEXT NOT NULL DEFAULT 'pending' CHECK(syncStatus IN ('pending', 'synced', 'failed')),
    isDeleted    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_queue (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    operation  TEXT NOT NULL CHECK(operation IN ('create', 'update', 'delete')),
    tableName  TEXT NOT NULL,
    recordId   TEXT NOT NULL,
    data       TEXT,
    timestamp  TEXT NOT NULL,
    retryCount INTEGER NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'completed', 'failed'))
);

CREATE TABLE IF NOT EXISTS app_settings (
    key       TEXT PRIMARY KEY,
    value     TEXT,
    updatedAt TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (userId, isDeleted, date);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue (status, retryCount, timestamp);
`

// ErrClosed is returned by every operation after [Store.Close] (or if the
// store never finished opening). Callers must hold a successfully opened
// store before issuing queries.
var ErrClosed = errors.New("store is closed")

// ErrNotFound is returned when a record does not exist or is owned by a
// different user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("transaction not found or access denied")

// lastSyncKeyPrefix namespaces the per-user sync watermark in app_settings.
const lastSyncKeyPrefix = "lastSync_"

// completedQueueRetention is how long completed queue entries are kept before
// being pruned at open. Pending and failed entries are never pruned.
const completedQueueRetention = 30 * 24 * time.Hour

// Store is the SQLite-backed local store.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the local database:
// ~/.local/share/pocketsync/pocket.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "pocketsync", "pocket.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// configures WAL mode, and prunes stale completed queue entries.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.pruneCompletedQueue(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pruning completed queue entries: %w", err)
	}
	return s, nil
}

// Close releases the underlying database connection. Subsequent calls on the
// store return [ErrClosed].
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// ready guards every operation against use before open or after close.
func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

// --- transactions ------------------------------------------------------------

const transactionColumns = `
	id, userId, type, amount, category, categoryName, categoryIcon,
	description, date, createdAt, updatedAt, syncStatus, isDeleted`

// AddTransaction inserts a new transaction with syncStatus=pending and
// enqueues a create mutation. If t.ID is empty a fresh id is assigned. The
// assigned id is returned. The record must carry an owning user id.
func (s *Store) AddTransaction(ctx context.Context, t *model.Transaction) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if t.UserID == "" {
		return "", fmt.Errorf("transaction must have a user id")
	}
	if t.ID == "" {
		t.ID = model.NewID()
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.SyncStatus = model.SyncPending
	t.Deleted = false

	const q = `
		INSERT INTO transactions
		    (id, userId, type, amount, category, categoryName, categoryIcon,
		     description, date, createdAt, updatedAt, syncStatus, isDeleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	_, err := s.db.ExecContext(ctx, q,
		t.ID, t.UserID, string(t.Kind), t.Amount,
		t.Category, t.CategoryName, t.CategoryIcon, t.Description,
		formatTime(t.Date), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		string(t.SyncStatus),
	)
	if err != nil {
		return "", fmt.Errorf("inserting transaction %q: %w", t.ID, err)
	}

	payload, err := model.EncodeCreatePayload(t)
	if err != nil {
		return "", err
	}
	if err := s.enqueue(ctx, model.OpCreate, model.TableTransactions, t.ID, payload); err != nil {
		return "", err
	}
	return t.ID, nil
}

// GetTransactions returns the user's non-deleted transactions ordered by
// occurrence date descending, capped at limit. A limit <= 0 means no cap
// (summaries need the full set). A user with no rows gets an empty slice,
// not an error.
func (s *Store) GetTransactions(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 disables the cap
	}

	const q = `
		SELECT` + transactionColumns + `
		FROM transactions
		WHERE userId = ? AND isDeleted = 0
		ORDER BY date DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions for user %q: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// GetTransactionByID returns the non-deleted transaction with the given id
// scoped to the user, or (nil, nil) if no such row exists. The user id is
// part of the predicate: an id collision never leaks another user's record.
func (s *Store) GetTransactionByID(ctx context.Context, id, userID string) (*model.Transaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	const q = `
		SELECT` + transactionColumns + `
		FROM transactions
		WHERE id = ? AND userId = ? AND isDeleted = 0`
	row := s.db.QueryRowContext(ctx, q, id, userID)
	return scanTransactionRow(row)
}

// UpdateTransaction overwrites the mutable fields of the transaction with the
// given id, resets its sync status to pending, bumps the update timestamp,
// and enqueues an update mutation. The row must exist and belong to the user.
func (s *Store) UpdateTransaction(ctx context.Context, id, userID string, patch *model.Transaction) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id == "" || userID == "" {
		return fmt.Errorf("transaction id and user id are required")
	}

	existing, err := s.GetTransactionByID(ctx, id, userID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("transaction %q: %w", id, ErrNotFound)
	}

	now := time.Now().UTC()

	const q = `
		UPDATE transactions
		SET type = ?, amount = ?, category = ?, categoryName = ?, categoryIcon = ?,
		    description = ?, date = ?, updatedAt = ?, syncStatus = ?
		WHERE id = ? AND userId = ?`
	res, err := s.db.ExecContext(ctx, q,
		string(patch.Kind), patch.Amount, patch.Category,
		patch.CategoryName, patch.CategoryIcon, patch.Description,
		formatTime(patch.Date), formatTime(now), string(model.SyncPending),
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("updating transaction %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transaction %q: %w", id, ErrNotFound)
	}

	snapshot := *patch
	snapshot.ID = id
	snapshot.UserID = userID
	snapshot.CreatedAt = existing.CreatedAt
	snapshot.UpdatedAt = now
	payload, err := model.EncodeUpdatePayload(&snapshot)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, model.OpUpdate, model.TableTransactions, id, payload)
}

// DeleteTransaction flips the soft-delete flag on the row scoped to
// (id, userID) and enqueues a delete mutation carrying the owning user id.
// The row itself stays on disk; only the remote document is ever hard
// deleted.
func (s *Store) DeleteTransaction(ctx context.Context, id, userID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("user id is required for delete")
	}

	const q = `
		UPDATE transactions
		SET isDeleted = 1, updatedAt = ?, syncStatus = ?
		WHERE id = ? AND userId = ?`
	if _, err := s.db.ExecContext(ctx, q,
		formatTime(time.Now().UTC()), string(model.SyncPending), id, userID,
	); err != nil {
		return fmt.Errorf("soft-deleting transaction %q: %w", id, err)
	}

	payload, err := model.EncodeDeletePayload(userID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, model.OpDelete, model.TableTransactions, id, payload)
}

// HasUserData reports whether the user has any non-deleted local rows. A
// user without local data needs an initial full sync on session bind.
func (s *Store) HasUserData(ctx context.Context, userID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	var count int
	const q = `SELECT COUNT(*) FROM transactions WHERE userId = ? AND isDeleted = 0`
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("checking local data for user %q: %w", userID, err)
	}
	return count > 0, nil
}

// BatchInsertTransactions upserts records hydrated from the remote store in a
// single database transaction, marking every row synced. Replaying the same
// record set is idempotent: insert-or-replace by id never duplicates rows.
func (s *Store) BatchInsertTransactions(ctx context.Context, records []*model.Transaction) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT OR REPLACE INTO transactions
		    (id, userId, type, amount, category, categoryName, categoryIcon,
		     description, date, createdAt, updatedAt, syncStatus, isDeleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("preparing batch insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range records {
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.UserID, string(t.Kind), t.Amount,
			t.Category, t.CategoryName, t.CategoryIcon, t.Description,
			formatTime(t.Date), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
			string(model.SyncSynced),
		); err != nil {
			return fmt.Errorf("upserting transaction %q: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch insert: %w", err)
	}
	return nil
}

// UpdateTransactionSyncStatus sets the sync status of a single row. Called by
// the sync engine after a queue entry targeting the row has been replayed.
func (s *Store) UpdateTransactionSyncStatus(ctx context.Context, id string, status model.SyncStatus) error {
	if err := s.ready(); err != nil {
		return err
	}

	const q = `UPDATE transactions SET syncStatus = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, string(status), id); err != nil {
		return fmt.Errorf("updating sync status of %q: %w", id, err)
	}
	return nil
}

// ClearUserData removes every trace of a user: transaction rows, their queue
// entries, and settings. Not called on logout (local data is retained by
// design); reachable only through an explicit purge.
func (s *Store) ClearUserData(ctx context.Context, userID string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE recordId IN (SELECT id FROM transactions WHERE userId = ?)`,
		userID,
	); err != nil {
		return fmt.Errorf("clearing queue entries for user %q: %w", userID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE userId = ?`, userID,
	); err != nil {
		return fmt.Errorf("clearing transactions for user %q: %w", userID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM app_settings WHERE key = ?`, lastSyncKey(userID),
	); err != nil {
		return fmt.Errorf("clearing settings for user %q: %w", userID, err)
	}
	return nil
}

// --- sync watermark ----------------------------------------------------------

func lastSyncKey(userID string) string {
	return lastSyncKeyPrefix + userID
}

// GetLastSyncTime returns the user's incremental-sync watermark, or the zero
// time if no sync has completed yet.
func (s *Store) GetLastSyncTime(ctx context.Context, userID string) (time.Time, error) {
	if err := s.ready(); err != nil {
		return time.Time{}, err
	}

	var value string
	const q = `SELECT value FROM app_settings WHERE key = ?`
	err := s.db.QueryRowContext(ctx, q, lastSyncKey(userID)).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last sync time for user %q: %w", userID, err)
	}
	return parseTime(value)
}

// UpdateLastSyncTime stamps the user's watermark with the given instant.
func (s *Store) UpdateLastSyncTime(ctx context.Context, userID string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	const q = `INSERT OR REPLACE INTO app_settings (key, value, updatedAt) VALUES (?, ?, ?)`
	now := formatTime(time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, q, lastSyncKey(userID), formatTime(at.UTC()), now); err != nil {
		return fmt.Errorf("stamping last sync time for user %q: %w", userID, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransactionRow(row *sql.Row) (*model.Transaction, error) {
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return t, err
}

func scanTransaction(sc scanner) (*model.Transaction, error) {
	var t model.Transaction
	var kind, status string
	var date, createdAt, updatedAt string
	var deleted int

	err := sc.Scan(
		&t.ID, &t.UserID, &kind, &t.Amount,
		&t.Category, &t.CategoryName, &t.CategoryIcon, &t.Description,
		&date, &createdAt, &updatedAt, &status, &deleted,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning transaction row: %w", err)
	}

	t.Kind = model.Kind(kind)
	t.SyncStatus = model.SyncStatus(status)
	t.Deleted = deleted != 0
	t.Date, _ = parseTime(date)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)

	return &t, nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds. Time columns are
// compared as text (ORDER BY date, ORDER BY timestamp, the prune cutoff), and
// the variable-precision RFC3339Nano form breaks lexicographic ordering: a
// whole-second instant ("…05Z") sorts after any sub-second one within the
// same second ("…05.5Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime accepts any fractional-second width, so values written before the
// fixed-width layout still scan.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
