/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.Store, credits.AccountStore,
  billing.EventLog) using SQLite. In production the same patterns apply to
  the hosted Postgres - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:         Append-only entry persistence
  credits.AccountStore: Account records with guarded balance mutations
  billing.EventLog:     Processed webhook event ids

GUARDED WRITES:
  Lost updates are the failure mode this schema exists to prevent:
  - DebitIfSufficient: UPDATE ... WHERE credits >= cost. The balance check
    and the decrement are one statement; a concurrent debit either sees the
    money or doesn't.
  - UpdateAccount: UPDATE ... WHERE credits = expected. Application-level
    compare-and-swap; losers get ErrConcurrentModification and retry on
    fresh state.
  Ledger entries and the processed-event mark commit in the SAME database
  transaction as the balance change, so the account and its ledger can
  never drift apart on a partial failure.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the entries table. Corrections
  are offsetting entries.

KEY TABLES:
  accounts:         One credit record per user
  entries:          Immutable ledger of all balance changes
  processed_events: Webhook event ids already applied (replay dedup)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

SEE ALSO:
  - ledger/store.go: Interface definition
  - credits/account.go: AccountStore contract
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/makos-ai/credit-engine/billing"
	"github.com/makos-ai/credit-engine/credits"
	"github.com/makos-ai/credit-engine/ledger"
)

// timeFormat is a fixed-width RFC3339 variant (nanosecond digits always
// present) so stored timestamps compare correctly as strings. RFC3339Nano
// trims trailing zeros and would break cursor ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (one credit record per user)
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		email TEXT,
		credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
		plan TEXT NOT NULL DEFAULT 'free',
		plan_activated_at TEXT NOT NULL,
		subscription_ref TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_email
		ON accounts(email) WHERE email IS NOT NULL;

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		cause TEXT NOT NULL,
		description TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Newest-first history pagination (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_user_created
		ON entries(user_id, created_at DESC, id DESC);

	-- Processed webhook events (replay dedup)
	CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		user_id TEXT,
		processed_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendEntry(ctx, s.db, e)
}

func (s *Store) appendEntry(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, e ledger.Entry) error {
	if e.UserID == "" || !ledger.ValidCause(e.Cause) {
		return ledger.ErrInvalidEntry
	}

	query := `
		INSERT INTO entries (id, user_id, amount, cause, description, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.Amount,
		e.Cause,
		e.Description,
		nullString(e.IdempotencyKey),
		createdAt.UTC().Format(timeFormat),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}

	return nil
}

// AppendBatch adds multiple entries atomically.
func (s *Store) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicate idempotency keys within the batch first
	keys := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey != "" {
			if keys[e.IdempotencyKey] {
				return ledger.ErrDuplicateIdempotencyKey
			}
			keys[e.IdempotencyKey] = true
		}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, e := range entries {
		if err := s.appendEntry(ctx, sqlTx, e); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// Load returns all entries for a user, oldest first.
func (s *Store) Load(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, amount, cause, description, idempotency_key, created_at
		FROM entries
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`

	return s.queryEntries(ctx, query, userID)
}

// LoadNewest returns a newest-first page. The cursor is "created_at|id" of
// the last entry on the previous page.
func (s *Store) LoadNewest(ctx context.Context, userID ledger.UserID, cursor string, limit int) ([]ledger.Entry, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var (
		entries []ledger.Entry
		err     error
	)
	if cursor == "" {
		query := `
			SELECT id, user_id, amount, cause, description, idempotency_key, created_at
			FROM entries
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		entries, err = s.queryEntries(ctx, query, userID, limit)
	} else {
		createdAt, id, ok := splitCursor(cursor)
		if !ok {
			return nil, "", fmt.Errorf("malformed history cursor %q", cursor)
		}
		query := `
			SELECT id, user_id, amount, cause, description, idempotency_key, created_at
			FROM entries
			WHERE user_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`
		entries, err = s.queryEntries(ctx, query, userID, createdAt, createdAt, id, limit)
	}
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(entries) == limit {
		last := entries[len(entries)-1]
		next = makeCursor(last.CreatedAt, last.ID)
	}
	return entries, next, nil
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e              ledger.Entry
		description    sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Cause, &description, &idempotencyKey, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Description = description.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return e, nil
}

// =============================================================================
// ACCOUNT STORE (credits.AccountStore interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, userID ledger.UserID) (*credits.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getAccount(ctx, s.db, userID)
}

func (s *Store) getAccount(ctx context.Context, db interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, userID ledger.UserID) (*credits.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT user_id, email, credits, plan, plan_activated_at, subscription_ref, updated_at
		FROM accounts WHERE user_id = ?
	`, userID)
	return scanAccount(row)
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*credits.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, credits, plan, plan_activated_at, subscription_ref, updated_at
		FROM accounts WHERE email = ?
		ORDER BY user_id LIMIT 1
	`, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*credits.Account, error) {
	var (
		acct            credits.Account
		email           sql.NullString
		subscriptionRef sql.NullString
		activatedAt     string
		updatedAt       string
	)

	err := row.Scan(&acct.UserID, &email, &acct.Credits, &acct.Plan,
		&activatedAt, &subscriptionRef, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acct.Email = email.String
	acct.SubscriptionRef = subscriptionRef.String
	acct.PlanActivatedAt, _ = time.Parse(timeFormat, activatedAt)
	acct.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &acct, nil
}

// CreateAccount inserts a new account and its welcome entry atomically.
func (s *Store) CreateAccount(ctx context.Context, acct credits.Account, welcome *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, email, credits, plan, plan_activated_at, subscription_ref, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		acct.UserID,
		nullString(acct.Email),
		acct.Credits,
		acct.Plan,
		acct.PlanActivatedAt.UTC().Format(timeFormat),
		nullString(acct.SubscriptionRef),
		acct.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return credits.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	if welcome != nil {
		if err := s.appendEntry(ctx, sqlTx, *welcome); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// DebitIfSufficient decrements the balance guarded by credits >= cost and
// appends the usage entry in the same transaction.
func (s *Store) DebitIfSufficient(ctx context.Context, userID ledger.UserID, cost int, entry ledger.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cost <= 0 {
		return 0, credits.ErrInvalidCost
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(timeFormat)
	res, err := sqlTx.ExecContext(ctx, `
		UPDATE accounts SET credits = credits - ?, updated_at = ?
		WHERE user_id = ? AND credits >= ?
	`, cost, now, userID, cost)
	if err != nil {
		return 0, fmt.Errorf("failed to debit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		// Either the account is missing or the balance is short.
		acct, err := s.getAccount(ctx, sqlTx, userID)
		if err != nil {
			return 0, err
		}
		return 0, &credits.InsufficientCreditsError{
			UserID:    userID,
			Available: acct.Credits,
			Required:  cost,
		}
	}

	if err := s.appendEntry(ctx, sqlTx, entry); err != nil {
		return 0, err
	}

	var newBalance int
	err = sqlTx.QueryRowContext(ctx,
		"SELECT credits FROM accounts WHERE user_id = ?", userID,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to read new balance: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}
	return newBalance, nil
}

// UpdateAccount writes account state conditionally on the expected balance,
// appending ledger entries and the processed-event mark in one transaction.
func (s *Store) UpdateAccount(ctx context.Context, acct credits.Account, expectedCredits int, entries []ledger.Entry, mark *credits.EventMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if mark != nil {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO processed_events (event_id, event_type, user_id, processed_at)
			VALUES (?, ?, ?, ?)
		`, mark.ID, mark.Type, acct.UserID, time.Now().UTC().Format(timeFormat))
		if err != nil {
			if isUniqueConstraintError(err) {
				return billing.ErrDuplicateEvent
			}
			return fmt.Errorf("failed to record event: %w", err)
		}
	}

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE accounts
		SET email = COALESCE(?, email), credits = ?, plan = ?,
		    plan_activated_at = ?, subscription_ref = ?, updated_at = ?
		WHERE user_id = ? AND credits = ?
	`,
		nullString(acct.Email),
		acct.Credits,
		acct.Plan,
		acct.PlanActivatedAt.UTC().Format(timeFormat),
		nullString(acct.SubscriptionRef),
		acct.UpdatedAt.UTC().Format(timeFormat),
		acct.UserID,
		expectedCredits,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.getAccount(ctx, sqlTx, acct.UserID); err != nil {
			return err // ErrAccountNotFound
		}
		return credits.ErrConcurrentModification
	}

	for _, e := range entries {
		if err := s.appendEntry(ctx, sqlTx, e); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// ListAccounts returns a page of accounts ordered by user id.
func (s *Store) ListAccounts(ctx context.Context, afterUserID ledger.UserID, limit int) ([]credits.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, email, credits, plan, plan_activated_at, subscription_ref, updated_at
		FROM accounts
		WHERE user_id > ?
		ORDER BY user_id
		LIMIT ?
	`, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []credits.Account
	for rows.Next() {
		var (
			acct            credits.Account
			email           sql.NullString
			subscriptionRef sql.NullString
			activatedAt     string
			updatedAt       string
		)
		err := rows.Scan(&acct.UserID, &email, &acct.Credits, &acct.Plan,
			&activatedAt, &subscriptionRef, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		acct.Email = email.String
		acct.SubscriptionRef = subscriptionRef.String
		acct.PlanActivatedAt, _ = time.Parse(timeFormat, activatedAt)
		acct.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		accounts = append(accounts, acct)
	}

	return accounts, rows.Err()
}

// =============================================================================
// EVENT LOG (billing.EventLog interface)
// =============================================================================

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_events WHERE event_id = ?",
		eventID,
	).Scan(&count)

	return count > 0, err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

const cursorSep = "|"

func makeCursor(createdAt time.Time, id ledger.EntryID) string {
	return createdAt.UTC().Format(timeFormat) + cursorSep + string(id)
}

func splitCursor(cursor string) (createdAt, id string, ok bool) {
	i := strings.LastIndex(cursor, cursorSep)
	if i < 0 {
		return "", "", false
	}
	return cursor[:i], cursor[i+1:], true
}
