/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Implements the persistence interface using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

APPEND-AND-VOID ENFORCEMENT:
  - No DELETE statements on settlements, vouchers, groups, or records
  - Settlements are voided (reversed flag), vouchers and groups are
    marked reversed; amounts are never rewritten

AMOUNT ENCODING:
  All monetary columns are TEXT holding exact decimal strings. SQLite
  REAL columns would reintroduce binary floating point.

KEY TABLES:
  accounts:           Chart of accounts (setup-time writes)
  counterparties:     Clients and vendors
  documents:          Invoices and bills (totals fixed at creation)
  settlements:        Money applied against documents (append + void)
  vouchers:           Balanced debit/credit postings
  allocation_groups:  Lump-sum distributions
  allocation_records: Per-document lines, cascading with their group

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus WAL mode. WithTx holds the
  write lock for the whole closure, which serializes allocation
  create/reverse operations; the in-transaction amount-due re-check
  then sees every prior writer's settlements.

USAGE:
  store, err := sqlite.New("./data/clearbook.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
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
	"github.com/shopspring/decimal"

	"github.com/clearbook/allocation-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

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
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		class TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counterparties (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		number TEXT NOT NULL,
		counterparty_id TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_counterparty
		ON documents(counterparty_id, kind);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_number
		ON documents(counterparty_id, number);

	-- Settlements are append + void. Voiding sets the flag, never deletes.
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		allocation_record_id TEXT,
		amount TEXT NOT NULL,
		settled_on TEXT NOT NULL,
		reversed INTEGER NOT NULL DEFAULT 0,
		reversed_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: amount-due replays settlements per document.
	CREATE INDEX IF NOT EXISTS idx_settlements_document
		ON settlements(document_id);

	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		debit_account_id TEXT NOT NULL,
		credit_account_id TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		reversed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vouchers_status
		ON vouchers(status);

	CREATE TABLE IF NOT EXISTS allocation_groups (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		strategy TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		allocated_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		counterparty_id TEXT NOT NULL,
		cash_account_id TEXT NOT NULL,
		voucher_id TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		reference TEXT,
		notes TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		reversed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_groups_counterparty
		ON allocation_groups(counterparty_id);

	CREATE TABLE IF NOT EXISTS allocation_records (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES allocation_groups(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		document_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		note TEXT,
		settlement_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_group
		ON allocation_records(group_id);
	CREATE INDEX IF NOT EXISTS idx_records_document
		ON allocation_records(document_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset wipes all data. Development and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"allocation_records", "allocation_groups", "settlements",
		"vouchers", "documents", "counterparties", "accounts",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// dbtx covers both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. fn failing rolls
// back every write made through the transactional store.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore delegates every operation to the shared helpers against the
// open transaction. The parent's write lock is already held.
type txStore struct {
	tx *sql.Tx
}

var _ ledger.Store = (*txStore)(nil)

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, a)
}

func (t *txStore) SaveAccount(ctx context.Context, a ledger.Account) error {
	return saveAccount(ctx, t.tx, a)
}

func saveAccount(ctx context.Context, db dbtx, a ledger.Account) error {
	query := `
		INSERT INTO accounts (id, code, name, class)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			class = excluded.class
	`
	_, err := db.ExecContext(ctx, query, a.ID, a.Code, a.Name, a.Class)
	return err
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func (t *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func getAccount(ctx context.Context, db dbtx, id ledger.AccountID) (*ledger.Account, error) {
	var a ledger.Account
	err := db.QueryRowContext(ctx,
		"SELECT id, code, name, class FROM accounts WHERE id = ?", id,
	).Scan(&a.ID, &a.Code, &a.Name, &a.Class)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db)
}

func (t *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listAccounts(ctx, t.tx)
}

func listAccounts(ctx context.Context, db dbtx) ([]ledger.Account, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, code, name, class FROM accounts ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Class); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

func (s *Store) SaveCounterparty(ctx context.Context, c ledger.Counterparty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCounterparty(ctx, s.db, c)
}

func (t *txStore) SaveCounterparty(ctx context.Context, c ledger.Counterparty) error {
	return saveCounterparty(ctx, t.tx, c)
}

func saveCounterparty(ctx context.Context, db dbtx, c ledger.Counterparty) error {
	query := `
		INSERT INTO counterparties (id, kind, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name
	`
	_, err := db.ExecContext(ctx, query, c.ID, c.Kind, c.Name)
	return err
}

func (s *Store) GetCounterparty(ctx context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCounterparty(ctx, s.db, id)
}

func (t *txStore) GetCounterparty(ctx context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	return getCounterparty(ctx, t.tx, id)
}

func getCounterparty(ctx context.Context, db dbtx, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	var c ledger.Counterparty
	err := db.QueryRowContext(ctx,
		"SELECT id, kind, name FROM counterparties WHERE id = ?", id,
	).Scan(&c.ID, &c.Kind, &c.Name)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrCounterpartyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCounterparties(ctx context.Context) ([]ledger.Counterparty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCounterparties(ctx, s.db)
}

func (t *txStore) ListCounterparties(ctx context.Context) ([]ledger.Counterparty, error) {
	return listCounterparties(ctx, t.tx)
}

func listCounterparties(ctx context.Context, db dbtx) ([]ledger.Counterparty, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, kind, name FROM counterparties ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Counterparty
	for rows.Next() {
		var c ledger.Counterparty
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, d ledger.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveDocument(ctx, s.db, d)
}

func (t *txStore) SaveDocument(ctx context.Context, d ledger.Document) error {
	return saveDocument(ctx, t.tx, d)
}

func saveDocument(ctx context.Context, db dbtx, d ledger.Document) error {
	// Totals are fixed at creation; only the number and due date may be
	// corrected before any settlement exists.
	query := `
		INSERT INTO documents (id, kind, number, counterparty_id, issue_date, due_date, total, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			due_date = excluded.due_date
	`
	_, err := db.ExecContext(ctx, query,
		d.ID, d.Kind, d.Number, d.CounterpartyID,
		d.IssueDate.Format(time.RFC3339),
		d.DueDate.Format(time.RFC3339),
		d.Total.String(), d.Currency,
		d.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: document number %s", ledger.ErrDuplicateID, d.Number)
	}
	return err
}

func (s *Store) GetDocument(ctx context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDocument(ctx, s.db, id)
}

func (t *txStore) GetDocument(ctx context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	return getDocument(ctx, t.tx, id)
}

const documentColumns = "id, kind, number, counterparty_id, issue_date, due_date, total, currency, created_at"

func getDocument(ctx context.Context, db dbtx, id ledger.DocumentID) (*ledger.Document, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, counterpartyID ledger.CounterpartyID, kind ledger.DocumentKind) ([]ledger.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDocuments(ctx, s.db, counterpartyID, kind)
}

func (t *txStore) ListDocuments(ctx context.Context, counterpartyID ledger.CounterpartyID, kind ledger.DocumentKind) ([]ledger.Document, error) {
	return listDocuments(ctx, t.tx, counterpartyID, kind)
}

func listDocuments(ctx context.Context, db dbtx, counterpartyID ledger.CounterpartyID, kind ledger.DocumentKind) ([]ledger.Document, error) {
	// Ordering here is what makes FIFO deterministic.
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE counterparty_id = ? AND kind = ?
		ORDER BY due_date ASC, number ASC
	`
	rows, err := db.QueryContext(ctx, query, counterpartyID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []ledger.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*ledger.Document, error) {
	var (
		d                             ledger.Document
		issueDate, dueDate, createdAt string
		total                         string
	)
	err := row.Scan(&d.ID, &d.Kind, &d.Number, &d.CounterpartyID,
		&issueDate, &dueDate, &total, &d.Currency, &createdAt)
	if err != nil {
		return nil, err
	}
	d.IssueDate = parseTime(issueDate)
	d.DueDate = parseTime(dueDate)
	d.CreatedAt = parseTime(createdAt)
	d.Total = mustDecimal(total)
	return &d, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (s *Store) InsertSettlement(ctx context.Context, st ledger.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSettlement(ctx, s.db, st)
}

func (t *txStore) InsertSettlement(ctx context.Context, st ledger.Settlement) error {
	return insertSettlement(ctx, t.tx, st)
}

func insertSettlement(ctx context.Context, db dbtx, st ledger.Settlement) error {
	query := `
		INSERT INTO settlements (id, document_id, allocation_record_id, amount, settled_on, reversed, reversed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		st.ID, st.DocumentID, nullString(string(st.AllocationRecordID)),
		st.Amount.String(),
		st.SettledOn.Format(time.RFC3339),
		st.Reversed, nullTime(st.ReversedAt),
		st.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return ledger.ErrDuplicateID
	}
	return err
}

func (s *Store) VoidSettlement(ctx context.Context, id ledger.SettlementID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return voidSettlement(ctx, s.db, id, at)
}

func (t *txStore) VoidSettlement(ctx context.Context, id ledger.SettlementID, at time.Time) error {
	return voidSettlement(ctx, t.tx, id, at)
}

func voidSettlement(ctx context.Context, db dbtx, id ledger.SettlementID, at time.Time) error {
	res, err := db.ExecContext(ctx,
		"UPDATE settlements SET reversed = 1, reversed_at = ? WHERE id = ? AND reversed = 0",
		at.Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either missing or already voided; tell the caller which.
		var reversed bool
		err := db.QueryRowContext(ctx, "SELECT reversed FROM settlements WHERE id = ?", id).Scan(&reversed)
		if err == sql.ErrNoRows {
			return ledger.ErrSettlementNotFound
		}
		if err != nil {
			return err
		}
		return &ledger.StateError{Entity: "settlement", ID: string(id), From: "reversed", To: "reversed"}
	}
	return nil
}

func (s *Store) SettlementsByDocument(ctx context.Context, id ledger.DocumentID) ([]ledger.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return settlementsByDocument(ctx, s.db, id)
}

func (t *txStore) SettlementsByDocument(ctx context.Context, id ledger.DocumentID) ([]ledger.Settlement, error) {
	return settlementsByDocument(ctx, t.tx, id)
}

func settlementsByDocument(ctx context.Context, db dbtx, id ledger.DocumentID) ([]ledger.Settlement, error) {
	query := `
		SELECT id, document_id, allocation_record_id, amount, settled_on, reversed, reversed_at, created_at
		FROM settlements
		WHERE document_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Settlement
	for rows.Next() {
		var (
			st                   ledger.Settlement
			recordID, reversedAt sql.NullString
			amount               string
			settledOn, createdAt string
		)
		if err := rows.Scan(&st.ID, &st.DocumentID, &recordID, &amount,
			&settledOn, &st.Reversed, &reversedAt, &createdAt); err != nil {
			return nil, err
		}
		st.AllocationRecordID = ledger.RecordID(recordID.String)
		st.Amount = mustDecimal(amount)
		st.SettledOn = parseTime(settledOn)
		st.CreatedAt = parseTime(createdAt)
		if reversedAt.Valid {
			ts := parseTime(reversedAt.String)
			st.ReversedAt = &ts
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (s *Store) InsertVoucher(ctx context.Context, v ledger.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertVoucher(ctx, s.db, v)
}

func (t *txStore) InsertVoucher(ctx context.Context, v ledger.Voucher) error {
	return insertVoucher(ctx, t.tx, v)
}

func insertVoucher(ctx context.Context, db dbtx, v ledger.Voucher) error {
	query := `
		INSERT INTO vouchers (id, type, amount, currency, debit_account_id, credit_account_id, tx_date, description, status, reversed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		v.ID, v.Type, v.Amount.String(), v.Currency,
		v.DebitAccountID, v.CreditAccountID,
		v.Date.Format(time.RFC3339), v.Description, v.Status,
		nullTime(v.ReversedAt),
		v.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return ledger.ErrDuplicateID
	}
	return err
}

func (s *Store) GetVoucher(ctx context.Context, id ledger.VoucherID) (*ledger.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getVoucher(ctx, s.db, id)
}

func (t *txStore) GetVoucher(ctx context.Context, id ledger.VoucherID) (*ledger.Voucher, error) {
	return getVoucher(ctx, t.tx, id)
}

const voucherColumns = "id, type, amount, currency, debit_account_id, credit_account_id, tx_date, description, status, reversed_at, created_at"

func getVoucher(ctx context.Context, db dbtx, id ledger.VoucherID) (*ledger.Voucher, error) {
	row := db.QueryRowContext(ctx, "SELECT "+voucherColumns+" FROM vouchers WHERE id = ?", id)
	v, err := scanVoucher(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) ListVouchers(ctx context.Context, limit int) ([]ledger.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVouchers(ctx, s.db, limit)
}

func (t *txStore) ListVouchers(ctx context.Context, limit int) ([]ledger.Voucher, error) {
	return listVouchers(ctx, t.tx, limit)
}

func listVouchers(ctx context.Context, db dbtx, limit int) ([]ledger.Voucher, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+voucherColumns+" FROM vouchers ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func scanVoucher(row rowScanner) (*ledger.Voucher, error) {
	var (
		v                     ledger.Voucher
		amount, date, created string
		description, reversed sql.NullString
	)
	err := row.Scan(&v.ID, &v.Type, &amount, &v.Currency,
		&v.DebitAccountID, &v.CreditAccountID,
		&date, &description, &v.Status, &reversed, &created)
	if err != nil {
		return nil, err
	}
	v.Amount = mustDecimal(amount)
	v.Date = parseTime(date)
	v.CreatedAt = parseTime(created)
	v.Description = description.String
	if reversed.Valid {
		ts := parseTime(reversed.String)
		v.ReversedAt = &ts
	}
	return &v, nil
}

func (s *Store) MarkVoucherReversed(ctx context.Context, id ledger.VoucherID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markVoucherReversed(ctx, s.db, id, at)
}

func (t *txStore) MarkVoucherReversed(ctx context.Context, id ledger.VoucherID, at time.Time) error {
	return markVoucherReversed(ctx, t.tx, id, at)
}

func markVoucherReversed(ctx context.Context, db dbtx, id ledger.VoucherID, at time.Time) error {
	res, err := db.ExecContext(ctx,
		"UPDATE vouchers SET status = ?, reversed_at = ? WHERE id = ? AND status = ?",
		ledger.VoucherReversed, at.Format(time.RFC3339), id, ledger.VoucherPosted)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := db.QueryRowContext(ctx, "SELECT status FROM vouchers WHERE id = ?", id).Scan(&status)
		if err == sql.ErrNoRows {
			return ledger.ErrVoucherNotFound
		}
		if err != nil {
			return err
		}
		return &ledger.StateError{Entity: "voucher", ID: string(id), From: status, To: string(ledger.VoucherReversed)}
	}
	return nil
}

// =============================================================================
// ALLOCATION GROUPS
// =============================================================================

func (s *Store) InsertAllocationGroup(ctx context.Context, g ledger.AllocationGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertGroup(ctx, s.db, g)
}

func (t *txStore) InsertAllocationGroup(ctx context.Context, g ledger.AllocationGroup) error {
	return insertGroup(ctx, t.tx, g)
}

func insertGroup(ctx context.Context, db dbtx, g ledger.AllocationGroup) error {
	query := `
		INSERT INTO allocation_groups
		(id, direction, strategy, total_amount, allocated_amount, currency, exchange_rate,
		 counterparty_id, cash_account_id, voucher_id, payment_date, reference, notes, status, created_at, reversed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		g.ID, g.Direction, g.Strategy,
		g.TotalAmount.String(), g.AllocatedAmount.String(),
		g.Currency, g.ExchangeRate.String(),
		g.CounterpartyID, g.CashAccountID, g.VoucherID,
		g.PaymentDate.Format(time.RFC3339),
		g.Reference, g.Notes, g.Status,
		g.CreatedAt.Format(time.RFC3339),
		nullTime(g.ReversedAt),
	)
	if isUniqueConstraintError(err) {
		return ledger.ErrDuplicateID
	}
	if err != nil {
		return err
	}

	// The position column preserves the group's line order; record ids
	// are UUIDs and carry no ordering.
	for i, rec := range g.Records {
		_, err := db.ExecContext(ctx, `
			INSERT INTO allocation_records (id, group_id, position, document_id, amount, note, settlement_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.GroupID, i, rec.DocumentID, rec.Amount.String(),
			rec.Note, nullString(string(rec.SettlementID)),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetAllocationGroup(ctx context.Context, id ledger.GroupID) (*ledger.AllocationGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getGroup(ctx, s.db, id)
}

func (t *txStore) GetAllocationGroup(ctx context.Context, id ledger.GroupID) (*ledger.AllocationGroup, error) {
	return getGroup(ctx, t.tx, id)
}

const groupColumns = `id, direction, strategy, total_amount, allocated_amount, currency, exchange_rate,
	counterparty_id, cash_account_id, voucher_id, payment_date, reference, notes, status, created_at, reversed_at`

func getGroup(ctx context.Context, db dbtx, id ledger.GroupID) (*ledger.AllocationGroup, error) {
	row := db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM allocation_groups WHERE id = ?", id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadRecords(ctx, db, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) ListAllocationGroups(ctx context.Context, limit int) ([]ledger.AllocationGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroups(ctx, s.db, limit)
}

func (t *txStore) ListAllocationGroups(ctx context.Context, limit int) ([]ledger.AllocationGroup, error) {
	return listGroups(ctx, t.tx, limit)
}

func listGroups(ctx context.Context, db dbtx, limit int) ([]ledger.AllocationGroup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+groupColumns+" FROM allocation_groups ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AllocationGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadRecords(ctx, db, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanGroup(row rowScanner) (*ledger.AllocationGroup, error) {
	var (
		g                            ledger.AllocationGroup
		total, allocated, rate       string
		paymentDate, createdAt       string
		reference, notes, reversedAt sql.NullString
	)
	err := row.Scan(&g.ID, &g.Direction, &g.Strategy, &total, &allocated,
		&g.Currency, &rate, &g.CounterpartyID, &g.CashAccountID, &g.VoucherID,
		&paymentDate, &reference, &notes, &g.Status, &createdAt, &reversedAt)
	if err != nil {
		return nil, err
	}
	g.TotalAmount = mustDecimal(total)
	g.AllocatedAmount = mustDecimal(allocated)
	g.ExchangeRate = mustDecimal(rate)
	g.PaymentDate = parseTime(paymentDate)
	g.CreatedAt = parseTime(createdAt)
	g.Reference = reference.String
	g.Notes = notes.String
	if reversedAt.Valid {
		ts := parseTime(reversedAt.String)
		g.ReversedAt = &ts
	}
	return &g, nil
}

func loadRecords(ctx context.Context, db dbtx, g *ledger.AllocationGroup) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, group_id, document_id, amount, note, settlement_id
		FROM allocation_records
		WHERE group_id = ?
		ORDER BY position ASC`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec              ledger.AllocationRecord
			amount           string
			note, settlement sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.GroupID, &rec.DocumentID, &amount, &note, &settlement); err != nil {
			return err
		}
		rec.Amount = mustDecimal(amount)
		rec.Note = note.String
		rec.SettlementID = ledger.SettlementID(settlement.String)
		g.Records = append(g.Records, rec)
	}
	return rows.Err()
}

func (s *Store) MarkGroupReversed(ctx context.Context, id ledger.GroupID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markGroupReversed(ctx, s.db, id, at)
}

func (t *txStore) MarkGroupReversed(ctx context.Context, id ledger.GroupID, at time.Time) error {
	return markGroupReversed(ctx, t.tx, id, at)
}

func markGroupReversed(ctx context.Context, db dbtx, id ledger.GroupID, at time.Time) error {
	res, err := db.ExecContext(ctx,
		"UPDATE allocation_groups SET status = ?, reversed_at = ? WHERE id = ? AND status = ?",
		ledger.GroupReversed, at.Format(time.RFC3339), id, ledger.GroupPosted)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := db.QueryRowContext(ctx, "SELECT status FROM allocation_groups WHERE id = ?", id).Scan(&status)
		if err == sql.ErrNoRows {
			return ledger.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		return &ledger.StateError{Entity: "group", ID: string(id), From: status, To: string(ledger.GroupReversed)}
	}
	return nil
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

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
