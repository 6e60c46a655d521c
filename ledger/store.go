/*
store.go - Persistence interface for the ledger domain

PURPOSE:
  Defines the interface between domain logic and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Entity persistence (accounts, counterparties, documents,
           settlements, vouchers, allocation groups)
  TxStore: Store plus WithTx, the atomic unit the orchestrator runs in

APPEND-AND-VOID CONTRACT:
  Settlements and vouchers are never deleted. Reversal voids a
  settlement (reversed flag) and flips a voucher to REVERSED; the
  original amounts stay readable. There is no UpdateSettlementAmount and
  no DeleteVoucher, by contract.

ATOMIC UNIT:
  WithTx() gives the allocation orchestrator all-or-nothing semantics:
  group + records + settlements + voucher appear together or not at all,
  and concurrent readers never observe a partial group.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - resolver.go: read-side consumer of this interface
  - allocation/orchestrator.go: transactional consumer
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Entity persistence
// =============================================================================

// Store handles persistence for all ledger entities.
//
// Write surface is deliberately narrow: settlements can only be
// inserted or voided, vouchers only inserted or marked reversed, groups
// only inserted or marked reversed. Corrections happen via reversal.
type Store interface {
	// Accounts (setup-time writes, read-only afterwards)
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	// Counterparties
	SaveCounterparty(ctx context.Context, c Counterparty) error
	GetCounterparty(ctx context.Context, id CounterpartyID) (*Counterparty, error)
	ListCounterparties(ctx context.Context) ([]Counterparty, error)

	// Documents
	SaveDocument(ctx context.Context, d Document) error
	GetDocument(ctx context.Context, id DocumentID) (*Document, error)
	// ListDocuments returns the counterparty's documents of the given kind,
	// ordered by due date ascending then number ascending.
	ListDocuments(ctx context.Context, counterpartyID CounterpartyID, kind DocumentKind) ([]Document, error)

	// Settlements (insert and void only; never deleted)
	InsertSettlement(ctx context.Context, s Settlement) error
	VoidSettlement(ctx context.Context, id SettlementID, at time.Time) error
	// SettlementsByDocument returns every settlement against the document,
	// voided ones included, ordered by creation.
	SettlementsByDocument(ctx context.Context, id DocumentID) ([]Settlement, error)

	// Vouchers (insert and reverse only)
	InsertVoucher(ctx context.Context, v Voucher) error
	GetVoucher(ctx context.Context, id VoucherID) (*Voucher, error)
	ListVouchers(ctx context.Context, limit int) ([]Voucher, error)
	MarkVoucherReversed(ctx context.Context, id VoucherID, at time.Time) error

	// Allocation groups. InsertAllocationGroup persists the group together
	// with its records; GetAllocationGroup loads them back nested.
	InsertAllocationGroup(ctx context.Context, g AllocationGroup) error
	GetAllocationGroup(ctx context.Context, id GroupID) (*AllocationGroup, error)
	ListAllocationGroups(ctx context.Context, limit int) ([]AllocationGroup, error)
	MarkGroupReversed(ctx context.Context, id GroupID, at time.Time) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
// If fn returns an error the transaction is rolled back; if fn returns
// nil it is committed. No partial state is ever visible outside fn.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
