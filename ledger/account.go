/*
Package ledger provides the core double-entry accounting domain.

PURPOSE:
  This package contains the entity types and invariants shared by the whole
  engine: ledger accounts, documents (invoices and bills), settlements,
  vouchers, and allocation groups. Balance-affecting state is derived by
  replaying settlement records - a document never carries a mutable
  "amount settled" field that can drift out of sync.

KEY CONCEPTS IN THIS FILE (account.go):
  - Account: an entry in the chart of accounts, with a classification
  - AccountClass: ASSET / LIABILITY / EQUITY / INCOME / EXPENSE
  - Counterparty: the client or vendor on the other side of a cash movement

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal everywhere; no binary floats
  2. Type Safety: Strong typing for IDs prevents mixing account/document IDs
  3. Derivation: Statuses and balances are pure functions of recorded facts
  4. Auditability: Reversals flag records; nothing is destroyed

SEE ALSO:
  - document.go: Documents and settlements
  - voucher.go: Balanced debit/credit postings and type rules
  - resolver.go: Outstanding balance computation
*/
package ledger

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type CounterpartyID string
type DocumentID string
type SettlementID string
type VoucherID string
type GroupID string
type RecordID string

// =============================================================================
// ACCOUNT - Chart of accounts entry
// =============================================================================

// AccountClass is the accounting classification of an account.
// Posting rules depend on it (see voucher.go); this subsystem never
// changes an account's class.
type AccountClass string

const (
	ClassAsset     AccountClass = "asset"
	ClassLiability AccountClass = "liability"
	ClassEquity    AccountClass = "equity"
	ClassIncome    AccountClass = "income"
	ClassExpense   AccountClass = "expense"
)

// Valid reports whether c is one of the five known classifications.
func (c AccountClass) Valid() bool {
	switch c {
	case ClassAsset, ClassLiability, ClassEquity, ClassIncome, ClassExpense:
		return true
	}
	return false
}

// Account is a chart-of-accounts entry. Read-only to this engine:
// accounts are created during setup and only looked up afterwards.
type Account struct {
	ID    AccountID
	Code  string
	Name  string
	Class AccountClass
}

// =============================================================================
// COUNTERPARTY - Client or vendor
// =============================================================================

type CounterpartyKind string

const (
	CounterpartyClient CounterpartyKind = "client" // money comes in from them
	CounterpartyVendor CounterpartyKind = "vendor" // money goes out to them
)

func (k CounterpartyKind) Valid() bool {
	return k == CounterpartyClient || k == CounterpartyVendor
}

// Counterparty is the party on the other side of documents and payments.
// The engine only needs identity, kind, and a display name; the full
// party directory lives outside this subsystem.
type Counterparty struct {
	ID   CounterpartyID
	Kind CounterpartyKind
	Name string
}
