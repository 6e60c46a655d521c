/*
document.go - Documents (invoices and bills) and their settlements

PURPOSE:
  A Document is money owed in one direction: an invoice (owed to the
  business by a client) or a bill (owed by the business to a vendor).
  A Settlement records money applied against one document.

CRITICAL INVARIANTS:
  1. amountDue = total - sum(active settlements) >= 0, always
  2. Status is a pure function of the settled amount - never stored
  3. Settlements are append-and-void: a reversal flags the settlement
     as reversed, it is never deleted
  4. A document's settled amount changes ONLY through settlement
     creation or voiding, never by direct edit

WHY DERIVED STATUS?
  Storing OPEN/PARTIALLY_SETTLED/SETTLED alongside the settlement rows
  invites drift. Computing it from the rows means the ledger can always
  explain a status by replaying history.

SEE ALSO:
  - resolver.go: amountDue computation against a Store
  - group.go: allocation records that produce settlements
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOCUMENT
// =============================================================================

// DocumentKind tells which way the money flows.
type DocumentKind string

const (
	DocInvoice DocumentKind = "invoice" // receivable: client owes us
	DocBill    DocumentKind = "bill"    // payable: we owe a vendor
)

func (k DocumentKind) Valid() bool {
	return k == DocInvoice || k == DocBill
}

// DocumentStatus is derived from the settled amount; see StatusFor.
type DocumentStatus string

const (
	DocOpen             DocumentStatus = "open"
	DocPartiallySettled DocumentStatus = "partially_settled"
	DocSettled          DocumentStatus = "settled"
)

// Document is an invoice or bill. Total and currency are fixed at
// creation; the settled amount is derived from settlement records.
type Document struct {
	ID             DocumentID
	Kind           DocumentKind
	Number         string // human document number, e.g. INV-2026-001
	CounterpartyID CounterpartyID
	IssueDate      time.Time
	DueDate        time.Time
	Total          decimal.Decimal
	Currency       string
	CreatedAt      time.Time
}

// StatusFor derives the document status from total and settled amounts.
// OPEN when nothing is settled, SETTLED when nothing remains due,
// PARTIALLY_SETTLED otherwise.
func StatusFor(total, settled decimal.Decimal) DocumentStatus {
	if settled.IsZero() {
		return DocOpen
	}
	if total.Sub(settled).IsZero() {
		return DocSettled
	}
	return DocPartiallySettled
}

// =============================================================================
// SETTLEMENT - Money applied against one document
// =============================================================================

// Settlement records an amount applied against exactly one document.
// AllocationRecordID links back to the allocation line that created it;
// it is empty for legacy single-document settlements created outside
// this engine.
//
// Settlements are never deleted. Reversing an allocation voids its
// settlements (Reversed = true), which restores the document's amount
// due while keeping the history inspectable.
type Settlement struct {
	ID                 SettlementID
	DocumentID         DocumentID
	AllocationRecordID RecordID // empty for legacy settlements
	Amount             decimal.Decimal
	SettledOn          time.Time
	Reversed           bool
	ReversedAt         *time.Time
	CreatedAt          time.Time
}
