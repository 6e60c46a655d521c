/*
group.go - Allocation groups and their records

PURPOSE:
  An AllocationGroup captures one lump-sum cash movement split across
  multiple documents of one counterparty. The group owns its
  AllocationRecords (cascade on reverse) and references the single
  voucher that carries the aggregate ledger effect.

CRITICAL INVARIANTS:
  1. Each record references exactly one document, never zero, never more
  2. sum(record amounts) == group total (within the rounding tolerance)
     before the group can be POSTED
  3. The group holds exactly one voucher, not shared with anything else
  4. Status only moves DRAFT -> POSTED -> REVERSED

OWNERSHIP:
  The group owns its records. It does NOT own the documents or the
  settlements its records point at - those are shared entities looked
  up by id.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DIRECTION AND STRATEGY
// =============================================================================

// Direction tells whether the cash moved in or out.
type Direction string

const (
	DirectionReceipt Direction = "receipt" // money in, from a client
	DirectionPayment Direction = "payment" // money out, to a vendor
)

func (d Direction) Valid() bool {
	return d == DirectionReceipt || d == DirectionPayment
}

// DocumentKind returns the kind of document this direction settles.
func (d Direction) DocumentKind() DocumentKind {
	if d == DirectionReceipt {
		return DocInvoice
	}
	return DocBill
}

// CounterpartyKind returns which party kind matches this direction.
func (d Direction) CounterpartyKind() CounterpartyKind {
	if d == DirectionReceipt {
		return CounterpartyClient
	}
	return CounterpartyVendor
}

// VoucherType returns the voucher type posted for this direction.
func (d Direction) VoucherType() VoucherType {
	if d == DirectionReceipt {
		return VoucherReceipt
	}
	return VoucherPayment
}

// Strategy selects how a lump sum is distributed across documents.
type Strategy string

const (
	StrategyFIFO    Strategy = "fifo"     // oldest due date first
	StrategyProRata Strategy = "pro_rata" // proportional to outstanding balance
	StrategyManual  Strategy = "manual"   // caller supplies exact amounts
)

func (s Strategy) Valid() bool {
	return s == StrategyFIFO || s == StrategyProRata || s == StrategyManual
}

// =============================================================================
// ALLOCATION GROUP AND RECORDS
// =============================================================================

type GroupStatus string

const (
	GroupDraft    GroupStatus = "draft"
	GroupPosted   GroupStatus = "posted"
	GroupReversed GroupStatus = "reversed"
)

// AllocationRecord is one line of a group: an amount applied to exactly
// one document. Immutable after creation except for the settlement
// back-reference, which is filled when the settlement is created.
type AllocationRecord struct {
	ID           RecordID
	GroupID      GroupID
	DocumentID   DocumentID
	Amount       decimal.Decimal
	Note         string
	SettlementID SettlementID // filled once posted
}

// AllocationGroup is one lump-sum payment distributed across documents.
type AllocationGroup struct {
	ID              GroupID
	Direction       Direction
	Strategy        Strategy
	TotalAmount     decimal.Decimal
	AllocatedAmount decimal.Decimal // sum of record amounts
	Currency        string
	ExchangeRate    decimal.Decimal // fixed rate recorded per transaction; 1 for base currency
	CounterpartyID  CounterpartyID
	CashAccountID   AccountID
	VoucherID       VoucherID
	PaymentDate     time.Time
	Reference       string
	Notes           string
	Status          GroupStatus
	Records         []AllocationRecord
	CreatedAt       time.Time
	ReversedAt      *time.Time
}

// SumRecords returns the sum of the record amounts.
func (g *AllocationGroup) SumRecords() decimal.Decimal {
	sum := decimal.Zero
	for _, rec := range g.Records {
		sum = sum.Add(rec.Amount)
	}
	return sum
}
