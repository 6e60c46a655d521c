/*
voucher.go - Balanced debit/credit postings and voucher type rules

PURPOSE:
  A Voucher is one balanced posting in the general ledger: exactly one
  debit leg and one credit leg for the same amount. For this engine each
  allocation group produces exactly one voucher representing the
  aggregate cash movement - one ledger entry per real-world deposit or
  withdrawal, so the ledger reconciles 1:1 against bank statements.
  Per-document detail lives in the allocation breakdown, not here.

CRITICAL INVARIANTS:
  1. debit amount == credit amount == voucher amount (single pair)
  2. debit account != credit account, always
  3. Status only moves PENDING -> POSTED -> REVERSED; REVERSED is terminal
  4. Reversal flips status and stamps ReversedAt; the original legs and
     amount stay inspectable

TYPE RULES (enforced at posting time, vouchers can be created standalone):
  PAYMENT: debit EXPENSE or LIABILITY, credit ASSET
  RECEIPT: debit ASSET, credit INCOME or ASSET (receivable)
  CONTRA:  debit ASSET, credit ASSET
  JOURNAL: any classes, debit != credit account

LEGACY INPUT:
  The historic "DEPOSIT" type is still accepted at the boundary and is
  normalized to RECEIPT before any validation or persistence. The
  reverse mapping is never performed and DEPOSIT is never produced as
  output.
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VOUCHER TYPES AND STATUS
// =============================================================================

type VoucherType string

const (
	VoucherPayment VoucherType = "payment"
	VoucherReceipt VoucherType = "receipt"
	VoucherContra  VoucherType = "contra"
	VoucherJournal VoucherType = "journal"
)

type VoucherStatus string

const (
	VoucherPending  VoucherStatus = "pending"
	VoucherPosted   VoucherStatus = "posted"
	VoucherReversed VoucherStatus = "reversed"
)

// NormalizeVoucherType parses a wire-level voucher type. The legacy
// "deposit" tag maps to receipt; anything else unknown is an error.
func NormalizeVoucherType(raw string) (VoucherType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "payment":
		return VoucherPayment, nil
	case "receipt", "deposit": // deposit is the legacy spelling of receipt
		return VoucherReceipt, nil
	case "contra":
		return VoucherContra, nil
	case "journal":
		return VoucherJournal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVoucherType, raw)
}

// =============================================================================
// VOUCHER
// =============================================================================

// Voucher is a single balanced ledger posting. Amount applies to both
// legs; there is no multi-line journal in this subsystem.
type Voucher struct {
	ID              VoucherID
	Type            VoucherType
	Amount          decimal.Decimal
	Currency        string
	DebitAccountID  AccountID
	CreditAccountID AccountID
	Date            time.Time
	Description     string
	Status          VoucherStatus
	ReversedAt      *time.Time
	CreatedAt       time.Time
}

// Post transitions the voucher PENDING -> POSTED.
func (v *Voucher) Post() error {
	if v.Status != VoucherPending {
		return &StateError{Entity: "voucher", ID: string(v.ID), From: string(v.Status), To: string(VoucherPosted)}
	}
	v.Status = VoucherPosted
	return nil
}

// MarkReversed transitions the voucher POSTED -> REVERSED. The legs and
// amount are left untouched so the original posting stays auditable.
func (v *Voucher) MarkReversed(at time.Time) error {
	if v.Status != VoucherPosted {
		return &StateError{Entity: "voucher", ID: string(v.ID), From: string(v.Status), To: string(VoucherReversed)}
	}
	v.Status = VoucherReversed
	v.ReversedAt = &at
	return nil
}

// =============================================================================
// TYPE RULES - account class constraints per voucher type
// =============================================================================

// ValidateVoucher checks the per-type account class constraints plus the
// universal rules (positive amount, distinct legs). The caller supplies
// the resolved debit and credit accounts.
func ValidateVoucher(v Voucher, debit, credit Account) error {
	if !v.Amount.IsPositive() {
		return &VoucherRuleError{Type: v.Type, Reason: fmt.Sprintf("amount must be positive, got %s", v.Amount)}
	}
	if v.DebitAccountID == v.CreditAccountID {
		return &VoucherRuleError{Type: v.Type, Reason: "debit and credit account must differ"}
	}

	switch v.Type {
	case VoucherPayment:
		if debit.Class != ClassExpense && debit.Class != ClassLiability {
			return legClassError(v.Type, "debit", debit, "expense or liability")
		}
		if credit.Class != ClassAsset {
			return legClassError(v.Type, "credit", credit, "asset")
		}
	case VoucherReceipt:
		if debit.Class != ClassAsset {
			return legClassError(v.Type, "debit", debit, "asset")
		}
		if credit.Class != ClassIncome && credit.Class != ClassAsset {
			return legClassError(v.Type, "credit", credit, "income or asset")
		}
	case VoucherContra:
		if debit.Class != ClassAsset {
			return legClassError(v.Type, "debit", debit, "asset")
		}
		if credit.Class != ClassAsset {
			return legClassError(v.Type, "credit", credit, "asset")
		}
	case VoucherJournal:
		// Any classes; the distinct-legs rule above is the only constraint.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVoucherType, v.Type)
	}
	return nil
}

func legClassError(t VoucherType, leg string, acct Account, want string) error {
	return &VoucherRuleError{
		Type:      t,
		Leg:       leg,
		AccountID: acct.ID,
		Reason:    fmt.Sprintf("%s leg of a %s voucher must be %s, account %s is %s", leg, t, want, acct.Code, acct.Class),
	}
}
