/*
errors.go - Centralized error types for the ledger domain

PURPOSE:
  All error types in one place for consistency and discoverability.
  The allocation and api packages wrap these with additional context.

ERROR CATEGORIES:
  1. Not-found errors - referenced entity does not exist
  2. State errors - illegal lifecycle transition (e.g. double reversal)
  3. Rule errors - accounting invariant violations
  4. Conflict errors - a concurrent writer consumed a balance first
  5. Configuration errors - tenant setup is incomplete (not user-fixable)

USAGE:
  Callers classify with the helpers:

    if ledger.IsRetryable(err) {
        // re-fetch outstanding documents and retry the whole flow
    }

SEE ALSO:
  - voucher.go: raises VoucherRuleError and StateError
  - allocation/validator.go: raises allocation.ValidationError wrapping
    ErrValidation
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a referenced ledger account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCounterpartyNotFound is returned when a referenced client/vendor doesn't exist.
	ErrCounterpartyNotFound = errors.New("counterparty not found")

	// ErrDocumentNotFound is returned when a referenced invoice/bill doesn't exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrGroupNotFound is returned when a referenced allocation group doesn't exist.
	ErrGroupNotFound = errors.New("allocation group not found")

	// ErrVoucherNotFound is returned when a referenced voucher doesn't exist.
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrSettlementNotFound is returned when a referenced settlement doesn't exist.
	ErrSettlementNotFound = errors.New("settlement not found")

	// ErrValidation is the root of all user-correctable allocation failures.
	ErrValidation = errors.New("allocation validation failed")

	// ErrInvalidState is returned for illegal lifecycle transitions, such as
	// reversing an already-reversed group. Wrapped by StateError.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrAllocationConflict is returned when the commit-time re-check finds a
	// document's amount due consumed by a concurrent allocation. Retryable:
	// the caller should re-fetch outstanding documents and retry the whole
	// flow, not just the failed line.
	ErrAllocationConflict = errors.New("allocation conflict: amount due changed")

	// ErrCounterAccountMissing means no default counter account is configured
	// for the tenant and direction. This is a setup defect, not something the
	// caller can fix by editing amounts.
	ErrCounterAccountMissing = errors.New("no counter account configured")

	// ErrUnknownVoucherType is returned for voucher types outside the closed set.
	ErrUnknownVoucherType = errors.New("unknown voucher type")

	// ErrVoucherRule is the root of voucher account-class violations.
	ErrVoucherRule = errors.New("voucher type rule violated")

	// ErrDuplicateID is returned when an insert collides with an existing id.
	ErrDuplicateID = errors.New("duplicate id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StateError reports an illegal lifecycle transition.
type StateError struct {
	Entity string // "voucher", "group", "settlement"
	ID     string
	From   string
	To     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// VoucherRuleError reports which type rule a voucher posting violated.
type VoucherRuleError struct {
	Type      VoucherType
	Leg       string // "debit" or "credit", empty for universal rules
	AccountID AccountID
	Reason    string
}

func (e *VoucherRuleError) Error() string { return e.Reason }

func (e *VoucherRuleError) Unwrap() error { return ErrVoucherRule }

// ConflictError reports a document whose amount due was consumed by a
// concurrent allocation between proposal and commit.
type ConflictError struct {
	DocumentID DocumentID
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s: requested %s but only %s remains due",
		e.DocumentID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *ConflictError) Unwrap() error { return ErrAllocationConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCounterpartyNotFound) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrVoucherNotFound) ||
		errors.Is(err, ErrSettlementNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrVoucherRule) ||
		errors.Is(err, ErrUnknownVoucherType) ||
		errors.Is(err, ErrDuplicateID)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAllocationConflict)
}

// IsConfigurationError returns true for setup defects the caller cannot
// fix inline. The API surfaces these distinctly from validation errors.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrCounterAccountMissing)
}
