/*
validator.go - Allocation invariants, checked before any state exists

PURPOSE:
  Enforces every rule an allocation group must satisfy before the
  orchestrator creates persistent state. Fails fast on the first
  violation; the error names the rule and the offending record so the
  caller can point at the exact line.

RULE ORDER:
  1. At least one record
  2. Every amount strictly positive
  3. Every record's document exists and belongs to the group's
     counterparty (no cross-counterparty allocation)
  4. sum(amounts) == group total within the rounding tolerance
  5. No document is allocated beyond its amount due, computed NOW -
     amounts summed per document (duplicate lines cannot slip past the
     check separately), re-checked rather than trusted from the
     proposal step
  6. Cash account is an ASSET
  7. Counter account class matches the direction (income/receivable for
     receipts, payable/expense for payments)

Rule 5 runs again inside the orchestrator's transaction; a failure
there is a concurrency conflict, not a validation error.
*/
package allocation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// RULES AND VALIDATION ERROR
// =============================================================================

// Rule identifies which invariant a validation failure violated.
type Rule int

const (
	RuleNoRecords         Rule = 1 // group has no allocation records
	RulePositiveAmount    Rule = 2 // record amount not strictly positive
	RuleCounterpartyMatch Rule = 3 // document belongs to another counterparty
	RuleBalancedTotal     Rule = 4 // record sum drifts from group total
	RuleExceedsDue        Rule = 5 // document allocated beyond its amount due
	RuleCashAccountClass  Rule = 6 // cash account is not an asset
	RuleCounterClass      Rule = 7 // counter account class mismatches direction
)

// ValidationError names the violated rule and, when one record is at
// fault, which record. RecordIndex is -1 for group-level rules.
type ValidationError struct {
	Rule        Rule
	RecordIndex int
	DocumentID  ledger.DocumentID
	Message     string
}

func (e *ValidationError) Error() string {
	if e.RecordIndex >= 0 {
		return fmt.Sprintf("rule %d, record %d: %s", e.Rule, e.RecordIndex, e.Message)
	}
	return fmt.Sprintf("rule %d: %s", e.Rule, e.Message)
}

func (e *ValidationError) Unwrap() error { return ledger.ErrValidation }

func ruleErr(rule Rule, index int, docID ledger.DocumentID, format string, args ...any) error {
	return &ValidationError{Rule: rule, RecordIndex: index, DocumentID: docID, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks allocation groups against live store state.
type Validator struct {
	Store     ledger.Store
	Tolerance decimal.Decimal
}

func NewValidator(store ledger.Store, tolerance decimal.Decimal) *Validator {
	return &Validator{Store: store, Tolerance: tolerance}
}

// Validate runs rules 1-7 in order against the group and the resolved
// cash and counter accounts. First failure wins.
func (v *Validator) Validate(ctx context.Context, group *ledger.AllocationGroup, cash, counter ledger.Account) error {
	// Rule 1: at least one record.
	if len(group.Records) == 0 {
		return ruleErr(RuleNoRecords, -1, "", "allocation has no records")
	}

	// Rule 2: strictly positive amounts.
	for i, rec := range group.Records {
		if !rec.Amount.IsPositive() {
			return ruleErr(RulePositiveAmount, i, rec.DocumentID,
				"amount must be positive, got %s", rec.Amount.StringFixed(2))
		}
	}

	// Rule 3: each document exists and belongs to the group's counterparty.
	for i, rec := range group.Records {
		doc, err := v.Store.GetDocument(ctx, rec.DocumentID)
		if err != nil {
			return err
		}
		if doc.CounterpartyID != group.CounterpartyID {
			return ruleErr(RuleCounterpartyMatch, i, rec.DocumentID,
				"document %s belongs to counterparty %s, group is for %s",
				doc.Number, doc.CounterpartyID, group.CounterpartyID)
		}
		if doc.Kind != group.Direction.DocumentKind() {
			return ruleErr(RuleCounterpartyMatch, i, rec.DocumentID,
				"document %s is a %s, a %s allocation settles %ss",
				doc.Number, doc.Kind, group.Direction, group.Direction.DocumentKind())
		}
	}

	// Rule 4: record sum equals the group total within tolerance.
	// The only place a numeric discrepancy is tolerated; pro-rata
	// rounding needs it.
	drift := group.SumRecords().Sub(group.TotalAmount).Abs()
	if drift.GreaterThan(v.Tolerance) {
		return ruleErr(RuleBalancedTotal, -1, "",
			"records sum to %s, group total is %s (tolerance %s)",
			group.SumRecords().StringFixed(2), group.TotalAmount.StringFixed(2), v.Tolerance)
	}

	// Rule 5: no document allocated beyond its amount due right now.
	if err := v.CheckAmountsDue(ctx, group); err != nil {
		return err
	}

	// Rule 6: cash account must be an asset.
	if cash.Class != ledger.ClassAsset {
		return ruleErr(RuleCashAccountClass, -1, "",
			"cash account %s must be an asset, is %s", cash.Code, cash.Class)
	}

	// Rule 7: counter account class must fit the direction.
	switch group.Direction {
	case ledger.DirectionReceipt:
		if counter.Class != ledger.ClassIncome && counter.Class != ledger.ClassAsset {
			return ruleErr(RuleCounterClass, -1, "",
				"receipt counter account %s must be income or a receivable asset, is %s", counter.Code, counter.Class)
		}
	case ledger.DirectionPayment:
		if counter.Class != ledger.ClassExpense && counter.Class != ledger.ClassLiability {
			return ruleErr(RuleCounterClass, -1, "",
				"payment counter account %s must be expense or a payable liability, is %s", counter.Code, counter.Class)
		}
	default:
		return ruleErr(RuleCounterClass, -1, "", "unknown direction %q", group.Direction)
	}

	return nil
}

// CheckAmountsDue enforces rule 5 against current store state. Amounts
// are summed per document, so two records naming the same document
// cannot jointly exceed what one of them could not. Also run inside the
// orchestrator's transaction as the commit-time defense against
// concurrent allocations; see Orchestrator.Create.
func (v *Validator) CheckAmountsDue(ctx context.Context, group *ledger.AllocationGroup) error {
	resolver := ledger.NewBalanceResolver(v.Store)
	due := make(map[ledger.DocumentID]decimal.Decimal)
	number := make(map[ledger.DocumentID]string)
	applied := make(map[ledger.DocumentID]decimal.Decimal)

	for i, rec := range group.Records {
		if _, ok := due[rec.DocumentID]; !ok {
			doc, err := v.Store.GetDocument(ctx, rec.DocumentID)
			if err != nil {
				return err
			}
			d, err := resolver.AmountDue(ctx, *doc)
			if err != nil {
				return err
			}
			due[rec.DocumentID] = d
			number[rec.DocumentID] = doc.Number
		}
		total := applied[rec.DocumentID].Add(rec.Amount)
		if total.GreaterThan(due[rec.DocumentID]) {
			return ruleErr(RuleExceedsDue, i, rec.DocumentID,
				"allocating %s exceeds %s remaining due on %s",
				total.StringFixed(2), due[rec.DocumentID].StringFixed(2), number[rec.DocumentID])
		}
		applied[rec.DocumentID] = total
	}
	return nil
}
