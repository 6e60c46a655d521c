/*
Package allocation implements lump-sum payment distribution across
outstanding documents, with balanced double-entry posting and atomic
reversal. It builds on the ledger package's entity types and stores.

allocator.go - Pure allocation strategies

PURPOSE:
  Given a total payment and a list of outstanding documents, propose a
  per-document distribution. No side effects, fully deterministic for a
  given input - the same proposal can be re-derived for audit.

STRATEGIES:
  FIFO:     oldest due date first (document number breaks ties), each
            document takes min(amountDue, remaining) until the payment
            is exhausted. Leftover payment is reported as Unallocated,
            never silently spread.
  PRO_RATA: each document takes its proportional share of
            min(payment, totalDue), rounded to 2 decimals half-up and
            capped at whatever is still unassigned; the LAST document
            takes the exact remainder instead of its own rounded share.
            The allocated total therefore equals the effective amount
            exactly even when every rounded share rounds up; rounding
            drift concentrates on the tail by convention.
  MANUAL:   no computation here - the caller supplies exact amounts and
            only the validator checks them.
*/
package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// PROPOSAL TYPES
// =============================================================================

// ProposedLine is one document's share of a proposed distribution.
type ProposedLine struct {
	DocumentID     ledger.DocumentID
	DocumentNumber string
	Amount         decimal.Decimal
	AmountDue      decimal.Decimal // due before this allocation
}

// Proposal is the outcome of running a strategy. Allocated + Unallocated
// always equals the requested payment total.
type Proposal struct {
	Strategy    ledger.Strategy
	Lines       []ProposedLine
	Allocated   decimal.Decimal
	Unallocated decimal.Decimal
}

// =============================================================================
// ALLOCATE - strategy dispatch
// =============================================================================

// Allocate proposes a distribution of total across docs under the given
// strategy. Pure and deterministic. Documents without a positive amount
// due are ignored. For the manual strategy nothing is computed: the
// whole total is reported unallocated and the caller's own lines apply.
func Allocate(strategy ledger.Strategy, docs []ledger.OutstandingDocument, total decimal.Decimal) (Proposal, error) {
	if total.IsNegative() || total.IsZero() {
		return Proposal{}, fmt.Errorf("payment total must be positive, got %s", total)
	}

	switch strategy {
	case ledger.StrategyFIFO:
		return allocateFIFO(docs, total), nil
	case ledger.StrategyProRata:
		return allocateProRata(docs, total), nil
	case ledger.StrategyManual:
		return Proposal{Strategy: ledger.StrategyManual, Allocated: decimal.Zero, Unallocated: total}, nil
	}
	return Proposal{}, fmt.Errorf("unknown allocation strategy %q", strategy)
}

// eligible filters to documents with a positive amount due and sorts
// them by due date ascending, document number ascending. The order is
// stable and deterministic; both strategies iterate it.
func eligible(docs []ledger.OutstandingDocument) []ledger.OutstandingDocument {
	out := make([]ledger.OutstandingDocument, 0, len(docs))
	for _, d := range docs {
		if d.AmountDue.IsPositive() {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// =============================================================================
// FIFO
// =============================================================================

func allocateFIFO(docs []ledger.OutstandingDocument, total decimal.Decimal) Proposal {
	remaining := total
	var lines []ProposedLine

	for _, doc := range eligible(docs) {
		if remaining.IsZero() {
			break
		}
		amount := decimal.Min(doc.AmountDue, remaining)
		lines = append(lines, ProposedLine{
			DocumentID:     doc.ID,
			DocumentNumber: doc.Number,
			Amount:         amount,
			AmountDue:      doc.AmountDue,
		})
		remaining = remaining.Sub(amount)
	}

	return Proposal{
		Strategy:    ledger.StrategyFIFO,
		Lines:       lines,
		Allocated:   total.Sub(remaining),
		Unallocated: remaining,
	}
}

// =============================================================================
// PRO-RATA
// =============================================================================

func allocateProRata(docs []ledger.OutstandingDocument, total decimal.Decimal) Proposal {
	open := eligible(docs)

	totalDue := decimal.Zero
	for _, doc := range open {
		totalDue = totalDue.Add(doc.AmountDue)
	}
	if totalDue.IsZero() {
		return Proposal{Strategy: ledger.StrategyProRata, Allocated: decimal.Zero, Unallocated: total}
	}

	effective := decimal.Min(total, totalDue)
	remaining := effective
	var lines []ProposedLine

	for i, doc := range open {
		var amount decimal.Decimal
		if i == len(open)-1 {
			// The last document absorbs the rounding drift so the
			// allocated total equals effective exactly.
			amount = remaining
		} else {
			amount = effective.Mul(doc.AmountDue).Div(totalDue).Round(2)
			// Rounded-up shares must never push the running total past
			// the effective amount, or the remainder goes negative.
			if amount.GreaterThan(remaining) {
				amount = remaining
			}
		}
		if !amount.IsPositive() {
			continue
		}
		lines = append(lines, ProposedLine{
			DocumentID:     doc.ID,
			DocumentNumber: doc.Number,
			Amount:         amount,
			AmountDue:      doc.AmountDue,
		})
		remaining = remaining.Sub(amount)
	}

	return Proposal{
		Strategy:    ledger.StrategyProRata,
		Lines:       lines,
		Allocated:   effective.Sub(remaining),
		Unallocated: total.Sub(effective).Add(remaining),
	}
}
