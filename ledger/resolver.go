/*
resolver.go - Document balance resolution

PURPOSE:
  Computes the outstanding amount due on a document by replaying its
  settlement records: amountDue = total - sum(active settlements).
  There is no stored "amount settled" column to drift out of sync;
  voided settlements simply stop counting.

SIDE EFFECTS:
  None. The resolver only reads.

PRECISION:
  All arithmetic is decimal.Decimal. Summing many small settlements in
  binary floating point accumulates rounding error; exact decimals
  don't.

SEE ALSO:
  - document.go: StatusFor, the pure status function
  - allocation/allocator.go: consumes OutstandingDocument lists
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// OutstandingDocument pairs a document with its computed amount due and
// derived status at resolution time.
type OutstandingDocument struct {
	Document
	AmountSettled decimal.Decimal
	AmountDue     decimal.Decimal
	Status        DocumentStatus
}

// BalanceResolver computes outstanding balances against a Store.
type BalanceResolver struct {
	Store Store
}

func NewBalanceResolver(store Store) *BalanceResolver {
	return &BalanceResolver{Store: store}
}

// Resolve computes the settled amount, amount due, and status for one
// document.
func (r *BalanceResolver) Resolve(ctx context.Context, doc Document) (OutstandingDocument, error) {
	settlements, err := r.Store.SettlementsByDocument(ctx, doc.ID)
	if err != nil {
		return OutstandingDocument{}, fmt.Errorf("resolve %s: %w", doc.ID, err)
	}

	settled := decimal.Zero
	for _, s := range settlements {
		if s.Reversed {
			continue
		}
		settled = settled.Add(s.Amount)
	}

	return OutstandingDocument{
		Document:      doc,
		AmountSettled: settled,
		AmountDue:     doc.Total.Sub(settled),
		Status:        StatusFor(doc.Total, settled),
	}, nil
}

// AmountDue returns just the outstanding amount for one document.
func (r *BalanceResolver) AmountDue(ctx context.Context, doc Document) (decimal.Decimal, error) {
	out, err := r.Resolve(ctx, doc)
	if err != nil {
		return decimal.Zero, err
	}
	return out.AmountDue, nil
}

// Outstanding returns the counterparty's documents of the given kind
// that still have an amount due, in due-date order (ties broken by
// document number, matching the FIFO allocation order).
func (r *BalanceResolver) Outstanding(ctx context.Context, counterpartyID CounterpartyID, kind DocumentKind) ([]OutstandingDocument, error) {
	docs, err := r.Store.ListDocuments(ctx, counterpartyID, kind)
	if err != nil {
		return nil, err
	}

	var out []OutstandingDocument
	for _, doc := range docs {
		resolved, err := r.Resolve(ctx, doc)
		if err != nil {
			return nil, err
		}
		if resolved.AmountDue.IsPositive() {
			out = append(out, resolved)
		}
	}
	return out, nil
}
