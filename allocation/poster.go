/*
poster.go - Aggregate voucher posting for allocation groups

PURPOSE:
  Builds and posts the single voucher that carries an allocation
  group's ledger effect. One voucher per group, covering the aggregate
  cash movement - NOT one journal line per allocated document. The
  ledger then reconciles 1:1 against real-world deposits/withdrawals;
  per-document detail lives in the allocation records and settlements.

LEGS:
  RECEIPT: debit cash, credit counter (income/receivable)
  PAYMENT: debit counter (expense/payable), credit cash

The voucher type rules from ledger/voucher.go are enforced here too,
since vouchers can also be created standalone through the API.
*/
package allocation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearbook/allocation-engine/ledger"
)

// VoucherPoster builds the balanced posting for a group.
type VoucherPoster struct{}

func NewVoucherPoster() *VoucherPoster {
	return &VoucherPoster{}
}

// Post builds the group's voucher in POSTED state, validated against
// the per-type account class rules. The caller persists it inside the
// same atomic unit as the group.
func (p *VoucherPoster) Post(group *ledger.AllocationGroup, cash, counter ledger.Account) (*ledger.Voucher, error) {
	var debit, credit ledger.Account
	switch group.Direction {
	case ledger.DirectionReceipt:
		debit, credit = cash, counter
	case ledger.DirectionPayment:
		debit, credit = counter, cash
	default:
		return nil, fmt.Errorf("unknown direction %q", group.Direction)
	}

	v := ledger.Voucher{
		ID:              ledger.VoucherID(uuid.NewString()),
		Type:            group.Direction.VoucherType(),
		Amount:          group.TotalAmount,
		Currency:        group.Currency,
		DebitAccountID:  debit.ID,
		CreditAccountID: credit.ID,
		Date:            group.PaymentDate,
		Description:     voucherDescription(group),
		Status:          ledger.VoucherPending,
		CreatedAt:       time.Now().UTC(),
	}

	if err := ledger.ValidateVoucher(v, debit, credit); err != nil {
		return nil, err
	}
	if err := v.Post(); err != nil {
		return nil, err
	}
	return &v, nil
}

func voucherDescription(group *ledger.AllocationGroup) string {
	verb := "Receipt from"
	if group.Direction == ledger.DirectionPayment {
		verb = "Payment to"
	}
	desc := fmt.Sprintf("%s %s across %d document(s)", verb, group.CounterpartyID, len(group.Records))
	if group.Reference != "" {
		desc += " [" + group.Reference + "]"
	}
	return desc
}
