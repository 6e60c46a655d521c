/*
orchestrator_test.go - End-to-end tests for allocation create/reverse

Tests for:
- FIFO receipt walkthrough: voucher, settlements, statuses, balances
- Atomicity: a failure mid-transaction leaves no partial state
- Reversal: balances restored, second reversal rejected
- Concurrency: commit-time conflict when a competing allocation lands
  between validation and the transaction
*/
package allocation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbook/allocation-engine/allocation"
	"github.com/clearbook/allocation-engine/config"
	"github.com/clearbook/allocation-engine/ledger"
	memstore "github.com/clearbook/allocation-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func testDefaults() config.PostingDefaults {
	return config.PostingDefaults{
		ReceiptCounterAccount: arAcct.ID,
		PaymentCounterAccount: apAcct.ID,
		RoundingTolerance:     dec("0.01"),
	}
}

// newOrchestratorFixture seeds the accounts, one client, and the three
// standard invoices: 300.00 due Jan 10, 200.00 due Jan 20, 100.00 due
// Feb 1.
func newOrchestratorFixture(t *testing.T) (*allocation.Orchestrator, *memstore.Memory) {
	t.Helper()
	store := memstore.NewMemory()
	ctx := context.Background()

	for _, a := range []ledger.Account{cashAcct, arAcct, apAcct, expenseAcct} {
		require.NoError(t, store.SaveAccount(ctx, a))
	}
	require.NoError(t, store.SaveCounterparty(ctx, ledger.Counterparty{
		ID: "cp-1", Kind: ledger.CounterpartyClient, Name: "Northwind",
	}))

	invoices := []struct {
		id, number, total string
		due               time.Time
	}{
		{"doc-1", "INV-1", "300.00", day(10)},
		{"doc-2", "INV-2", "200.00", day(20)},
		{"doc-3", "INV-3", "100.00", time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, inv := range invoices {
		require.NoError(t, store.SaveDocument(ctx, ledger.Document{
			ID: ledger.DocumentID(inv.id), Kind: ledger.DocInvoice, Number: inv.number,
			CounterpartyID: "cp-1", DueDate: inv.due, Total: dec(inv.total), Currency: "USD",
		}))
	}

	return allocation.NewOrchestrator(store, testDefaults(), nil), store
}

func fifoReceipt(total string) allocation.CreateRequest {
	return allocation.CreateRequest{
		Direction:      ledger.DirectionReceipt,
		Strategy:       ledger.StrategyFIFO,
		TotalAmount:    dec(total),
		PaymentDate:    day(15),
		CashAccountID:  cashAcct.ID,
		CounterpartyID: "cp-1",
		Reference:      "WIRE-20260115",
	}
}

func amountDue(t *testing.T, store ledger.Store, id ledger.DocumentID) ledger.OutstandingDocument {
	t.Helper()
	ctx := context.Background()
	doc, err := store.GetDocument(ctx, id)
	require.NoError(t, err)
	resolved, err := ledger.NewBalanceResolver(store).Resolve(ctx, *doc)
	require.NoError(t, err)
	return resolved
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_FIFOReceipt_Walkthrough(t *testing.T) {
	// GIVEN: Invoices of 300.00, 200.00, 100.00 due
	// WHEN: Posting a 450.00 FIFO receipt
	// THEN: INV-1 settles fully, INV-2 goes partial, INV-3 stays open,
	//       and one aggregate voucher debits cash / credits the
	//       receivable account for 450.00

	o, store := newOrchestratorFixture(t)
	ctx := context.Background()

	group, err := o.Create(ctx, fifoReceipt("450.00"))
	require.NoError(t, err)

	assert.Equal(t, ledger.GroupPosted, group.Status)
	assert.True(t, group.AllocatedAmount.Equal(dec("450.00")))
	require.Len(t, group.Records, 2)
	assert.True(t, group.Records[0].Amount.Equal(dec("300.00")))
	assert.True(t, group.Records[1].Amount.Equal(dec("150.00")))
	for _, rec := range group.Records {
		assert.NotEmpty(t, rec.SettlementID, "every record links its settlement")
	}

	// Voucher: one aggregate posting for the full amount.
	voucher, err := store.GetVoucher(ctx, group.VoucherID)
	require.NoError(t, err)
	assert.Equal(t, ledger.VoucherReceipt, voucher.Type)
	assert.Equal(t, ledger.VoucherPosted, voucher.Status)
	assert.True(t, voucher.Amount.Equal(dec("450.00")))
	assert.Equal(t, cashAcct.ID, voucher.DebitAccountID)
	assert.Equal(t, arAcct.ID, voucher.CreditAccountID)

	// Document statuses derive from settlements.
	inv1 := amountDue(t, store, "doc-1")
	assert.Equal(t, ledger.DocSettled, inv1.Status)
	assert.True(t, inv1.AmountDue.IsZero())

	inv2 := amountDue(t, store, "doc-2")
	assert.Equal(t, ledger.DocPartiallySettled, inv2.Status)
	assert.True(t, inv2.AmountDue.Equal(dec("50.00")))

	inv3 := amountDue(t, store, "doc-3")
	assert.Equal(t, ledger.DocOpen, inv3.Status)
	assert.True(t, inv3.AmountDue.Equal(dec("100.00")))
}

func TestCreate_ManualLines_Respected(t *testing.T) {
	o, store := newOrchestratorFixture(t)
	ctx := context.Background()

	req := fifoReceipt("120.00")
	req.Strategy = ledger.StrategyManual
	req.Lines = []allocation.Line{
		{DocumentID: "doc-2", Amount: dec("70.00"), Note: "partial on INV-2"},
		{DocumentID: "doc-3", Amount: dec("50.00")},
	}

	group, err := o.Create(ctx, req)
	require.NoError(t, err)

	require.Len(t, group.Records, 2)
	assert.True(t, amountDue(t, store, "doc-1").AmountDue.Equal(dec("300.00")), "untouched")
	assert.True(t, amountDue(t, store, "doc-2").AmountDue.Equal(dec("130.00")))
	assert.True(t, amountDue(t, store, "doc-3").AmountDue.Equal(dec("50.00")))
}

func TestCreate_DuplicateLinesCannotOverAllocate(t *testing.T) {
	// GIVEN: A manual receipt naming the 300.00 invoice twice, each line
	//        within the amount due on its own
	// WHEN: Posting
	// THEN: Rejected as validation; no settlements land and the invoice
	//       never goes below zero due

	o, store := newOrchestratorFixture(t)
	ctx := context.Background()

	req := fifoReceipt("600.00")
	req.Strategy = ledger.StrategyManual
	req.Lines = []allocation.Line{
		{DocumentID: "doc-1", Amount: dec("300.00")},
		{DocumentID: "doc-1", Amount: dec("300.00")},
	}

	_, err := o.Create(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	settlements, err := store.SettlementsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, settlements)
	assert.True(t, amountDue(t, store, "doc-1").AmountDue.Equal(dec("300.00")))
}

func TestCreate_OverpaymentRejected(t *testing.T) {
	// 700.00 against 600.00 total due: rejected, nothing written.
	o, store := newOrchestratorFixture(t)

	_, err := o.Create(context.Background(), fifoReceipt("700.00"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	groups, err := store.ListAllocationGroups(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestCreate_CounterpartyKindMismatch(t *testing.T) {
	o, _ := newOrchestratorFixture(t)

	req := fifoReceipt("100.00")
	req.Direction = ledger.DirectionPayment // cp-1 is a client
	_, err := o.Create(context.Background(), req)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestCreate_MissingCounterAccountIsConfigurationError(t *testing.T) {
	store := memstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, cashAcct))
	require.NoError(t, store.SaveCounterparty(ctx, ledger.Counterparty{
		ID: "cp-1", Kind: ledger.CounterpartyClient, Name: "Northwind",
	}))
	require.NoError(t, store.SaveDocument(ctx, ledger.Document{
		ID: "doc-1", Kind: ledger.DocInvoice, Number: "INV-1",
		CounterpartyID: "cp-1", DueDate: day(10), Total: dec("300.00"), Currency: "USD",
	}))

	o := allocation.NewOrchestrator(store, config.PostingDefaults{RoundingTolerance: dec("0.01")}, nil)
	_, err := o.Create(ctx, fifoReceipt("100.00"))
	assert.True(t, ledger.IsConfigurationError(err), "got %v", err)
}

// =============================================================================
// ATOMICITY
// =============================================================================

// failingGroupInsert makes InsertAllocationGroup fail inside the
// transaction, after the voucher and settlements were written.
type failingGroupInsert struct {
	ledger.TxStore
}

type failingGroupInsertTx struct {
	ledger.Store
}

func (s *failingGroupInsert) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.TxStore.WithTx(ctx, func(tx ledger.Store) error {
		return fn(&failingGroupInsertTx{tx})
	})
}

func (t *failingGroupInsertTx) InsertAllocationGroup(context.Context, ledger.AllocationGroup) error {
	return errors.New("disk full")
}

func TestCreate_FailureMidTransaction_NothingPersists(t *testing.T) {
	// GIVEN: The group insert fails after voucher and settlements
	// WHEN: Posting an allocation
	// THEN: No voucher, no settlements, balances untouched

	_, store := newOrchestratorFixture(t)
	o := allocation.NewOrchestrator(&failingGroupInsert{store}, testDefaults(), nil)
	ctx := context.Background()

	_, err := o.Create(ctx, fifoReceipt("450.00"))
	require.Error(t, err)

	vouchers, err := store.ListVouchers(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, vouchers, "voucher must roll back")

	settlements, err := store.SettlementsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, settlements, "settlements must roll back")

	assert.True(t, amountDue(t, store, "doc-1").AmountDue.Equal(dec("300.00")))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// racingStore injects a competing settlement at transaction start,
// simulating another allocation committing between the pre-transaction
// validation and this transaction.
type racingStore struct {
	ledger.TxStore
	raced bool
}

func (s *racingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.TxStore.WithTx(ctx, func(tx ledger.Store) error {
		if !s.raced {
			s.raced = true
			competing := ledger.Settlement{
				ID: "st-race", DocumentID: "doc-1",
				Amount: dec("300.00"), SettledOn: day(14), CreatedAt: time.Now().UTC(),
			}
			if err := tx.InsertSettlement(ctx, competing); err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func TestCreate_ConcurrentSettlement_ConflictNotValidation(t *testing.T) {
	// GIVEN: A competing allocation consumes INV-1 inside the window
	// WHEN: Posting a 450.00 FIFO receipt that planned 300.00 on INV-1
	// THEN: The error is a retryable conflict, not a validation error

	_, store := newOrchestratorFixture(t)
	o := allocation.NewOrchestrator(&racingStore{TxStore: store}, testDefaults(), nil)

	_, err := o.Create(context.Background(), fifoReceipt("450.00"))
	require.Error(t, err)
	assert.True(t, ledger.IsRetryable(err), "got %v", err)
	assert.NotErrorIs(t, err, ledger.ErrValidation)

	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ledger.DocumentID("doc-1"), conflict.DocumentID)
	assert.True(t, conflict.Available.IsZero())
}

// =============================================================================
// REVERSE
// =============================================================================

func TestReverse_RestoresBalances(t *testing.T) {
	o, store := newOrchestratorFixture(t)
	ctx := context.Background()

	group, err := o.Create(ctx, fifoReceipt("450.00"))
	require.NoError(t, err)

	reversed, err := o.Reverse(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.GroupReversed, reversed.Status)
	require.NotNil(t, reversed.ReversedAt)

	// Balances are fully restored.
	assert.True(t, amountDue(t, store, "doc-1").AmountDue.Equal(dec("300.00")))
	assert.True(t, amountDue(t, store, "doc-2").AmountDue.Equal(dec("200.00")))

	// Settlements are voided, not deleted.
	settlements, err := store.SettlementsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.True(t, settlements[0].Reversed)
	assert.NotNil(t, settlements[0].ReversedAt)

	// The voucher keeps its legs and amount for audit.
	voucher, err := store.GetVoucher(ctx, group.VoucherID)
	require.NoError(t, err)
	assert.Equal(t, ledger.VoucherReversed, voucher.Status)
	assert.True(t, voucher.Amount.Equal(dec("450.00")))
}

func TestReverse_SecondCallRejected(t *testing.T) {
	o, _ := newOrchestratorFixture(t)
	ctx := context.Background()

	group, err := o.Create(ctx, fifoReceipt("450.00"))
	require.NoError(t, err)

	_, err = o.Reverse(ctx, group.ID)
	require.NoError(t, err)

	_, err = o.Reverse(ctx, group.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestReverse_UnknownGroup(t *testing.T) {
	o, _ := newOrchestratorFixture(t)
	_, err := o.Reverse(context.Background(), "grp-nope")
	assert.ErrorIs(t, err, ledger.ErrGroupNotFound)
}

func TestReverse_ThenReallocate(t *testing.T) {
	// After a reversal the same money can be allocated again.
	o, _ := newOrchestratorFixture(t)
	ctx := context.Background()

	group, err := o.Create(ctx, fifoReceipt("450.00"))
	require.NoError(t, err)
	_, err = o.Reverse(ctx, group.ID)
	require.NoError(t, err)

	again, err := o.Create(ctx, fifoReceipt("450.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.GroupPosted, again.Status)
}

// =============================================================================
// PROPOSE
// =============================================================================

func TestPropose_DoesNotWrite(t *testing.T) {
	o, store := newOrchestratorFixture(t)
	ctx := context.Background()

	p, err := o.Propose(ctx, ledger.StrategyFIFO, "cp-1", ledger.DirectionReceipt, dec("450.00"))
	require.NoError(t, err)
	require.Len(t, p.Lines, 2)

	settlements, err := store.SettlementsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, settlements)
}
