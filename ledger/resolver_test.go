/*
resolver_test.go - Outstanding balance derivation from settlements
*/
package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbook/allocation-engine/ledger"
	memstore "github.com/clearbook/allocation-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func jan(d int) time.Time {
	return time.Date(2026, time.January, d, 0, 0, 0, 0, time.UTC)
}

func newResolverFixture(t *testing.T) (*ledger.BalanceResolver, *memstore.Memory) {
	t.Helper()
	store := memstore.NewMemory()
	ctx := context.Background()

	require.NoError(t, store.SaveCounterparty(ctx, ledger.Counterparty{
		ID: "cp-1", Kind: ledger.CounterpartyClient, Name: "Northwind",
	}))
	docs := []ledger.Document{
		{ID: "doc-1", Kind: ledger.DocInvoice, Number: "INV-1", CounterpartyID: "cp-1", DueDate: jan(10), Total: money("300.00"), Currency: "USD"},
		{ID: "doc-2", Kind: ledger.DocInvoice, Number: "INV-2", CounterpartyID: "cp-1", DueDate: jan(20), Total: money("200.00"), Currency: "USD"},
	}
	for _, d := range docs {
		require.NoError(t, store.SaveDocument(ctx, d))
	}
	return ledger.NewBalanceResolver(store), store
}

func settle(t *testing.T, store *memstore.Memory, id ledger.SettlementID, docID ledger.DocumentID, amount string) {
	t.Helper()
	require.NoError(t, store.InsertSettlement(context.Background(), ledger.Settlement{
		ID: id, DocumentID: docID, Amount: money(amount),
		SettledOn: jan(15), CreatedAt: time.Now().UTC(),
	}))
}

// =============================================================================
// RESOLVE
// =============================================================================

func TestResolve_NoSettlements(t *testing.T) {
	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)

	out, err := resolver.Resolve(ctx, *doc)
	require.NoError(t, err)
	assert.True(t, out.AmountSettled.IsZero())
	assert.True(t, out.AmountDue.Equal(money("300.00")))
	assert.Equal(t, ledger.DocOpen, out.Status)
}

func TestResolve_SumsActiveSettlements(t *testing.T) {
	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	settle(t, store, "st-1", "doc-1", "120.00")
	settle(t, store, "st-2", "doc-1", "80.00")

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	out, err := resolver.Resolve(ctx, *doc)
	require.NoError(t, err)

	assert.True(t, out.AmountSettled.Equal(money("200.00")))
	assert.True(t, out.AmountDue.Equal(money("100.00")))
	assert.Equal(t, ledger.DocPartiallySettled, out.Status)
}

func TestResolve_VoidedSettlementsDoNotCount(t *testing.T) {
	// GIVEN: A full settlement that was later voided
	// WHEN: Resolving the balance
	// THEN: The document is open again for its full amount

	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	settle(t, store, "st-1", "doc-1", "300.00")
	require.NoError(t, store.VoidSettlement(ctx, "st-1", time.Now().UTC()))

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	out, err := resolver.Resolve(ctx, *doc)
	require.NoError(t, err)

	assert.True(t, out.AmountDue.Equal(money("300.00")))
	assert.Equal(t, ledger.DocOpen, out.Status)
}

func TestResolve_FullySettled(t *testing.T) {
	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	settle(t, store, "st-1", "doc-2", "200.00")

	doc, err := store.GetDocument(ctx, "doc-2")
	require.NoError(t, err)
	out, err := resolver.Resolve(ctx, *doc)
	require.NoError(t, err)

	assert.True(t, out.AmountDue.IsZero())
	assert.Equal(t, ledger.DocSettled, out.Status)
}

func TestAmountDue(t *testing.T) {
	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	settle(t, store, "st-1", "doc-1", "50.00")

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	due, err := resolver.AmountDue(ctx, *doc)
	require.NoError(t, err)
	assert.True(t, due.Equal(money("250.00")))
}

// =============================================================================
// OUTSTANDING
// =============================================================================

func TestOutstanding_FiltersSettledAndOrders(t *testing.T) {
	// GIVEN: INV-2 fully settled, INV-1 partially
	// WHEN: Listing outstanding invoices
	// THEN: Only INV-1 remains, carrying its residual due

	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	settle(t, store, "st-1", "doc-2", "200.00")
	settle(t, store, "st-2", "doc-1", "100.00")

	out, err := resolver.Outstanding(ctx, "cp-1", ledger.DocInvoice)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ledger.DocumentID("doc-1"), out[0].ID)
	assert.True(t, out[0].AmountDue.Equal(money("200.00")))
}

func TestOutstanding_DueDateOrder(t *testing.T) {
	resolver, store := newResolverFixture(t)
	ctx := context.Background()

	// A third invoice due before the others.
	require.NoError(t, store.SaveDocument(ctx, ledger.Document{
		ID: "doc-0", Kind: ledger.DocInvoice, Number: "INV-0", CounterpartyID: "cp-1",
		DueDate: jan(5), Total: money("50.00"), Currency: "USD",
	}))

	out, err := resolver.Outstanding(ctx, "cp-1", ledger.DocInvoice)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, ledger.DocumentID("doc-0"), out[0].ID)
	assert.Equal(t, ledger.DocumentID("doc-1"), out[1].ID)
	assert.Equal(t, ledger.DocumentID("doc-2"), out[2].ID)
}

// =============================================================================
// STATUS DERIVATION
// =============================================================================

func TestStatusFor(t *testing.T) {
	cases := []struct {
		total, settled string
		want           ledger.DocumentStatus
	}{
		{"300.00", "0.00", ledger.DocOpen},
		{"300.00", "100.00", ledger.DocPartiallySettled},
		{"300.00", "300.00", ledger.DocSettled},
		{"300.00", "299.999", ledger.DocPartiallySettled},
	}
	for _, c := range cases {
		got := ledger.StatusFor(money(c.total), money(c.settled))
		assert.Equal(t, c.want, got, "total=%s settled=%s", c.total, c.settled)
	}
}
