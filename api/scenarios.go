/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates accounts,
	counterparties, documents, and optionally posted allocations that
	demonstrate specific features.

AVAILABLE SCENARIOS:

	open-invoices:    Chart of accounts + client with three open invoices
	fifo-receipt:     Oldest-first receipt of 450.00 across three invoices
	pro-rata-payment: Proportional vendor payment across two bills
	reversal:         Posted receipt reversed, settlements voided

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the chart of accounts (cash + configured counter accounts)
 3. Create counterparties and documents
 4. Optionally post allocations through the orchestrator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fifo-receipt"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - allocation/orchestrator.go: Posting flow the loaders drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/allocation-engine/allocation"
	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "open-invoices",
		Name:        "Open Invoices",
		Description: "Client with three open invoices, nothing settled yet",
	},
	{
		ID:          "fifo-receipt",
		Name:        "FIFO Receipt",
		Description: "Receipt of 450.00 distributed oldest-first across three invoices",
	},
	{
		ID:          "pro-rata-payment",
		Name:        "Pro-Rata Payment",
		Description: "Vendor payment split proportionally across two bills",
	},
	{
		ID:          "reversal",
		Name:        "Reversal",
		Description: "Posted receipt then reversed: settlements voided, balances restored",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenarioID()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads the selected scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.resetStore(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	var err error
	switch req.ScenarioID {
	case "open-invoices":
		err = h.loadOpenInvoicesScenario(ctx)
	case "fifo-receipt":
		err = h.loadFIFOReceiptScenario(ctx)
	case "pro-rata-payment":
		err = h.loadProRataPaymentScenario(ctx)
	case "reversal":
		err = h.loadReversalScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.setScenario(req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase wipes all data. Development only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.resetStore(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

func (h *Handler) scenarioID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

// resetter is implemented by stores that support a full wipe.
type resetter interface {
	Reset(ctx context.Context) error
}

func (h *Handler) resetStore(ctx context.Context) error {
	r, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T does not support reset", h.Store)
	}
	return r.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedChartOfAccounts creates the cash account plus the configured
// counter accounts so posting works out of the box.
func (h *Handler) seedChartOfAccounts(ctx context.Context) error {
	accounts := []ledger.Account{
		{ID: "acct-cash", Code: "1000", Name: "Cash at Bank", Class: ledger.ClassAsset},
		{ID: h.Orchestrator.Defaults.ReceiptCounterAccount, Code: "1100", Name: "Accounts Receivable", Class: ledger.ClassAsset},
		{ID: h.Orchestrator.Defaults.PaymentCounterAccount, Code: "2000", Name: "Accounts Payable", Class: ledger.ClassLiability},
		{ID: "acct-sales", Code: "4000", Name: "Sales Revenue", Class: ledger.ClassIncome},
		{ID: "acct-office", Code: "6000", Name: "Office Expenses", Class: ledger.ClassExpense},
	}
	for _, a := range accounts {
		if err := h.Store.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// seedClientInvoices creates the Northwind client with three open
// invoices: 300.00 due Jan 10, 200.00 due Jan 20, 100.00 due Feb 1.
func (h *Handler) seedClientInvoices(ctx context.Context) error {
	client := ledger.Counterparty{ID: "cp-northwind", Kind: ledger.CounterpartyClient, Name: "Northwind Traders"}
	if err := h.Store.SaveCounterparty(ctx, client); err != nil {
		return err
	}

	invoices := []ledger.Document{
		{
			ID: "doc-inv-1", Kind: ledger.DocInvoice, Number: "INV-1",
			CounterpartyID: client.ID,
			IssueDate:      date(2025, time.December, 11),
			DueDate:        date(2026, time.January, 10),
			Total:          decimal.RequireFromString("300.00"),
			Currency:       "USD", CreatedAt: time.Now().UTC(),
		},
		{
			ID: "doc-inv-2", Kind: ledger.DocInvoice, Number: "INV-2",
			CounterpartyID: client.ID,
			IssueDate:      date(2025, time.December, 21),
			DueDate:        date(2026, time.January, 20),
			Total:          decimal.RequireFromString("200.00"),
			Currency:       "USD", CreatedAt: time.Now().UTC(),
		},
		{
			ID: "doc-inv-3", Kind: ledger.DocInvoice, Number: "INV-3",
			CounterpartyID: client.ID,
			IssueDate:      date(2026, time.January, 2),
			DueDate:        date(2026, time.February, 1),
			Total:          decimal.RequireFromString("100.00"),
			Currency:       "USD", CreatedAt: time.Now().UTC(),
		},
	}
	for _, doc := range invoices {
		if err := h.Store.SaveDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// loadOpenInvoicesScenario seeds the client and invoices with nothing
// settled.
func (h *Handler) loadOpenInvoicesScenario(ctx context.Context) error {
	if err := h.seedChartOfAccounts(ctx); err != nil {
		return err
	}
	return h.seedClientInvoices(ctx)
}

// loadFIFOReceiptScenario posts a 450.00 receipt oldest-first: INV-1
// takes 300.00 and settles fully, INV-2 takes 150.00 and goes partial,
// INV-3 stays open.
func (h *Handler) loadFIFOReceiptScenario(ctx context.Context) error {
	if err := h.loadOpenInvoicesScenario(ctx); err != nil {
		return err
	}

	_, err := h.Orchestrator.Create(ctx, allocation.CreateRequest{
		Direction:      ledger.DirectionReceipt,
		Strategy:       ledger.StrategyFIFO,
		TotalAmount:    decimal.RequireFromString("450.00"),
		PaymentDate:    date(2026, time.January, 15),
		CashAccountID:  "acct-cash",
		CounterpartyID: "cp-northwind",
		Reference:      "WIRE-20260115",
	})
	return err
}

// loadProRataPaymentScenario posts a vendor payment split
// proportionally across two bills of unequal size.
func (h *Handler) loadProRataPaymentScenario(ctx context.Context) error {
	if err := h.seedChartOfAccounts(ctx); err != nil {
		return err
	}

	vendor := ledger.Counterparty{ID: "cp-acme", Kind: ledger.CounterpartyVendor, Name: "Acme Supplies"}
	if err := h.Store.SaveCounterparty(ctx, vendor); err != nil {
		return err
	}

	bills := []ledger.Document{
		{
			ID: "doc-bill-1", Kind: ledger.DocBill, Number: "BILL-101",
			CounterpartyID: vendor.ID,
			IssueDate:      date(2026, time.January, 5),
			DueDate:        date(2026, time.February, 5),
			Total:          decimal.RequireFromString("600.00"),
			Currency:       "USD", CreatedAt: time.Now().UTC(),
		},
		{
			ID: "doc-bill-2", Kind: ledger.DocBill, Number: "BILL-102",
			CounterpartyID: vendor.ID,
			IssueDate:      date(2026, time.January, 12),
			DueDate:        date(2026, time.February, 12),
			Total:          decimal.RequireFromString("400.00"),
			Currency:       "USD", CreatedAt: time.Now().UTC(),
		},
	}
	for _, bill := range bills {
		if err := h.Store.SaveDocument(ctx, bill); err != nil {
			return err
		}
	}

	// 500.00 across 600.00 + 400.00 due: 300.00 and 200.00.
	_, err := h.Orchestrator.Create(ctx, allocation.CreateRequest{
		Direction:      ledger.DirectionPayment,
		Strategy:       ledger.StrategyProRata,
		TotalAmount:    decimal.RequireFromString("500.00"),
		PaymentDate:    date(2026, time.January, 20),
		CashAccountID:  "acct-cash",
		CounterpartyID: "cp-acme",
		Reference:      "CHK-2041",
	})
	return err
}

// loadReversalScenario posts the FIFO receipt and immediately reverses
// it, leaving voided settlements and restored balances to inspect.
func (h *Handler) loadReversalScenario(ctx context.Context) error {
	if err := h.loadOpenInvoicesScenario(ctx); err != nil {
		return err
	}

	group, err := h.Orchestrator.Create(ctx, allocation.CreateRequest{
		Direction:      ledger.DirectionReceipt,
		Strategy:       ledger.StrategyFIFO,
		TotalAmount:    decimal.RequireFromString("450.00"),
		PaymentDate:    date(2026, time.January, 15),
		CashAccountID:  "acct-cash",
		CounterpartyID: "cp-northwind",
		Reference:      "WIRE-20260115",
	})
	if err != nil {
		return err
	}

	_, err = h.Orchestrator.Reverse(ctx, group.ID)
	return err
}
