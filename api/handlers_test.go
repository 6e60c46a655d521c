/*
handlers_test.go - HTTP API tests through the full router

Tests for:
- Scenario loading and the seeded open-invoices data
- Allocation lifecycle over HTTP: propose, post, reverse, double-reverse
- Domain error to status code mapping
- Legacy DEPOSIT voucher type normalization at the boundary
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbook/allocation-engine/config"
	memstore "github.com/clearbook/allocation-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	defaults := config.PostingDefaults{
		ReceiptCounterAccount: "acct-ar",
		PaymentCounterAccount: "acct-ap",
		RoundingTolerance:     decimal.RequireFromString("0.01"),
	}
	srv := httptest.NewServer(NewRouter(NewHandler(memstore.NewMemory(), defaults)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

func loadScenario(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_ListAndLoad(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]ScenarioDTO](t, body)
	require.Len(t, list, 4)

	loadScenario(t, srv, "open-invoices")

	resp, body = doJSON(t, srv, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := decode[ScenarioDTO](t, body)
	assert.Equal(t, "open-invoices", current.ID)

	// The seeded client carries three open invoices.
	resp, body = doJSON(t, srv, http.MethodGet, "/api/counterparties/cp-northwind/documents?outstanding=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decode[[]OutstandingDocumentDTO](t, body)
	require.Len(t, docs, 3)
	assert.Equal(t, "INV-1", docs[0].Number)
	assert.Equal(t, "300.00", docs[0].AmountDue)
	assert.Equal(t, "open", docs[0].Status)
}

func TestScenarios_Unknown(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func fifoReceiptRequest(total string) CreateAllocationRequest {
	return CreateAllocationRequest{
		Direction:      "receipt",
		Strategy:       "fifo",
		TotalAmount:    total,
		PaymentDate:    "2026-01-15",
		CashAccountID:  "acct-cash",
		CounterpartyID: "cp-northwind",
		Reference:      "WIRE-20260115",
	}
}

func TestProposeAllocation(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/allocations/propose", ProposeRequest{
		Direction: "receipt", Strategy: "fifo",
		CounterpartyID: "cp-northwind", TotalAmount: "450.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	proposal := decode[ProposalDTO](t, body)
	require.Len(t, proposal.Lines, 2)
	assert.Equal(t, "300.00", proposal.Lines[0].Amount)
	assert.Equal(t, "150.00", proposal.Lines[1].Amount)
	assert.Equal(t, "450.00", proposal.Allocated)
	assert.Equal(t, "0.00", proposal.Unallocated)
}

func TestCreateAllocation_FIFO(t *testing.T) {
	// GIVEN: The open-invoices scenario
	// WHEN: Posting a 450.00 FIFO receipt
	// THEN: A group with two records and a posted receipt voucher

	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/allocations", fifoReceiptRequest("450.00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)

	group := decode[AllocationGroupDTO](t, body)
	assert.Equal(t, "posted", group.Status)
	assert.Equal(t, "450.00", group.AllocatedAmount)
	require.Len(t, group.Records, 2)
	assert.Equal(t, "doc-inv-1", group.Records[0].DocumentID)
	assert.Equal(t, "300.00", group.Records[0].Amount)

	// The aggregate voucher debits cash, credits the receivable account.
	resp, body = doJSON(t, srv, http.MethodGet, "/api/vouchers/"+group.VoucherID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	voucher := decode[VoucherDTO](t, body)
	assert.Equal(t, "receipt", voucher.Type)
	assert.Equal(t, "450.00", voucher.Amount)
	assert.Equal(t, "acct-cash", voucher.DebitAccountID)
	assert.Equal(t, "acct-ar", voucher.CreditAccountID)

	// INV-1 is now settled, INV-2 partial.
	resp, body = doJSON(t, srv, http.MethodGet, "/api/documents/doc-inv-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[OutstandingDocumentDTO](t, body)
	assert.Equal(t, "settled", doc.Status)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/documents/doc-inv-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc = decode[OutstandingDocumentDTO](t, body)
	assert.Equal(t, "partially_settled", doc.Status)
	assert.Equal(t, "50.00", doc.AmountDue)
}

func TestCreateAllocation_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	// Overpayment beyond total due.
	resp, body := doJSON(t, srv, http.MethodPost, "/api/allocations", fifoReceiptRequest("700.00"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Equal(t, "validation", errResp.Code)

	// Malformed amount never reaches the domain.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/allocations", fifoReceiptRequest("abc"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown counterparty.
	req := fifoReceiptRequest("100.00")
	req.CounterpartyID = "cp-nope"
	resp, body = doJSON(t, srv, http.MethodPost, "/api/allocations", req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errResp = decode[ErrorResponse](t, body)
	assert.Equal(t, "not_found", errResp.Code)
}

func TestReverseAllocation(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/allocations", fifoReceiptRequest("450.00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)
	group := decode[AllocationGroupDTO](t, body)

	// First reversal succeeds and restores the balances.
	resp, body = doJSON(t, srv, http.MethodPost, "/api/allocations/"+group.ID+"/reverse", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	reversed := decode[AllocationGroupDTO](t, body)
	assert.Equal(t, "reversed", reversed.Status)
	assert.NotEmpty(t, reversed.ReversedAt)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/documents/doc-inv-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[OutstandingDocumentDTO](t, body)
	assert.Equal(t, "open", doc.Status)
	assert.Equal(t, "300.00", doc.AmountDue)

	// A second reversal is an invalid state transition.
	resp, body = doJSON(t, srv, http.MethodPost, "/api/allocations/"+group.ID+"/reverse", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Equal(t, "invalid_state", errResp.Code)
}

func TestGetAllocation_NotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, srv, http.MethodGet, "/api/allocations/grp-nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Equal(t, "not_found", errResp.Code)
}

// =============================================================================
// VOUCHERS
// =============================================================================

func TestCreateVoucher_LegacyDepositNormalized(t *testing.T) {
	// GIVEN: A client still posting the historic DEPOSIT type
	// WHEN: Creating the voucher
	// THEN: It is stored and returned as RECEIPT

	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/vouchers", CreateVoucherRequest{
		Type: "DEPOSIT", Amount: "100.00",
		DebitAccountID: "acct-cash", CreditAccountID: "acct-ar",
		Date: "2026-01-15", Description: "legacy client deposit",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)

	voucher := decode[VoucherDTO](t, body)
	assert.Equal(t, "receipt", voucher.Type)
	assert.Equal(t, "posted", voucher.Status)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/vouchers/"+voucher.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := decode[VoucherDTO](t, body)
	assert.Equal(t, "receipt", stored.Type, "deposit never round-trips back out")
}

func TestCreateVoucher_TypeRuleViolation(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	// A receipt crediting a liability account breaks the type rules.
	resp, body := doJSON(t, srv, http.MethodPost, "/api/vouchers", CreateVoucherRequest{
		Type: "receipt", Amount: "100.00",
		DebitAccountID: "acct-cash", CreditAccountID: "acct-ap",
		Date: "2026-01-15",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Equal(t, "validation", errResp.Code)
}

func TestCreateVoucher_UnknownType(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/vouchers", CreateVoucherRequest{
		Type: "transfer", Amount: "100.00",
		DebitAccountID: "acct-cash", CreditAccountID: "acct-ar",
		Date: "2026-01-15",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestCreateDocument_AndSettlements(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	resp, body := doJSON(t, srv, http.MethodPost, "/api/documents", CreateDocumentRequest{
		Kind: "invoice", Number: "INV-9", CounterpartyID: "cp-northwind",
		IssueDate: "2026-02-01", DueDate: "2026-03-01", Total: "75.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)
	doc := decode[DocumentDTO](t, body)
	assert.Equal(t, "USD", doc.Currency, "currency defaults")

	resp, body = doJSON(t, srv, http.MethodGet, "/api/documents/"+doc.ID+"/settlements", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settlements := decode[[]SettlementDTO](t, body)
	assert.Empty(t, settlements)
}

func TestCreateDocument_BadInput(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "open-invoices")

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/documents", CreateDocumentRequest{
		Kind: "quote", Number: "Q-1", CounterpartyID: "cp-northwind",
		IssueDate: "2026-02-01", DueDate: "2026-03-01", Total: "75.00",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/documents", CreateDocumentRequest{
		Kind: "invoice", Number: "INV-9", CounterpartyID: "cp-northwind",
		IssueDate: "2026-02-01", DueDate: "2026-03-01", Total: "-5.00",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// FULL SCENARIO FLOWS
// =============================================================================

func TestScenario_ProRataPayment(t *testing.T) {
	// The pro-rata scenario posts a 500.00 vendor payment over bills of
	// 600.00 and 400.00: shares of 300.00 and 200.00.
	srv := newTestServer(t)
	loadScenario(t, srv, "pro-rata-payment")

	resp, body := doJSON(t, srv, http.MethodGet, "/api/allocations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	groups := decode[[]AllocationGroupDTO](t, body)
	require.Len(t, groups, 1)

	group := groups[0]
	assert.Equal(t, "payment", group.Direction)
	assert.Equal(t, "pro_rata", group.Strategy)
	assert.Equal(t, "500.00", group.AllocatedAmount)
	require.Len(t, group.Records, 2)
	assert.Equal(t, "300.00", group.Records[0].Amount)
	assert.Equal(t, "200.00", group.Records[1].Amount)

	// Payment voucher: credit cash, debit the payable account.
	resp, body = doJSON(t, srv, http.MethodGet, "/api/vouchers/"+group.VoucherID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	voucher := decode[VoucherDTO](t, body)
	assert.Equal(t, "payment", voucher.Type)
	assert.Equal(t, "acct-ap", voucher.DebitAccountID)
	assert.Equal(t, "acct-cash", voucher.CreditAccountID)
}

func TestScenario_Reversal(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "reversal")

	resp, body := doJSON(t, srv, http.MethodGet, "/api/allocations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	groups := decode[[]AllocationGroupDTO](t, body)
	require.Len(t, groups, 1)
	assert.Equal(t, "reversed", groups[0].Status)

	// All invoices back to fully open.
	resp, body = doJSON(t, srv, http.MethodGet, "/api/counterparties/cp-northwind/documents?outstanding=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decode[[]OutstandingDocumentDTO](t, body)
	assert.Len(t, docs, 3)
}
