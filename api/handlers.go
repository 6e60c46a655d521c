/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the allocation and posting engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Setup:
    GET    /api/accounts                 List chart of accounts
    POST   /api/accounts                 Create ledger account
    GET    /api/accounts/{id}            Get account
    GET    /api/counterparties           List clients and vendors
    POST   /api/counterparties           Create counterparty
    GET    /api/counterparties/{id}      Get counterparty
    GET    /api/counterparties/{id}/documents  Documents, ?outstanding=true for open ones

  Documents:
    POST   /api/documents                Register invoice/bill
    GET    /api/documents/{id}           Get document with live balance
    GET    /api/documents/{id}/settlements  Settlement history (voided included)

  Allocations:
    POST   /api/allocations/propose      Preview a strategy distribution
    POST   /api/allocations              Post an allocation group atomically
    GET    /api/allocations              List groups
    GET    /api/allocations/{id}         Get group
    POST   /api/allocations/{id}/reverse Reverse a posted group

  Vouchers:
    GET    /api/vouchers                 List vouchers
    POST   /api/vouchers                 Post standalone voucher
    GET    /api/vouchers/{id}            Get voucher

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario
    POST   /api/scenarios/reset          Wipe and reseed baseline data

ERROR HANDLING:
  Domain errors map to HTTP status by category:
  - 400: validation, voucher rule, unknown type, duplicate id
  - 404: missing entity
  - 409: illegal state transition, or allocation conflict (retryable;
         the response carries code "conflict" so clients re-fetch and retry)
  - 500: configuration defects and internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/allocation-engine/allocation"
	"github.com/clearbook/allocation-engine/config"
	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        ledger.TxStore
	Orchestrator *allocation.Orchestrator
	Resolver     *ledger.BalanceResolver

	// Track currently loaded scenario. Guarded by mu: scenario loads
	// and reads arrive on concurrent requests.
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the given store and posting
// defaults.
func NewHandler(store ledger.TxStore, defaults config.PostingDefaults) *Handler {
	return &Handler{
		Store:        store,
		Orchestrator: allocation.NewOrchestrator(store, defaults, nil),
		Resolver:     ledger.NewBalanceResolver(store),
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the chart of accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates a ledger account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	class := ledger.AccountClass(req.Class)
	if !class.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid account class", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	acct := ledger.Account{
		ID:    ledger.AccountID(req.ID),
		Code:  req.Code,
		Name:  req.Name,
		Class: class,
	}
	if err := h.Store.SaveAccount(r.Context(), acct); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Store.GetAccount(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// =============================================================================
// COUNTERPARTY HANDLERS
// =============================================================================

// ListCounterparties returns all clients and vendors.
func (h *Handler) ListCounterparties(w http.ResponseWriter, r *http.Request) {
	cps, err := h.Store.ListCounterparties(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list counterparties", err)
		return
	}

	dtos := make([]CounterpartyDTO, len(cps))
	for i, c := range cps {
		dtos[i] = toCounterpartyDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCounterparty creates a client or vendor.
func (h *Handler) CreateCounterparty(w http.ResponseWriter, r *http.Request) {
	var req CreateCounterpartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := ledger.CounterpartyKind(req.Kind)
	if kind != ledger.CounterpartyClient && kind != ledger.CounterpartyVendor {
		writeError(w, http.StatusBadRequest, "Invalid counterparty kind (use client or vendor)", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	cp := ledger.Counterparty{
		ID:   ledger.CounterpartyID(req.ID),
		Kind: kind,
		Name: req.Name,
	}
	if err := h.Store.SaveCounterparty(r.Context(), cp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create counterparty", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCounterpartyDTO(cp))
}

// GetCounterparty returns a single counterparty.
func (h *Handler) GetCounterparty(w http.ResponseWriter, r *http.Request) {
	cp, err := h.Store.GetCounterparty(r.Context(), ledger.CounterpartyID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCounterpartyDTO(*cp))
}

// GetCounterpartyDocuments returns a counterparty's documents with live
// balances. With ?outstanding=true only open documents are returned.
func (h *Handler) GetCounterpartyDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.CounterpartyID(chi.URLParam(r, "id"))

	cp, err := h.Store.GetCounterparty(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Document kind follows the counterparty kind unless overridden.
	kind := ledger.DocInvoice
	if cp.Kind == ledger.CounterpartyVendor {
		kind = ledger.DocBill
	}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = ledger.DocumentKind(k)
	}

	if r.URL.Query().Get("outstanding") == "true" {
		docs, err := h.Resolver.Outstanding(ctx, id, kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve balances", err)
			return
		}
		dtos := make([]OutstandingDocumentDTO, len(docs))
		for i, d := range docs {
			dtos[i] = toOutstandingDTO(d)
		}
		writeJSON(w, http.StatusOK, dtos)
		return
	}

	docs, err := h.Store.ListDocuments(ctx, id, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}
	dtos := make([]OutstandingDocumentDTO, len(docs))
	for i, d := range docs {
		resolved, err := h.Resolver.Resolve(ctx, d)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve balances", err)
			return
		}
		dtos[i] = toOutstandingDTO(resolved)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// CreateDocument registers an invoice or bill.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := ledger.DocumentKind(req.Kind)
	if kind != ledger.DocInvoice && kind != ledger.DocBill {
		writeError(w, http.StatusBadRequest, "Invalid document kind (use invoice or bill)", nil)
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil || !total.IsPositive() {
		writeError(w, http.StatusBadRequest, "Total must be a positive decimal string", err)
		return
	}
	issueDate, err := time.Parse(dateOnly, req.IssueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid issue_date format (use YYYY-MM-DD)", err)
		return
	}
	dueDate, err := time.Parse(dateOnly, req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetCounterparty(ctx, ledger.CounterpartyID(req.CounterpartyID)); err != nil {
		writeDomainError(w, err)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	doc := ledger.Document{
		ID:             ledger.DocumentID(req.ID),
		Kind:           kind,
		Number:         req.Number,
		CounterpartyID: ledger.CounterpartyID(req.CounterpartyID),
		IssueDate:      issueDate,
		DueDate:        dueDate,
		Total:          total,
		Currency:       req.Currency,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.SaveDocument(ctx, doc); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(doc))
}

// GetDocument returns a document with its live settled/due balance.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.Store.GetDocument(ctx, ledger.DocumentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resolved, err := h.Resolver.Resolve(ctx, *doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutstandingDTO(resolved))
}

// GetDocumentSettlements returns a document's full settlement history,
// voided entries included.
func (h *Handler) GetDocumentSettlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.DocumentID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetDocument(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	settlements, err := h.Store.SettlementsByDocument(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settlements", err)
		return
	}
	dtos := make([]SettlementDTO, len(settlements))
	for i, s := range settlements {
		dtos[i] = toSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// ProposeAllocation previews a distribution without writing anything.
func (h *Handler) ProposeAllocation(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "total_amount must be a decimal string", err)
		return
	}

	proposal, err := h.Orchestrator.Propose(r.Context(),
		ledger.Strategy(req.Strategy),
		ledger.CounterpartyID(req.CounterpartyID),
		ledger.Direction(req.Direction),
		total)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalDTO(proposal))
}

// CreateAllocation posts an allocation group: voucher, settlements and
// records in one transaction.
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req CreateAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	domainReq, err := toCreateRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	group, err := h.Orchestrator.Create(r.Context(), domainReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(group))
}

// ListAllocations returns recent allocation groups.
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListAllocationGroups(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list allocations", err)
		return
	}
	dtos := make([]AllocationGroupDTO, len(groups))
	for i := range groups {
		dtos[i] = toGroupDTO(&groups[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAllocation returns a single allocation group.
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	group, err := h.Orchestrator.Get(r.Context(), ledger.GroupID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(group))
}

// ReverseAllocation reverses a posted group. A second call on the same
// group returns 409.
func (h *Handler) ReverseAllocation(w http.ResponseWriter, r *http.Request) {
	group, err := h.Orchestrator.Reverse(r.Context(), ledger.GroupID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(group))
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

// ListVouchers returns recent vouchers.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Store.ListVouchers(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vouchers", err)
		return
	}
	dtos := make([]VoucherDTO, len(vouchers))
	for i, v := range vouchers {
		dtos[i] = toVoucherDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetVoucher returns a single voucher.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Store.GetVoucher(r.Context(), ledger.VoucherID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(*v))
}

// CreateVoucher posts a standalone voucher outside the allocation flow.
// Accepts the legacy "DEPOSIT" type and normalizes it to RECEIPT.
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req CreateVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	vtype, err := ledger.NormalizeVoucherType(req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string", err)
		return
	}
	date, err := time.Parse(dateOnly, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	ctx := r.Context()
	debit, err := h.Store.GetAccount(ctx, ledger.AccountID(req.DebitAccountID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	credit, err := h.Store.GetAccount(ctx, ledger.AccountID(req.CreditAccountID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	v := ledger.Voucher{
		ID:              ledger.VoucherID(uuid.NewString()),
		Type:            vtype,
		Amount:          amount,
		Currency:        req.Currency,
		DebitAccountID:  debit.ID,
		CreditAccountID: credit.ID,
		Date:            date,
		Description:     req.Description,
		Status:          ledger.VoucherPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := ledger.ValidateVoucher(v, *debit, *credit); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := v.Post(); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Store.InsertVoucher(ctx, v); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoucherDTO(v))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain error categories to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case ledger.IsRetryable(err):
		// Clients should re-fetch outstanding documents and retry.
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, ledger.ErrInvalidState):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "invalid_state"})
	case ledger.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation"})
	case ledger.IsConfigurationError(err):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "configuration"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

// toCreateRequest converts the wire request into the domain request,
// parsing every amount exactly.
func toCreateRequest(req CreateAllocationRequest) (allocation.CreateRequest, error) {
	var out allocation.CreateRequest

	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		return out, errors.New("total_amount must be a decimal string")
	}
	paymentDate, err := time.Parse(dateOnly, req.PaymentDate)
	if err != nil {
		return out, errors.New("invalid payment_date format (use YYYY-MM-DD)")
	}

	var rate decimal.Decimal
	if req.ExchangeRate != "" {
		rate, err = decimal.NewFromString(req.ExchangeRate)
		if err != nil {
			return out, errors.New("exchange_rate must be a decimal string")
		}
	}

	lines := make([]allocation.Line, len(req.Lines))
	for i, l := range req.Lines {
		amount, err := decimal.NewFromString(l.Amount)
		if err != nil {
			return out, errors.New("line amounts must be decimal strings")
		}
		lines[i] = allocation.Line{
			DocumentID: ledger.DocumentID(l.DocumentID),
			Amount:     amount,
			Note:       l.Note,
		}
	}

	out = allocation.CreateRequest{
		Direction:      ledger.Direction(req.Direction),
		Strategy:       ledger.Strategy(req.Strategy),
		TotalAmount:    total,
		PaymentDate:    paymentDate,
		CashAccountID:  ledger.AccountID(req.CashAccountID),
		CounterpartyID: ledger.CounterpartyID(req.CounterpartyID),
		Lines:          lines,
		Reference:      req.Reference,
		Notes:          req.Notes,
		ExchangeRate:   rate,
	}
	return out, nil
}
