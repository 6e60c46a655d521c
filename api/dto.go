/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS ON THE WIRE:
  Every monetary value is a JSON string holding an exact decimal
  ("450.00"), never a JSON number. Clients that parse amounts as
  float64 will corrupt them; that is their bug, not ours.

TYPES:
  Setup:
    AccountDTO, CreateAccountRequest
    CounterpartyDTO, CreateCounterpartyRequest
    DocumentDTO, CreateDocumentRequest

  Allocation:
    CreateAllocationRequest, AllocationLineRequest
    AllocationGroupDTO, AllocationRecordDTO
    ProposeRequest, ProposalDTO, ProposedLineDTO
    OutstandingDocumentDTO

  Ledger:
    VoucherDTO, CreateVoucherRequest
    SettlementDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the allocation package, not in
  DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - allocation/orchestrator.go: Domain request types
*/
package api

import (
	"time"

	"github.com/clearbook/allocation-engine/allocation"
	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// SETUP TYPES
// =============================================================================

// AccountDTO represents a ledger account in API responses.
type AccountDTO struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

// CreateAccountRequest is the request to create a ledger account.
type CreateAccountRequest struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

// CounterpartyDTO represents a client or vendor.
type CounterpartyDTO struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// CreateCounterpartyRequest is the request to create a counterparty.
type CreateCounterpartyRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// DocumentDTO represents an invoice or bill.
type DocumentDTO struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Number         string `json:"number"`
	CounterpartyID string `json:"counterparty_id"`
	IssueDate      string `json:"issue_date"`
	DueDate        string `json:"due_date"`
	Total          string `json:"total"`
	Currency       string `json:"currency"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateDocumentRequest is the request to register a document.
type CreateDocumentRequest struct {
	ID             string `json:"id,omitempty"`
	Kind           string `json:"kind"`
	Number         string `json:"number"`
	CounterpartyID string `json:"counterparty_id"`
	IssueDate      string `json:"issue_date"`
	DueDate        string `json:"due_date"`
	Total          string `json:"total"`
	Currency       string `json:"currency"`
}

// OutstandingDocumentDTO is a document plus its live balance.
type OutstandingDocumentDTO struct {
	DocumentDTO
	AmountSettled string `json:"amount_settled"`
	AmountDue     string `json:"amount_due"`
	Status        string `json:"status"`
}

// =============================================================================
// ALLOCATION TYPES
// =============================================================================

// AllocationLineRequest is one caller-supplied line for the manual
// strategy, or an accepted proposal line for fifo/pro_rata.
type AllocationLineRequest struct {
	DocumentID string `json:"document_id"`
	Amount     string `json:"amount"`
	Note       string `json:"note,omitempty"`
}

// CreateAllocationRequest is the request to post an allocation group.
type CreateAllocationRequest struct {
	Direction      string                  `json:"direction"`
	Strategy       string                  `json:"strategy"`
	TotalAmount    string                  `json:"total_amount"`
	PaymentDate    string                  `json:"payment_date"`
	CashAccountID  string                  `json:"cash_account_id"`
	CounterpartyID string                  `json:"counterparty_id"`
	Lines          []AllocationLineRequest `json:"lines"`
	Reference      string                  `json:"reference,omitempty"`
	Notes          string                  `json:"notes,omitempty"`
	ExchangeRate   string                  `json:"exchange_rate,omitempty"`
}

// AllocationRecordDTO is one posted line of a group.
type AllocationRecordDTO struct {
	ID           string `json:"id"`
	DocumentID   string `json:"document_id"`
	Amount       string `json:"amount"`
	Note         string `json:"note,omitempty"`
	SettlementID string `json:"settlement_id,omitempty"`
}

// AllocationGroupDTO represents a posted or reversed allocation group.
type AllocationGroupDTO struct {
	ID              string                `json:"id"`
	Direction       string                `json:"direction"`
	Strategy        string                `json:"strategy"`
	TotalAmount     string                `json:"total_amount"`
	AllocatedAmount string                `json:"allocated_amount"`
	Currency        string                `json:"currency"`
	ExchangeRate    string                `json:"exchange_rate"`
	CounterpartyID  string                `json:"counterparty_id"`
	CashAccountID   string                `json:"cash_account_id"`
	VoucherID       string                `json:"voucher_id"`
	PaymentDate     string                `json:"payment_date"`
	Reference       string                `json:"reference,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	Status          string                `json:"status"`
	Records         []AllocationRecordDTO `json:"records"`
	CreatedAt       string                `json:"created_at,omitempty"`
	ReversedAt      string                `json:"reversed_at,omitempty"`
}

// ProposeRequest asks for a strategy-computed distribution preview.
type ProposeRequest struct {
	Direction      string `json:"direction"`
	Strategy       string `json:"strategy"`
	CounterpartyID string `json:"counterparty_id"`
	TotalAmount    string `json:"total_amount"`
}

// ProposedLineDTO is one document's share of a proposal.
type ProposedLineDTO struct {
	DocumentID     string `json:"document_id"`
	DocumentNumber string `json:"document_number"`
	Amount         string `json:"amount"`
	AmountDue      string `json:"amount_due"`
}

// ProposalDTO is the strategy output. Allocated + Unallocated always
// equals the requested total.
type ProposalDTO struct {
	Strategy    string            `json:"strategy"`
	Lines       []ProposedLineDTO `json:"lines"`
	Allocated   string            `json:"allocated"`
	Unallocated string            `json:"unallocated"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// VoucherDTO represents a balanced posting.
type VoucherDTO struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	DebitAccountID  string `json:"debit_account_id"`
	CreditAccountID string `json:"credit_account_id"`
	Date            string `json:"date"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status"`
	ReversedAt      string `json:"reversed_at,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateVoucherRequest posts a standalone voucher outside the
// allocation flow. The legacy "DEPOSIT" type is accepted and
// normalized to RECEIPT.
type CreateVoucherRequest struct {
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	DebitAccountID  string `json:"debit_account_id"`
	CreditAccountID string `json:"credit_account_id"`
	Date            string `json:"date"`
	Description     string `json:"description,omitempty"`
}

// SettlementDTO represents money applied against a document.
type SettlementDTO struct {
	ID                 string `json:"id"`
	DocumentID         string `json:"document_id"`
	AllocationRecordID string `json:"allocation_record_id,omitempty"`
	Amount             string `json:"amount"`
	SettledOn          string `json:"settled_on"`
	Reversed           bool   `json:"reversed"`
	ReversedAt         string `json:"reversed_at,omitempty"`
	CreatedAt          string `json:"created_at,omitempty"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

const dateOnly = "2006-01-02"

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:    string(a.ID),
		Code:  a.Code,
		Name:  a.Name,
		Class: string(a.Class),
	}
}

func toCounterpartyDTO(c ledger.Counterparty) CounterpartyDTO {
	return CounterpartyDTO{
		ID:   string(c.ID),
		Kind: string(c.Kind),
		Name: c.Name,
	}
}

func toDocumentDTO(d ledger.Document) DocumentDTO {
	return DocumentDTO{
		ID:             string(d.ID),
		Kind:           string(d.Kind),
		Number:         d.Number,
		CounterpartyID: string(d.CounterpartyID),
		IssueDate:      d.IssueDate.Format(dateOnly),
		DueDate:        d.DueDate.Format(dateOnly),
		Total:          d.Total.StringFixed(2),
		Currency:       d.Currency,
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
	}
}

func toOutstandingDTO(d ledger.OutstandingDocument) OutstandingDocumentDTO {
	return OutstandingDocumentDTO{
		DocumentDTO:   toDocumentDTO(d.Document),
		AmountSettled: d.AmountSettled.StringFixed(2),
		AmountDue:     d.AmountDue.StringFixed(2),
		Status:        string(d.Status),
	}
}

func toSettlementDTO(s ledger.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:                 string(s.ID),
		DocumentID:         string(s.DocumentID),
		AllocationRecordID: string(s.AllocationRecordID),
		Amount:             s.Amount.StringFixed(2),
		SettledOn:          s.SettledOn.Format(dateOnly),
		Reversed:           s.Reversed,
		CreatedAt:          s.CreatedAt.Format(time.RFC3339),
	}
	if s.ReversedAt != nil {
		dto.ReversedAt = s.ReversedAt.Format(time.RFC3339)
	}
	return dto
}

func toVoucherDTO(v ledger.Voucher) VoucherDTO {
	dto := VoucherDTO{
		ID:              string(v.ID),
		Type:            string(v.Type),
		Amount:          v.Amount.StringFixed(2),
		Currency:        v.Currency,
		DebitAccountID:  string(v.DebitAccountID),
		CreditAccountID: string(v.CreditAccountID),
		Date:            v.Date.Format(dateOnly),
		Description:     v.Description,
		Status:          string(v.Status),
		CreatedAt:       v.CreatedAt.Format(time.RFC3339),
	}
	if v.ReversedAt != nil {
		dto.ReversedAt = v.ReversedAt.Format(time.RFC3339)
	}
	return dto
}

func toGroupDTO(g *ledger.AllocationGroup) AllocationGroupDTO {
	records := make([]AllocationRecordDTO, len(g.Records))
	for i, rec := range g.Records {
		records[i] = AllocationRecordDTO{
			ID:           string(rec.ID),
			DocumentID:   string(rec.DocumentID),
			Amount:       rec.Amount.StringFixed(2),
			Note:         rec.Note,
			SettlementID: string(rec.SettlementID),
		}
	}

	dto := AllocationGroupDTO{
		ID:              string(g.ID),
		Direction:       string(g.Direction),
		Strategy:        string(g.Strategy),
		TotalAmount:     g.TotalAmount.StringFixed(2),
		AllocatedAmount: g.AllocatedAmount.StringFixed(2),
		Currency:        g.Currency,
		ExchangeRate:    g.ExchangeRate.String(),
		CounterpartyID:  string(g.CounterpartyID),
		CashAccountID:   string(g.CashAccountID),
		VoucherID:       string(g.VoucherID),
		PaymentDate:     g.PaymentDate.Format(dateOnly),
		Reference:       g.Reference,
		Notes:           g.Notes,
		Status:          string(g.Status),
		Records:         records,
		CreatedAt:       g.CreatedAt.Format(time.RFC3339),
	}
	if g.ReversedAt != nil {
		dto.ReversedAt = g.ReversedAt.Format(time.RFC3339)
	}
	return dto
}

func toProposalDTO(p allocation.Proposal) ProposalDTO {
	lines := make([]ProposedLineDTO, len(p.Lines))
	for i, line := range p.Lines {
		lines[i] = ProposedLineDTO{
			DocumentID:     string(line.DocumentID),
			DocumentNumber: line.DocumentNumber,
			Amount:         line.Amount.StringFixed(2),
			AmountDue:      line.AmountDue.StringFixed(2),
		}
	}
	return ProposalDTO{
		Strategy:    string(p.Strategy),
		Lines:       lines,
		Allocated:   p.Allocated.StringFixed(2),
		Unallocated: p.Unallocated.StringFixed(2),
	}
}
