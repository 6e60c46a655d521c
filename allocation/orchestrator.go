/*
orchestrator.go - Transactional entry point for allocation create/reverse

PURPOSE:
  Coordinates Validator -> VoucherPoster -> settlement creation ->
  group persistence inside one atomic unit, and performs the symmetric
  reversal. This is the ONLY writer of allocation state; callers never
  touch settlements or vouchers directly.

CREATE FLOW:
  1. Resolve counterparty, cash account, counter account (a missing
     counter account is a fatal configuration error, not validation)
  2. Validate rules 1-7 against current state
  3. Inside WithTx: re-check amounts due (commit-time concurrency
     defense), post the voucher, create one settlement per record,
     persist the group as POSTED
  If any step fails the unit rolls back: no partial group, no orphaned
  settlement, no orphaned voucher. Every non-completion is an error -
  there is no success result that didn't change state.

REVERSE FLOW:
  Inside WithTx: void every settlement, flip the voucher to REVERSED
  (amounts stay inspectable), mark the group REVERSED. A second reverse
  is rejected with an invalid-state error rather than being a no-op, so
  silent double-reversal bugs cannot hide.

CONCURRENCY:
  Two concurrent creates over the same documents cannot both
  over-allocate: the in-transaction re-check sees the first writer's
  settlements and fails the second with a retryable conflict error.
  Callers should re-fetch outstanding documents and retry the whole
  flow.
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/allocation-engine/config"
	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// NOTIFIER - fire-and-forget audit sink
// =============================================================================

// Notifier receives POSTED/REVERSED transitions. Best-effort: failures
// are logged, never propagated, and never roll back the transition.
type Notifier interface {
	GroupPosted(group *ledger.AllocationGroup)
	GroupReversed(group *ledger.AllocationGroup)
}

// LogNotifier writes transitions to the process log.
type LogNotifier struct{}

func (LogNotifier) GroupPosted(g *ledger.AllocationGroup) {
	log.Printf("allocation %s posted: %s %s %s for %s", g.ID, g.Direction, g.TotalAmount.StringFixed(2), g.Currency, g.CounterpartyID)
}

func (LogNotifier) GroupReversed(g *ledger.AllocationGroup) {
	log.Printf("allocation %s reversed", g.ID)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator owns allocation create/reverse and the read-side
// proposal operations.
type Orchestrator struct {
	Store    ledger.TxStore
	Defaults config.PostingDefaults
	Poster   *VoucherPoster
	Notifier Notifier
}

func NewOrchestrator(store ledger.TxStore, defaults config.PostingDefaults, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Orchestrator{
		Store:    store,
		Defaults: defaults,
		Poster:   NewVoucherPoster(),
		Notifier: notifier,
	}
}

// =============================================================================
// CREATE
// =============================================================================

// Line is one caller-supplied allocation line.
type Line struct {
	DocumentID ledger.DocumentID
	Amount     decimal.Decimal
	Note       string
}

// CreateRequest carries everything Create needs. Currency and exchange
// rate default from the first document / to 1 when zero-valued.
type CreateRequest struct {
	Direction      ledger.Direction
	Strategy       ledger.Strategy
	TotalAmount    decimal.Decimal
	PaymentDate    time.Time
	CashAccountID  ledger.AccountID
	CounterpartyID ledger.CounterpartyID
	Lines          []Line
	Reference      string
	Notes          string
	ExchangeRate   decimal.Decimal
}

// Create validates and persists a full allocation group atomically,
// returning it in POSTED state.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*ledger.AllocationGroup, error) {
	if !req.Direction.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", ledger.ErrValidation, req.Direction)
	}
	if !req.Strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ledger.ErrValidation, req.Strategy)
	}

	cp, err := o.Store.GetCounterparty(ctx, req.CounterpartyID)
	if err != nil {
		return nil, err
	}
	if cp.Kind != req.Direction.CounterpartyKind() {
		return nil, &ledger.StateError{
			Entity: "counterparty", ID: string(cp.ID),
			From: string(cp.Kind), To: string(req.Direction.CounterpartyKind()),
		}
	}

	cash, err := o.Store.GetAccount(ctx, req.CashAccountID)
	if err != nil {
		return nil, err
	}

	counterID, err := o.Defaults.CounterAccountFor(req.Direction)
	if err != nil {
		return nil, err
	}
	counter, err := o.Store.GetAccount(ctx, counterID)
	if err != nil {
		// The account is configured but absent: still a setup defect.
		return nil, fmt.Errorf("%w: account %s: %v", ledger.ErrCounterAccountMissing, counterID, err)
	}

	// For fifo and pro_rata the engine computes the distribution when
	// the caller supplies no lines. Manual always takes lines as given.
	if req.Strategy != ledger.StrategyManual && len(req.Lines) == 0 {
		docs, err := o.ListOutstanding(ctx, req.CounterpartyID, req.Direction)
		if err != nil {
			return nil, err
		}
		proposal, err := Allocate(req.Strategy, docs, req.TotalAmount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrValidation, err)
		}
		if !proposal.Unallocated.IsZero() {
			return nil, fmt.Errorf("%w: %s of the payment exceeds the counterparty's total amount due",
				ledger.ErrValidation, proposal.Unallocated.StringFixed(2))
		}
		for _, line := range proposal.Lines {
			req.Lines = append(req.Lines, Line{DocumentID: line.DocumentID, Amount: line.Amount})
		}
	}

	group := o.buildGroup(ctx, req)

	validator := NewValidator(o.Store, o.Defaults.RoundingTolerance)
	if err := validator.Validate(ctx, group, *cash, *counter); err != nil {
		return nil, err
	}

	err = o.Store.WithTx(ctx, func(tx ledger.Store) error {
		// Commit-time re-check of rule 5. The pre-transaction pass
		// already accepted these amounts, so a failure here means a
		// concurrent allocation consumed the balance: a conflict, not
		// bad input.
		txValidator := NewValidator(tx, o.Defaults.RoundingTolerance)
		if err := txValidator.CheckAmountsDue(ctx, group); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) && verr.Rule == RuleExceedsDue {
				rec := group.Records[verr.RecordIndex]
				due := currentDue(ctx, tx, rec.DocumentID)
				return &ledger.ConflictError{DocumentID: rec.DocumentID, Requested: rec.Amount, Available: due}
			}
			return err
		}

		voucher, err := o.Poster.Post(group, *cash, *counter)
		if err != nil {
			return err
		}
		if err := tx.InsertVoucher(ctx, *voucher); err != nil {
			return err
		}
		group.VoucherID = voucher.ID

		for i := range group.Records {
			rec := &group.Records[i]
			settlement := ledger.Settlement{
				ID:                 ledger.SettlementID(uuid.NewString()),
				DocumentID:         rec.DocumentID,
				AllocationRecordID: rec.ID,
				Amount:             rec.Amount,
				SettledOn:          req.PaymentDate,
				CreatedAt:          time.Now().UTC(),
			}
			if err := tx.InsertSettlement(ctx, settlement); err != nil {
				return err
			}
			rec.SettlementID = settlement.ID
		}

		group.Status = ledger.GroupPosted
		group.AllocatedAmount = group.SumRecords()
		return tx.InsertAllocationGroup(ctx, *group)
	})
	if err != nil {
		return nil, err
	}

	o.Notifier.GroupPosted(group)
	return group, nil
}

func (o *Orchestrator) buildGroup(ctx context.Context, req CreateRequest) *ledger.AllocationGroup {
	currency := ""
	if len(req.Lines) > 0 {
		if doc, err := o.Store.GetDocument(ctx, req.Lines[0].DocumentID); err == nil {
			currency = doc.Currency
		}
	}
	rate := req.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	group := &ledger.AllocationGroup{
		ID:             ledger.GroupID(uuid.NewString()),
		Direction:      req.Direction,
		Strategy:       req.Strategy,
		TotalAmount:    req.TotalAmount,
		Currency:       currency,
		ExchangeRate:   rate,
		CounterpartyID: req.CounterpartyID,
		CashAccountID:  req.CashAccountID,
		PaymentDate:    req.PaymentDate,
		Reference:      req.Reference,
		Notes:          req.Notes,
		Status:         ledger.GroupDraft,
		CreatedAt:      time.Now().UTC(),
	}
	for _, line := range req.Lines {
		group.Records = append(group.Records, ledger.AllocationRecord{
			ID:         ledger.RecordID(uuid.NewString()),
			GroupID:    group.ID,
			DocumentID: line.DocumentID,
			Amount:     line.Amount,
			Note:       line.Note,
		})
	}
	return group
}

func currentDue(ctx context.Context, store ledger.Store, id ledger.DocumentID) decimal.Decimal {
	doc, err := store.GetDocument(ctx, id)
	if err != nil {
		return decimal.Zero
	}
	due, err := ledger.NewBalanceResolver(store).AmountDue(ctx, *doc)
	if err != nil {
		return decimal.Zero
	}
	return due
}

// =============================================================================
// REVERSE
// =============================================================================

// Reverse undoes a posted group: voids every settlement, reverses the
// voucher, marks the group REVERSED. Idempotent in effect but not
// re-invocable - the second call fails with an invalid-state error.
func (o *Orchestrator) Reverse(ctx context.Context, id ledger.GroupID) (*ledger.AllocationGroup, error) {
	var reversed *ledger.AllocationGroup

	err := o.Store.WithTx(ctx, func(tx ledger.Store) error {
		group, err := tx.GetAllocationGroup(ctx, id)
		if err != nil {
			return err
		}
		if group.Status != ledger.GroupPosted {
			return &ledger.StateError{
				Entity: "group", ID: string(id),
				From: string(group.Status), To: string(ledger.GroupReversed),
			}
		}

		now := time.Now().UTC()
		for _, rec := range group.Records {
			if rec.SettlementID == "" {
				continue
			}
			if err := tx.VoidSettlement(ctx, rec.SettlementID, now); err != nil {
				return err
			}
		}

		if err := tx.MarkVoucherReversed(ctx, group.VoucherID, now); err != nil {
			return err
		}
		if err := tx.MarkGroupReversed(ctx, group.ID, now); err != nil {
			return err
		}

		group.Status = ledger.GroupReversed
		group.ReversedAt = &now
		reversed = group
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.Notifier.GroupReversed(reversed)
	return reversed, nil
}

// =============================================================================
// READS
// =============================================================================

// Get loads a group with its nested records.
func (o *Orchestrator) Get(ctx context.Context, id ledger.GroupID) (*ledger.AllocationGroup, error) {
	return o.Store.GetAllocationGroup(ctx, id)
}

// Propose runs the allocator against the counterparty's outstanding
// documents. Read-only; nothing is persisted.
func (o *Orchestrator) Propose(ctx context.Context, strategy ledger.Strategy, counterpartyID ledger.CounterpartyID, direction ledger.Direction, total decimal.Decimal) (Proposal, error) {
	if !direction.Valid() {
		return Proposal{}, fmt.Errorf("%w: unknown direction %q", ledger.ErrValidation, direction)
	}
	if _, err := o.Store.GetCounterparty(ctx, counterpartyID); err != nil {
		return Proposal{}, err
	}

	docs, err := o.ListOutstanding(ctx, counterpartyID, direction)
	if err != nil {
		return Proposal{}, err
	}
	return Allocate(strategy, docs, total)
}

// ListOutstanding returns the counterparty's documents that still have
// an amount due, for the document kind this direction settles.
func (o *Orchestrator) ListOutstanding(ctx context.Context, counterpartyID ledger.CounterpartyID, direction ledger.Direction) ([]ledger.OutstandingDocument, error) {
	if _, err := o.Store.GetCounterparty(ctx, counterpartyID); err != nil {
		return nil, err
	}
	resolver := ledger.NewBalanceResolver(o.Store)
	return resolver.Outstanding(ctx, counterpartyID, direction.DocumentKind())
}
