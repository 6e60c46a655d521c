/*
Package config provides JSON to Go posting-defaults conversion.

PURPOSE:
  Converts JSON tenant configuration into typed posting defaults. This
  enables per-tenant account wiring without code changes - an operator
  defines the counter accounts in JSON, and the engine resolves them at
  posting time.

WHY JSON?
  - Operators can rewire accounts without a deploy
  - Easy integration with an admin UI
  - Version control for tenant configuration

JSON SCHEMA:
  {
    "receipt_counter_account": "acc-receivable",
    "payment_counter_account": "acc-payable",
    "rounding_tolerance": "0.01"
  }

RESOLUTION FAILURE:
  A direction with no configured counter account is a fatal setup
  defect, surfaced as ledger.ErrCounterAccountMissing - distinct from
  validation errors, because no edit to the allocation can fix it.

SEE ALSO:
  - allocation/orchestrator.go: resolves counter accounts per direction
  - cmd/server/main.go: loads the JSON file at startup
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// POSTING DEFAULTS
// =============================================================================

// PostingDefaults holds the tenant-level wiring the orchestrator needs:
// which account takes the counter leg per direction, and how much
// rounding drift the balance check tolerates.
type PostingDefaults struct {
	// ReceiptCounterAccount is credited when money comes in
	// (income or receivable asset account).
	ReceiptCounterAccount ledger.AccountID

	// PaymentCounterAccount is debited when money goes out
	// (expense or payable liability account).
	PaymentCounterAccount ledger.AccountID

	// RoundingTolerance bounds |sum(records) - total| on the balance
	// rule. Pro-rata rounding needs it; anything beyond is rejected.
	RoundingTolerance decimal.Decimal
}

// DefaultTolerance is one minor currency unit at two decimals.
var DefaultTolerance = decimal.RequireFromString("0.01")

// CounterAccountFor resolves the counter account for a direction.
// Returns ledger.ErrCounterAccountMissing when unset.
func (d PostingDefaults) CounterAccountFor(dir ledger.Direction) (ledger.AccountID, error) {
	var id ledger.AccountID
	switch dir {
	case ledger.DirectionReceipt:
		id = d.ReceiptCounterAccount
	case ledger.DirectionPayment:
		id = d.PaymentCounterAccount
	default:
		return "", fmt.Errorf("unknown direction %q", dir)
	}
	if id == "" {
		return "", fmt.Errorf("%w for direction %s", ledger.ErrCounterAccountMissing, dir)
	}
	return id, nil
}

// =============================================================================
// JSON PARSING
// =============================================================================

type defaultsJSON struct {
	ReceiptCounterAccount string `json:"receipt_counter_account"`
	PaymentCounterAccount string `json:"payment_counter_account"`
	RoundingTolerance     string `json:"rounding_tolerance,omitempty"`
}

// ParsePostingDefaults parses JSON posting defaults, applying the
// standard tolerance when none is given.
func ParsePostingDefaults(jsonStr string) (PostingDefaults, error) {
	var raw defaultsJSON
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return PostingDefaults{}, fmt.Errorf("invalid posting defaults JSON: %w", err)
	}

	tolerance := DefaultTolerance
	if raw.RoundingTolerance != "" {
		parsed, err := decimal.NewFromString(raw.RoundingTolerance)
		if err != nil {
			return PostingDefaults{}, fmt.Errorf("invalid rounding_tolerance %q: %w", raw.RoundingTolerance, err)
		}
		if parsed.IsNegative() {
			return PostingDefaults{}, fmt.Errorf("rounding_tolerance must not be negative, got %s", parsed)
		}
		tolerance = parsed
	}

	return PostingDefaults{
		ReceiptCounterAccount: ledger.AccountID(raw.ReceiptCounterAccount),
		PaymentCounterAccount: ledger.AccountID(raw.PaymentCounterAccount),
		RoundingTolerance:     tolerance,
	}, nil
}

// LoadPostingDefaults reads and parses a posting defaults file.
func LoadPostingDefaults(path string) (PostingDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PostingDefaults{}, fmt.Errorf("read posting defaults: %w", err)
	}
	return ParsePostingDefaults(string(data))
}
