// Package store provides an in-memory ledger.Store implementation
// (for testing/dev). WithTx gets all-or-nothing semantics by
// snapshotting state and restoring it when the closure fails.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clearbook/allocation-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	accounts       map[ledger.AccountID]ledger.Account
	counterparties map[ledger.CounterpartyID]ledger.Counterparty
	documents      map[ledger.DocumentID]ledger.Document
	settlements    map[ledger.SettlementID]ledger.Settlement
	vouchers       map[ledger.VoucherID]ledger.Voucher
	groups         map[ledger.GroupID]ledger.AllocationGroup

	// insertion counters give lists a stable order
	seq   int
	order map[string]int
}

type snapshot struct {
	accounts       map[ledger.AccountID]ledger.Account
	counterparties map[ledger.CounterpartyID]ledger.Counterparty
	documents      map[ledger.DocumentID]ledger.Document
	settlements    map[ledger.SettlementID]ledger.Settlement
	vouchers       map[ledger.VoucherID]ledger.Voucher
	groups         map[ledger.GroupID]ledger.AllocationGroup
	seq            int
	order          map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		accounts:       make(map[ledger.AccountID]ledger.Account),
		counterparties: make(map[ledger.CounterpartyID]ledger.Counterparty),
		documents:      make(map[ledger.DocumentID]ledger.Document),
		settlements:    make(map[ledger.SettlementID]ledger.Settlement),
		vouchers:       make(map[ledger.VoucherID]ledger.Voucher),
		groups:         make(map[ledger.GroupID]ledger.AllocationGroup),
		order:          make(map[string]int),
	}
}

var _ ledger.TxStore = (*Memory)(nil)

func (m *Memory) take() *snapshot {
	return &snapshot{
		accounts:       copyMap(m.accounts),
		counterparties: copyMap(m.counterparties),
		documents:      copyMap(m.documents),
		settlements:    copyMap(m.settlements),
		vouchers:       copyMap(m.vouchers),
		groups:         copyGroups(m.groups),
		seq:            m.seq,
		order:          copyMap(m.order),
	}
}

func (m *Memory) restore(s *snapshot) {
	m.accounts = s.accounts
	m.counterparties = s.counterparties
	m.documents = s.documents
	m.settlements = s.settlements
	m.vouchers = s.vouchers
	m.groups = s.groups
	m.seq = s.seq
	m.order = s.order
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyGroups(src map[ledger.GroupID]ledger.AllocationGroup) map[ledger.GroupID]ledger.AllocationGroup {
	dst := make(map[ledger.GroupID]ledger.AllocationGroup, len(src))
	for k, g := range src {
		records := make([]ledger.AllocationRecord, len(g.Records))
		copy(records, g.Records)
		g.Records = records
		dst[k] = g
	}
	return dst
}

// Reset wipes all data. Development and demo use only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[ledger.AccountID]ledger.Account)
	m.counterparties = make(map[ledger.CounterpartyID]ledger.Counterparty)
	m.documents = make(map[ledger.DocumentID]ledger.Document)
	m.settlements = make(map[ledger.SettlementID]ledger.Settlement)
	m.vouchers = make(map[ledger.VoucherID]ledger.Voucher)
	m.groups = make(map[ledger.GroupID]ledger.AllocationGroup)
	m.order = make(map[string]int)
	m.seq = 0
	return nil
}

func (m *Memory) note(id string) {
	m.seq++
	m.order[id] = m.seq
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn atomically. The closure receives an unlocked view of
// the same store; on error every mutation made inside fn is discarded.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.take()
	if err := fn(&txMemory{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// txMemory exposes the unlocked internals inside WithTx. The outer
// mutex is already held, so methods must not re-lock.
type txMemory struct {
	m *Memory
}

var _ ledger.Store = (*txMemory)(nil)

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) SaveAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAccountLocked(a)
}

func (m *Memory) saveAccountLocked(a ledger.Account) error {
	if _, ok := m.accounts[a.ID]; !ok {
		m.note(string(a.ID))
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id ledger.AccountID) (*ledger.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &a, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

func (m *Memory) SaveCounterparty(_ context.Context, c ledger.Counterparty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counterparties[c.ID]; !ok {
		m.note(string(c.ID))
	}
	m.counterparties[c.ID] = c
	return nil
}

func (m *Memory) GetCounterparty(_ context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCounterpartyLocked(id)
}

func (m *Memory) getCounterpartyLocked(id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	c, ok := m.counterparties[id]
	if !ok {
		return nil, ledger.ErrCounterpartyNotFound
	}
	return &c, nil
}

func (m *Memory) ListCounterparties(_ context.Context) ([]ledger.Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Counterparty, 0, len(m.counterparties))
	for _, c := range m.counterparties {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func (m *Memory) SaveDocument(_ context.Context, d ledger.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[d.ID]; !ok {
		m.note(string(d.ID))
	}
	m.documents[d.ID] = d
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDocumentLocked(id)
}

func (m *Memory) getDocumentLocked(id ledger.DocumentID) (*ledger.Document, error) {
	d, ok := m.documents[id]
	if !ok {
		return nil, ledger.ErrDocumentNotFound
	}
	return &d, nil
}

func (m *Memory) ListDocuments(_ context.Context, counterpartyID ledger.CounterpartyID, kind ledger.DocumentKind) ([]ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDocumentsLocked(counterpartyID, kind)
}

func (m *Memory) listDocumentsLocked(counterpartyID ledger.CounterpartyID, kind ledger.DocumentKind) ([]ledger.Document, error) {
	var out []ledger.Document
	for _, d := range m.documents {
		if d.CounterpartyID == counterpartyID && d.Kind == kind {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (m *Memory) InsertSettlement(_ context.Context, s ledger.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSettlementLocked(s)
}

func (m *Memory) insertSettlementLocked(s ledger.Settlement) error {
	if _, ok := m.settlements[s.ID]; ok {
		return ledger.ErrDuplicateID
	}
	m.note(string(s.ID))
	m.settlements[s.ID] = s
	return nil
}

func (m *Memory) VoidSettlement(_ context.Context, id ledger.SettlementID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voidSettlementLocked(id, at)
}

func (m *Memory) voidSettlementLocked(id ledger.SettlementID, at time.Time) error {
	s, ok := m.settlements[id]
	if !ok {
		return ledger.ErrSettlementNotFound
	}
	if s.Reversed {
		return &ledger.StateError{Entity: "settlement", ID: string(id), From: "reversed", To: "reversed"}
	}
	s.Reversed = true
	s.ReversedAt = &at
	m.settlements[id] = s
	return nil
}

func (m *Memory) SettlementsByDocument(_ context.Context, id ledger.DocumentID) ([]ledger.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settlementsByDocumentLocked(id)
}

func (m *Memory) settlementsByDocumentLocked(id ledger.DocumentID) ([]ledger.Settlement, error) {
	var out []ledger.Settlement
	for _, s := range m.settlements {
		if s.DocumentID == id {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[string(out[i].ID)] < m.order[string(out[j].ID)]
	})
	return out, nil
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (m *Memory) InsertVoucher(_ context.Context, v ledger.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertVoucherLocked(v)
}

func (m *Memory) insertVoucherLocked(v ledger.Voucher) error {
	if _, ok := m.vouchers[v.ID]; ok {
		return ledger.ErrDuplicateID
	}
	m.note(string(v.ID))
	m.vouchers[v.ID] = v
	return nil
}

func (m *Memory) GetVoucher(_ context.Context, id ledger.VoucherID) (*ledger.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getVoucherLocked(id)
}

func (m *Memory) getVoucherLocked(id ledger.VoucherID) (*ledger.Voucher, error) {
	v, ok := m.vouchers[id]
	if !ok {
		return nil, ledger.ErrVoucherNotFound
	}
	return &v, nil
}

func (m *Memory) ListVouchers(_ context.Context, limit int) ([]ledger.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[string(out[i].ID)] > m.order[string(out[j].ID)]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkVoucherReversed(_ context.Context, id ledger.VoucherID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markVoucherReversedLocked(id, at)
}

func (m *Memory) markVoucherReversedLocked(id ledger.VoucherID, at time.Time) error {
	v, ok := m.vouchers[id]
	if !ok {
		return ledger.ErrVoucherNotFound
	}
	if err := v.MarkReversed(at); err != nil {
		return err
	}
	m.vouchers[id] = v
	return nil
}

// =============================================================================
// ALLOCATION GROUPS
// =============================================================================

func (m *Memory) InsertAllocationGroup(_ context.Context, g ledger.AllocationGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertGroupLocked(g)
}

func (m *Memory) insertGroupLocked(g ledger.AllocationGroup) error {
	if _, ok := m.groups[g.ID]; ok {
		return ledger.ErrDuplicateID
	}
	records := make([]ledger.AllocationRecord, len(g.Records))
	copy(records, g.Records)
	g.Records = records
	m.note(string(g.ID))
	m.groups[g.ID] = g
	return nil
}

func (m *Memory) GetAllocationGroup(_ context.Context, id ledger.GroupID) (*ledger.AllocationGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getGroupLocked(id)
}

func (m *Memory) getGroupLocked(id ledger.GroupID) (*ledger.AllocationGroup, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, ledger.ErrGroupNotFound
	}
	records := make([]ledger.AllocationRecord, len(g.Records))
	copy(records, g.Records)
	g.Records = records
	return &g, nil
}

func (m *Memory) ListAllocationGroups(_ context.Context, limit int) ([]ledger.AllocationGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.AllocationGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[string(out[i].ID)] > m.order[string(out[j].ID)]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkGroupReversed(_ context.Context, id ledger.GroupID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markGroupReversedLocked(id, at)
}

func (m *Memory) markGroupReversedLocked(id ledger.GroupID, at time.Time) error {
	g, ok := m.groups[id]
	if !ok {
		return ledger.ErrGroupNotFound
	}
	if g.Status == ledger.GroupReversed {
		return &ledger.StateError{Entity: "group", ID: string(id), From: string(g.Status), To: string(ledger.GroupReversed)}
	}
	g.Status = ledger.GroupReversed
	g.ReversedAt = &at
	m.groups[id] = g
	return nil
}

// =============================================================================
// TX VIEW - unlocked delegates used inside WithTx
// =============================================================================

func (t *txMemory) SaveAccount(_ context.Context, a ledger.Account) error {
	return t.m.saveAccountLocked(a)
}

func (t *txMemory) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return t.m.getAccountLocked(id)
}

func (t *txMemory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(t.m.accounts))
	for _, a := range t.m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *txMemory) SaveCounterparty(_ context.Context, c ledger.Counterparty) error {
	if _, ok := t.m.counterparties[c.ID]; !ok {
		t.m.note(string(c.ID))
	}
	t.m.counterparties[c.ID] = c
	return nil
}

func (t *txMemory) GetCounterparty(_ context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	return t.m.getCounterpartyLocked(id)
}

func (t *txMemory) ListCounterparties(_ context.Context) ([]ledger.Counterparty, error) {
	out := make([]ledger.Counterparty, 0, len(t.m.counterparties))
	for _, c := range t.m.counterparties {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *txMemory) SaveDocument(_ context.Context, d ledger.Document) error {
	if _, ok := t.m.documents[d.ID]; !ok {
		t.m.note(string(d.ID))
	}
	t.m.documents[d.ID] = d
	return nil
}

func (t *txMemory) GetDocument(_ context.Context, id ledger.DocumentID) (*ledger.Document, error) {
	return t.m.getDocumentLocked(id)
}

func (t *txMemory) ListDocuments(_ context.Context, counterpartyID ledger.CounterpartyID, kind ledger.DocumentKind) ([]ledger.Document, error) {
	return t.m.listDocumentsLocked(counterpartyID, kind)
}

func (t *txMemory) InsertSettlement(_ context.Context, s ledger.Settlement) error {
	return t.m.insertSettlementLocked(s)
}

func (t *txMemory) VoidSettlement(_ context.Context, id ledger.SettlementID, at time.Time) error {
	return t.m.voidSettlementLocked(id, at)
}

func (t *txMemory) SettlementsByDocument(_ context.Context, id ledger.DocumentID) ([]ledger.Settlement, error) {
	return t.m.settlementsByDocumentLocked(id)
}

func (t *txMemory) InsertVoucher(_ context.Context, v ledger.Voucher) error {
	return t.m.insertVoucherLocked(v)
}

func (t *txMemory) GetVoucher(_ context.Context, id ledger.VoucherID) (*ledger.Voucher, error) {
	return t.m.getVoucherLocked(id)
}

func (t *txMemory) ListVouchers(_ context.Context, limit int) ([]ledger.Voucher, error) {
	out := make([]ledger.Voucher, 0, len(t.m.vouchers))
	for _, v := range t.m.vouchers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.m.order[string(out[i].ID)] > t.m.order[string(out[j].ID)]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txMemory) MarkVoucherReversed(_ context.Context, id ledger.VoucherID, at time.Time) error {
	return t.m.markVoucherReversedLocked(id, at)
}

func (t *txMemory) InsertAllocationGroup(_ context.Context, g ledger.AllocationGroup) error {
	return t.m.insertGroupLocked(g)
}

func (t *txMemory) GetAllocationGroup(_ context.Context, id ledger.GroupID) (*ledger.AllocationGroup, error) {
	return t.m.getGroupLocked(id)
}

func (t *txMemory) ListAllocationGroups(_ context.Context, limit int) ([]ledger.AllocationGroup, error) {
	out := make([]ledger.AllocationGroup, 0, len(t.m.groups))
	for _, g := range t.m.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.m.order[string(out[i].ID)] > t.m.order[string(out[j].ID)]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txMemory) MarkGroupReversed(_ context.Context, id ledger.GroupID, at time.Time) error {
	return t.m.markGroupReversedLocked(id, at)
}
