// Package memory provides an in-memory TxStore implementation
// (for testing/dev).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu           sync.RWMutex
	bookings     map[rental.BookingID]rental.Booking
	settlements  map[rental.BookingID]rental.SettlementState
	transactions map[rental.BookingID][]rental.SettlementTransaction
	txIndex      map[rental.TransactionID]rental.BookingID
	rates        []rental.Rate
	audits       map[rental.BookingID][]rental.AuditEntry
}

func New() *Store {
	return &Store{
		bookings:     make(map[rental.BookingID]rental.Booking),
		settlements:  make(map[rental.BookingID]rental.SettlementState),
		transactions: make(map[rental.BookingID][]rental.SettlementTransaction),
		txIndex:      make(map[rental.TransactionID]rental.BookingID),
		audits:       make(map[rental.BookingID][]rental.AuditEntry),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (m *Store) SaveBooking(_ context.Context, b rental.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBookingLocked(b)
}

func (m *Store) saveBookingLocked(b rental.Booking) error {
	if _, ok := m.bookings[b.ID]; ok {
		return &rental.ValidationError{Field: "id", Message: "booking already exists"}
	}
	if b.Version == 0 {
		b.Version = 1
	}
	m.bookings[b.ID] = b
	if _, ok := m.settlements[b.ID]; !ok {
		m.settlements[b.ID] = rental.SettlementState{
			BookingID: b.ID,
			Status:    rental.SettlementOpen,
			Version:   1,
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.CreatedAt,
		}
	}
	return nil
}

func (m *Store) GetBooking(_ context.Context, id rental.BookingID) (*rental.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBookingLocked(id)
}

func (m *Store) getBookingLocked(id rental.BookingID) (*rental.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, &rental.NotFoundError{Kind: "booking", ID: string(id)}
	}
	out := b
	return &out, nil
}

func (m *Store) UpdateBooking(_ context.Context, b rental.Booking, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBookingLocked(b, expectedVersion)
}

func (m *Store) updateBookingLocked(b rental.Booking, expectedVersion int64) error {
	current, ok := m.bookings[b.ID]
	if !ok {
		return &rental.NotFoundError{Kind: "booking", ID: string(b.ID)}
	}
	if current.Version != expectedVersion {
		return rental.ErrConcurrencyConflict
	}
	b.Version = expectedVersion + 1
	m.bookings[b.ID] = b
	return nil
}

func (m *Store) ListBookings(_ context.Context) ([]rental.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]rental.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		result = append(result, b)
	}
	return result, nil
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

func (m *Store) AppendTransaction(_ context.Context, tx rental.SettlementTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionLocked(tx)
}

func (m *Store) appendTransactionLocked(tx rental.SettlementTransaction) error {
	m.transactions[tx.BookingID] = append(m.transactions[tx.BookingID], tx)
	m.txIndex[tx.ID] = tx.BookingID
	return nil
}

func (m *Store) UpdateTransactionStatus(_ context.Context, id rental.TransactionID, status rental.TransactionStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransactionStatusLocked(id, status, at)
}

func (m *Store) updateTransactionStatusLocked(id rental.TransactionID, status rental.TransactionStatus, at time.Time) error {
	bookingID, ok := m.txIndex[id]
	if !ok {
		return &rental.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	txs := m.transactions[bookingID]
	for i := range txs {
		if txs[i].ID == id {
			txs[i].Status = status
			txs[i].UpdatedAt = at
			return nil
		}
	}
	return &rental.NotFoundError{Kind: "transaction", ID: string(id)}
}

func (m *Store) GetTransaction(_ context.Context, id rental.TransactionID) (*rental.SettlementTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Store) getTransactionLocked(id rental.TransactionID) (*rental.SettlementTransaction, error) {
	bookingID, ok := m.txIndex[id]
	if !ok {
		return nil, &rental.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	for _, tx := range m.transactions[bookingID] {
		if tx.ID == id {
			out := tx
			return &out, nil
		}
	}
	return nil, &rental.NotFoundError{Kind: "transaction", ID: string(id)}
}

func (m *Store) Transactions(_ context.Context, bookingID rental.BookingID) ([]rental.SettlementTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionsLocked(bookingID)
}

func (m *Store) transactionsLocked(bookingID rental.BookingID) ([]rental.SettlementTransaction, error) {
	result := make([]rental.SettlementTransaction, len(m.transactions[bookingID]))
	copy(result, m.transactions[bookingID])
	return result, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (m *Store) GetSettlement(_ context.Context, bookingID rental.BookingID) (*rental.SettlementState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSettlementLocked(bookingID)
}

func (m *Store) getSettlementLocked(bookingID rental.BookingID) (*rental.SettlementState, error) {
	st, ok := m.settlements[bookingID]
	if !ok {
		return nil, &rental.NotFoundError{Kind: "settlement", ID: string(bookingID)}
	}
	out := st
	return &out, nil
}

func (m *Store) UpdateSettlement(_ context.Context, s rental.SettlementState, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSettlementLocked(s, expectedVersion)
}

func (m *Store) updateSettlementLocked(s rental.SettlementState, expectedVersion int64) error {
	current, ok := m.settlements[s.BookingID]
	if !ok {
		return &rental.NotFoundError{Kind: "settlement", ID: string(s.BookingID)}
	}
	if current.Version != expectedVersion {
		return rental.ErrConcurrencyConflict
	}
	s.Version = expectedVersion + 1
	m.settlements[s.BookingID] = s
	return nil
}

// =============================================================================
// RATES
// =============================================================================

func (m *Store) SaveRate(_ context.Context, r rental.Rate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = append(m.rates, r)
	return nil
}

func (m *Store) ActiveRate(_ context.Context, vehicleID rental.VehicleID, from, to time.Time) (*rental.Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeRateLocked(vehicleID, from, to)
}

func (m *Store) activeRateLocked(vehicleID rental.VehicleID, from, to time.Time) (*rental.Rate, error) {
	for i := len(m.rates) - 1; i >= 0; i-- {
		r := m.rates[i]
		if r.VehicleID == vehicleID && r.Covers(from, to) {
			out := r
			return &out, nil
		}
	}
	return nil, &activeRateError{vehicleID: vehicleID}
}

type activeRateError struct{ vehicleID rental.VehicleID }

func (e *activeRateError) Error() string {
	return "no active rate for vehicle " + string(e.vehicleID)
}

func (e *activeRateError) Unwrap() error { return rental.ErrPricingUnavailable }

// =============================================================================
// AUDIT (append-only)
// =============================================================================

func (m *Store) AppendAudit(_ context.Context, entry rental.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Store) appendAuditLocked(entry rental.AuditEntry) error {
	m.audits[entry.BookingID] = append(m.audits[entry.BookingID], entry)
	return nil
}

func (m *Store) AuditTrail(_ context.Context, bookingID rental.BookingID) ([]rental.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]rental.AuditEntry, len(m.audits[bookingID]))
	copy(result, m.audits[bookingID])
	return result, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn against a transactional view. Simulated with a
// snapshot + rollback on error; the store lock is held throughout, which
// also serializes concurrent units of work.
func (m *Store) WithTx(_ context.Context, fn func(rental.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	bookings     map[rental.BookingID]rental.Booking
	settlements  map[rental.BookingID]rental.SettlementState
	transactions map[rental.BookingID][]rental.SettlementTransaction
	txIndex      map[rental.TransactionID]rental.BookingID
	rates        []rental.Rate
	audits       map[rental.BookingID][]rental.AuditEntry
}

func (m *Store) snapshot() snapshot {
	s := snapshot{
		bookings:     make(map[rental.BookingID]rental.Booking, len(m.bookings)),
		settlements:  make(map[rental.BookingID]rental.SettlementState, len(m.settlements)),
		transactions: make(map[rental.BookingID][]rental.SettlementTransaction, len(m.transactions)),
		txIndex:      make(map[rental.TransactionID]rental.BookingID, len(m.txIndex)),
		rates:        append([]rental.Rate{}, m.rates...),
		audits:       make(map[rental.BookingID][]rental.AuditEntry, len(m.audits)),
	}
	for k, v := range m.bookings {
		s.bookings[k] = v
	}
	for k, v := range m.settlements {
		s.settlements[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]rental.SettlementTransaction{}, v...)
	}
	for k, v := range m.txIndex {
		s.txIndex[k] = v
	}
	for k, v := range m.audits {
		s.audits[k] = append([]rental.AuditEntry{}, v...)
	}
	return s
}

func (m *Store) restore(s snapshot) {
	m.bookings = s.bookings
	m.settlements = s.settlements
	m.transactions = s.transactions
	m.txIndex = s.txIndex
	m.rates = s.rates
	m.audits = s.audits
}

// txView routes Store calls to the parent's non-locking internals while
// the parent holds its own lock for the duration of WithTx.
type txView struct {
	parent *Store
}

func (tv *txView) SaveBooking(_ context.Context, b rental.Booking) error {
	return tv.parent.saveBookingLocked(b)
}

func (tv *txView) GetBooking(_ context.Context, id rental.BookingID) (*rental.Booking, error) {
	return tv.parent.getBookingLocked(id)
}

func (tv *txView) UpdateBooking(_ context.Context, b rental.Booking, expectedVersion int64) error {
	return tv.parent.updateBookingLocked(b, expectedVersion)
}

func (tv *txView) ListBookings(ctx context.Context) ([]rental.Booking, error) {
	result := make([]rental.Booking, 0, len(tv.parent.bookings))
	for _, b := range tv.parent.bookings {
		result = append(result, b)
	}
	return result, nil
}

func (tv *txView) AppendTransaction(_ context.Context, tx rental.SettlementTransaction) error {
	return tv.parent.appendTransactionLocked(tx)
}

func (tv *txView) UpdateTransactionStatus(_ context.Context, id rental.TransactionID, status rental.TransactionStatus, at time.Time) error {
	return tv.parent.updateTransactionStatusLocked(id, status, at)
}

func (tv *txView) GetTransaction(_ context.Context, id rental.TransactionID) (*rental.SettlementTransaction, error) {
	return tv.parent.getTransactionLocked(id)
}

func (tv *txView) Transactions(_ context.Context, bookingID rental.BookingID) ([]rental.SettlementTransaction, error) {
	return tv.parent.transactionsLocked(bookingID)
}

func (tv *txView) GetSettlement(_ context.Context, bookingID rental.BookingID) (*rental.SettlementState, error) {
	return tv.parent.getSettlementLocked(bookingID)
}

func (tv *txView) UpdateSettlement(_ context.Context, s rental.SettlementState, expectedVersion int64) error {
	return tv.parent.updateSettlementLocked(s, expectedVersion)
}

func (tv *txView) SaveRate(_ context.Context, r rental.Rate) error {
	tv.parent.rates = append(tv.parent.rates, r)
	return nil
}

func (tv *txView) ActiveRate(_ context.Context, vehicleID rental.VehicleID, from, to time.Time) (*rental.Rate, error) {
	return tv.parent.activeRateLocked(vehicleID, from, to)
}

func (tv *txView) AppendAudit(_ context.Context, entry rental.AuditEntry) error {
	return tv.parent.appendAuditLocked(entry)
}

func (tv *txView) AuditTrail(_ context.Context, bookingID rental.BookingID) ([]rental.AuditEntry, error) {
	result := make([]rental.AuditEntry, len(tv.parent.audits[bookingID]))
	copy(result, tv.parent.audits[bookingID])
	return result, nil
}

var _ rental.TxStore = (*Store)(nil)
var _ rental.Store = (*txView)(nil)
