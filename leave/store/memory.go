// Package store provides an in-memory leave.Repository for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

type grantKey struct {
	UserID leave.UserID
	Year   int
}

type state struct {
	users        map[leave.UserID]leave.User
	grants       map[grantKey]leave.Grant
	reservations map[string]leave.Reservation
	usage        map[string]leave.UsageRecord
}

func newState() state {
	return state{
		users:        make(map[leave.UserID]leave.User),
		grants:       make(map[grantKey]leave.Grant),
		reservations: make(map[string]leave.Reservation),
		usage:        make(map[string]leave.UsageRecord),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u leave.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id leave.UserID) (*leave.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]leave.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]leave.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// LEDGER (leave.Store)
// =============================================================================

func (m *Memory) ListGrants(ctx context.Context, userID leave.UserID) ([]leave.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listGrants(userID), nil
}

func (m *Memory) GetGrant(ctx context.Context, userID leave.UserID, year int) (*leave.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getGrant(userID, year), nil
}

func (m *Memory) SaveGrant(ctx context.Context, g leave.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveGrant(g)
	return nil
}

func (m *Memory) ListReservations(ctx context.Context, userID leave.UserID, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listReservations(userID, filter), nil
}

func (m *Memory) ListAllReservations(ctx context.Context, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listAllReservations(filter), nil
}

func (m *Memory) GetReservation(ctx context.Context, id string) (*leave.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getReservation(id), nil
}

func (m *Memory) CreateReservation(ctx context.Context, r leave.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createReservation(r)
}

func (m *Memory) UpdateReservationStatus(ctx context.Context, id string, status leave.ReservationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateReservationStatus(id, status)
}

func (m *Memory) CreateUsageRecord(ctx context.Context, u leave.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createUsage(u)
}

func (m *Memory) GetUsageRecord(ctx context.Context, id string) (*leave.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getUsage(id), nil
}

func (m *Memory) DeleteUsageRecord(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usage, id)
	return nil
}

func (m *Memory) ListUsageRecords(ctx context.Context, userID leave.UserID) ([]leave.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listUsage(userID), nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txView operates on the locked state directly.
type txView struct {
	s *state
}

func (tv *txView) ListGrants(_ context.Context, userID leave.UserID) ([]leave.Grant, error) {
	return tv.s.listGrants(userID), nil
}

func (tv *txView) GetGrant(_ context.Context, userID leave.UserID, year int) (*leave.Grant, error) {
	return tv.s.getGrant(userID, year), nil
}

func (tv *txView) SaveGrant(_ context.Context, g leave.Grant) error {
	tv.s.saveGrant(g)
	return nil
}

func (tv *txView) ListReservations(_ context.Context, userID leave.UserID, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	return tv.s.listReservations(userID, filter), nil
}

func (tv *txView) ListAllReservations(_ context.Context, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	return tv.s.listAllReservations(filter), nil
}

func (tv *txView) GetReservation(_ context.Context, id string) (*leave.Reservation, error) {
	return tv.s.getReservation(id), nil
}

func (tv *txView) CreateReservation(_ context.Context, r leave.Reservation) error {
	return tv.s.createReservation(r)
}

func (tv *txView) UpdateReservationStatus(_ context.Context, id string, status leave.ReservationStatus) error {
	return tv.s.updateReservationStatus(id, status)
}

func (tv *txView) CreateUsageRecord(_ context.Context, u leave.UsageRecord) error {
	return tv.s.createUsage(u)
}

func (tv *txView) GetUsageRecord(_ context.Context, id string) (*leave.UsageRecord, error) {
	return tv.s.getUsage(id), nil
}

func (tv *txView) DeleteUsageRecord(_ context.Context, id string) error {
	delete(tv.s.usage, id)
	return nil
}

func (tv *txView) ListUsageRecords(_ context.Context, userID leave.UserID) ([]leave.UsageRecord, error) {
	return tv.s.listUsage(userID), nil
}

// =============================================================================
// STATE (caller holds the lock)
// =============================================================================

var (
	errDuplicateID = errors.New("duplicate id")
	errUnknownID   = errors.New("unknown id")
)

func (s *state) clone() state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.usage {
		c.usage[k] = copyUsage(v)
	}
	return c
}

func (s *state) listGrants(userID leave.UserID) []leave.Grant {
	var out []leave.Grant
	for k, g := range s.grants {
		if k.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

func (s *state) getGrant(userID leave.UserID, year int) *leave.Grant {
	g, ok := s.grants[grantKey{UserID: userID, Year: year}]
	if !ok {
		return nil
	}
	return &g
}

func (s *state) saveGrant(g leave.Grant) {
	s.grants[grantKey{UserID: g.UserID, Year: g.Year}] = g
}

func (s *state) listReservations(userID leave.UserID, filter leave.ReservationFilter) []leave.Reservation {
	return s.selectReservations(func(r leave.Reservation) bool {
		return r.UserID == userID && filter.Matches(r)
	})
}

func (s *state) listAllReservations(filter leave.ReservationFilter) []leave.Reservation {
	return s.selectReservations(filter.Matches)
}

// selectReservations orders by date, creation time, then ID.
func (s *state) selectReservations(keep func(leave.Reservation) bool) []leave.Reservation {
	var out []leave.Reservation
	for _, r := range s.reservations {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) getReservation(id string) *leave.Reservation {
	r, ok := s.reservations[id]
	if !ok {
		return nil
	}
	return &r
}

func (s *state) createReservation(r leave.Reservation) error {
	if _, ok := s.reservations[r.ID]; ok {
		return errors.Wrapf(errDuplicateID, "reservation %s", r.ID)
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *state) updateReservationStatus(id string, status leave.ReservationStatus) error {
	r, ok := s.reservations[id]
	if !ok {
		return errors.Wrapf(errUnknownID, "reservation %s", id)
	}
	r.Status = status
	s.reservations[id] = r
	return nil
}

func (s *state) createUsage(u leave.UsageRecord) error {
	if _, ok := s.usage[u.ID]; ok {
		return errors.Wrapf(errDuplicateID, "usage %s", u.ID)
	}
	s.usage[u.ID] = copyUsage(u)
	return nil
}

func (s *state) getUsage(id string) *leave.UsageRecord {
	u, ok := s.usage[id]
	if !ok {
		return nil
	}
	c := copyUsage(u)
	return &c
}

func (s *state) listUsage(userID leave.UserID) []leave.UsageRecord {
	var out []leave.UsageRecord
	for _, u := range s.usage {
		if u.UserID == userID {
			out = append(out, copyUsage(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].UsedAt.Before(out[j].UsedAt)
	})
	return out
}

func copyUsage(u leave.UsageRecord) leave.UsageRecord {
	u.Deductions = append([]leave.Deduction(nil), u.Deductions...)
	return u
}

var _ leave.Repository = (*Memory)(nil)
