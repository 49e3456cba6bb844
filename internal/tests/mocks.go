package tests

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"rental/internal/domain"
	"rental/internal/events"
	"rental/internal/repository"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// MOCK STORE (unit of work)
// ──────────────────────────────────────────────

// MockStore is an in-memory repository.Store. Units of work run one at a
// time and a failed one restores the state it started from.
type MockStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	trips      map[int64]*domain.Trip
	claims     map[int64]*domain.Claim
	escrows    map[int64]*domain.Escrow
	balances   map[string]*big.Int
	transfers  []*domain.Transfer
	referrals  map[string]*domain.ReferralRecord
	nextTripID int64
	nextClaim  int64

	// Counters for verification
	CommitCount         int32
	RollbackCount       int32
	ReferralRowsCreated int32

	// Error injection
	EscrowUpdateError  error
	RecordTransferFail domain.TransferKind
}

// NewMockStore creates a new empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		trips:     make(map[int64]*domain.Trip),
		claims:    make(map[int64]*domain.Claim),
		escrows:   make(map[int64]*domain.Escrow),
		balances:  make(map[string]*big.Int),
		referrals: make(map[string]*domain.ReferralRecord),
	}
}

var errInjected = errors.New("injected failure")

func (m *MockStore) Repositories() repository.Repositories {
	return repository.Repositories{
		Trips:     &mockTrips{m},
		Claims:    &mockClaims{m},
		Escrows:   &mockEscrows{m},
		Accounts:  &mockAccounts{m},
		Referrals: &mockReferrals{m},
	}
}

func (m *MockStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(ctx, m.Repositories()); err != nil {
		m.restore(snap)
		atomic.AddInt32(&m.RollbackCount, 1)
		return err
	}
	atomic.AddInt32(&m.CommitCount, 1)
	return nil
}

type storeState struct {
	trips      map[int64]*domain.Trip
	claims     map[int64]*domain.Claim
	escrows    map[int64]*domain.Escrow
	balances   map[string]*big.Int
	transfers  []*domain.Transfer
	referrals  map[string]*domain.ReferralRecord
	nextTripID int64
	nextClaim  int64
}

func (m *MockStore) snapshot() storeState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := storeState{
		trips:      make(map[int64]*domain.Trip, len(m.trips)),
		claims:     make(map[int64]*domain.Claim, len(m.claims)),
		escrows:    make(map[int64]*domain.Escrow, len(m.escrows)),
		balances:   make(map[string]*big.Int, len(m.balances)),
		transfers:  append([]*domain.Transfer(nil), m.transfers...),
		referrals:  make(map[string]*domain.ReferralRecord, len(m.referrals)),
		nextTripID: m.nextTripID,
		nextClaim:  m.nextClaim,
	}
	for k, v := range m.trips {
		s.trips[k] = cloneTrip(v)
	}
	for k, v := range m.claims {
		s.claims[k] = cloneClaim(v)
	}
	for k, v := range m.escrows {
		s.escrows[k] = cloneEscrow(v)
	}
	for k, v := range m.balances {
		s.balances[k] = new(big.Int).Set(v)
	}
	for k, v := range m.referrals {
		s.referrals[k] = v.Clone()
	}
	return s
}

func (m *MockStore) restore(s storeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips = s.trips
	m.claims = s.claims
	m.escrows = s.escrows
	m.balances = s.balances
	m.transfers = s.transfers
	m.referrals = s.referrals
	m.nextTripID = s.nextTripID
	m.nextClaim = s.nextClaim
}

// Balance returns the internal balance of (address, currency).
func (m *MockStore) Balance(address, currency string) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[address+"|"+currency]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfers returns the journal entries of kind for a trip.
func (m *MockStore) Transfers(tripID int64, kind domain.TransferKind) []*domain.Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Transfer
	for _, t := range m.transfers {
		if t.TripID == tripID && t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Escrow returns a copy of the escrow of a trip, or nil.
func (m *MockStore) Escrow(tripID int64) *domain.Escrow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.escrows[tripID]; ok {
		return cloneEscrow(e)
	}
	return nil
}

// Trip returns a copy of a trip, or nil.
func (m *MockStore) Trip(id int64) *domain.Trip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.trips[id]; ok {
		return cloneTrip(t)
	}
	return nil
}

// Referral returns a copy of the ledger entry of address, or nil.
func (m *MockStore) Referral(address string) *domain.ReferralRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.referrals[address]; ok {
		return r.Clone()
	}
	return nil
}

// SetTripWindow moves a stored trip in time.
func (m *MockStore) SetTripWindow(id int64, start, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trips[id]; ok {
		t.StartDateTime, t.EndDateTime = start, end
	}
}

// SetClaimDeadline moves a claim's deadline, e.g. into the past.
func (m *MockStore) SetClaimDeadline(id int64, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[id]; ok {
		c.Deadline = deadline
	}
}

// ── trips ──

type mockTrips struct{ m *MockStore }

func (r *mockTrips) Create(ctx context.Context, trip *domain.Trip) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextTripID++
	trip.ID = r.m.nextTripID
	r.m.trips[trip.ID] = cloneTrip(trip)
	return nil
}

func (r *mockTrips) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTrip(t), nil
}

func (r *mockTrips) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Trip, error) {
	return r.GetByID(ctx, id)
}

func (r *mockTrips) Update(ctx context.Context, trip *domain.Trip) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.trips[trip.ID]; !ok {
		return repository.ErrNotFound
	}
	r.m.trips[trip.ID] = cloneTrip(trip)
	return nil
}

func (r *mockTrips) ListByParticipant(ctx context.Context, address string, limit int) ([]*domain.Trip, error) {
	return r.list(limit, func(t *domain.Trip) bool { return t.Guest == address || t.Host == address }, true), nil
}

func (r *mockTrips) ListActiveForCar(ctx context.Context, carID int64, start, end time.Time) ([]*domain.Trip, error) {
	return r.list(0, func(t *domain.Trip) bool {
		return t.CarID == carID && !t.Status.IsTerminal() &&
			t.StartDateTime.Before(end) && start.Before(t.EndDateTime)
	}, false), nil
}

func (r *mockTrips) ListOverdue(ctx context.Context, statuses []domain.TripStatus, by repository.TripDeadline, cutoff time.Time, limit int) ([]*domain.Trip, error) {
	deadline := func(t *domain.Trip) time.Time {
		if by == repository.ByEndTime {
			return t.EndDateTime
		}
		return t.StartDateTime
	}
	trips := r.list(0, func(t *domain.Trip) bool {
		if !deadline(t).Before(cutoff) {
			return false
		}
		for _, s := range statuses {
			if t.Status == s {
				return true
			}
		}
		return false
	}, false)
	sort.SliceStable(trips, func(i, j int) bool { return deadline(trips[i]).Before(deadline(trips[j])) })
	if limit > 0 && len(trips) > limit {
		trips = trips[:limit]
	}
	return trips, nil
}

func (r *mockTrips) list(limit int, match func(*domain.Trip) bool, newestFirst bool) []*domain.Trip {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*domain.Trip
	for _, t := range r.m.trips {
		if match(t) {
			out = append(out, cloneTrip(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ── claims ──

type mockClaims struct{ m *MockStore }

func (r *mockClaims) Create(ctx context.Context, claim *domain.Claim) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextClaim++
	claim.ID = r.m.nextClaim
	r.m.claims[claim.ID] = cloneClaim(claim)
	return nil
}

func (r *mockClaims) GetByID(ctx context.Context, id int64) (*domain.Claim, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.claims[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneClaim(c), nil
}

func (r *mockClaims) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Claim, error) {
	return r.GetByID(ctx, id)
}

func (r *mockClaims) Update(ctx context.Context, claim *domain.Claim) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.claims[claim.ID]; !ok {
		return repository.ErrNotFound
	}
	r.m.claims[claim.ID] = cloneClaim(claim)
	return nil
}

func (r *mockClaims) ListByTrip(ctx context.Context, tripID int64) ([]*domain.Claim, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*domain.Claim
	for _, c := range r.m.claims {
		if c.TripID == tripID {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripSequence < out[j].TripSequence })
	return out, nil
}

func (r *mockClaims) ListByParticipant(ctx context.Context, address string, limit int) ([]*domain.Claim, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*domain.Claim
	for _, c := range r.m.claims {
		t, ok := r.m.trips[c.TripID]
		if ok && (t.Guest == address || t.Host == address) {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── escrows ──

type mockEscrows struct{ m *MockStore }

func (r *mockEscrows) Create(ctx context.Context, escrow *domain.Escrow) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.escrows[escrow.TripID]; ok {
		return errors.New("escrow already exists")
	}
	r.m.escrows[escrow.TripID] = cloneEscrow(escrow)
	return nil
}

func (r *mockEscrows) GetByTripID(ctx context.Context, tripID int64) (*domain.Escrow, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	e, ok := r.m.escrows[tripID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneEscrow(e), nil
}

func (r *mockEscrows) GetByTripIDForUpdate(ctx context.Context, tripID int64) (*domain.Escrow, error) {
	return r.GetByTripID(ctx, tripID)
}

func (r *mockEscrows) Update(ctx context.Context, escrow *domain.Escrow) error {
	if r.m.EscrowUpdateError != nil {
		return r.m.EscrowUpdateError
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.escrows[escrow.TripID] = cloneEscrow(escrow)
	return nil
}

func (r *mockEscrows) ListReleasable(ctx context.Context, now time.Time, limit int) ([]*domain.Escrow, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	open := make(map[int64]bool)
	for _, c := range r.m.claims {
		if c.IsPending() && !c.Expired(now) {
			open[c.TripID] = true
		}
	}
	var out []*domain.Escrow
	for _, e := range r.m.escrows {
		if e.Status == domain.EscrowStatusDepositHeld && !open[e.TripID] {
			out = append(out, cloneEscrow(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── accounts ──

type mockAccounts struct{ m *MockStore }

func (r *mockAccounts) Credit(ctx context.Context, address, currency string, amount *big.Int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := address + "|" + currency
	b, ok := r.m.balances[key]
	if !ok {
		b = new(big.Int)
	}
	r.m.balances[key] = new(big.Int).Add(b, amount)
	return nil
}

func (r *mockAccounts) Balance(ctx context.Context, address, currency string) (*big.Int, error) {
	return r.m.Balance(address, currency), nil
}

func (r *mockAccounts) RecordTransfer(ctx context.Context, transfer *domain.Transfer) error {
	if r.m.RecordTransferFail != "" && transfer.Kind == r.m.RecordTransferFail {
		return errInjected
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *transfer
	c.Amount = new(big.Int).Set(transfer.Amount)
	r.m.transfers = append(r.m.transfers, &c)
	return nil
}

func (r *mockAccounts) ListTransfers(ctx context.Context, tripID int64) ([]*domain.Transfer, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*domain.Transfer
	for _, t := range r.m.transfers {
		if t.TripID == tripID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ── referrals ──

type mockReferrals struct{ m *MockStore }

func (r *mockReferrals) Get(ctx context.Context, address string) (*domain.ReferralRecord, error) {
	if rec := r.m.Referral(address); rec != nil {
		return rec, nil
	}
	return nil, repository.ErrNotFound
}

func (r *mockReferrals) GetForUpdate(ctx context.Context, address string) (*domain.ReferralRecord, error) {
	return r.Get(ctx, address)
}

func (r *mockReferrals) GetOrCreateForUpdate(ctx context.Context, address string) (*domain.ReferralRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec, ok := r.m.referrals[address]
	if !ok {
		rec = domain.NewReferralRecord(address)
		r.m.referrals[address] = rec
		atomic.AddInt32(&r.m.ReferralRowsCreated, 1)
	}
	return rec.Clone(), nil
}

func (r *mockReferrals) GetByHash(ctx context.Context, hash string) (*domain.ReferralRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, rec := range r.m.referrals {
		if hash != "" && rec.ReferralHash == hash {
			return rec.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *mockReferrals) Save(ctx context.Context, record *domain.ReferralRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.referrals[record.Address] = record.Clone()
	return nil
}

// ── copies ──

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneTrip(t *domain.Trip) *domain.Trip {
	c := *t
	c.PaymentInfo.SettlementRate = cloneInt(t.PaymentInfo.SettlementRate)
	c.PaymentInfo.TotalInTokens = cloneInt(t.PaymentInfo.TotalInTokens)
	if t.TransactionInfo != nil {
		info := *t.TransactionInfo
		c.TransactionInfo = &info
	}
	for _, p := range []**domain.Readings{&c.HostCheckIn, &c.GuestCheckIn, &c.GuestCheckOut, &c.HostCheckOut} {
		if *p != nil {
			r := **p
			*p = &r
		}
	}
	if t.Insurance != nil {
		ins := *t.Insurance
		c.Insurance = &ins
	}
	if t.PickUpLocation != nil {
		l := *t.PickUpLocation
		c.PickUpLocation = &l
	}
	if t.ReturnLocation != nil {
		l := *t.ReturnLocation
		c.ReturnLocation = &l
	}
	return &c
}

func cloneClaim(c *domain.Claim) *domain.Claim {
	out := *c
	out.PaidAmount = cloneInt(c.PaidAmount)
	return &out
}

func cloneEscrow(e *domain.Escrow) *domain.Escrow {
	out := *e
	out.Amount = cloneInt(e.Amount)
	out.Remaining = cloneInt(e.Remaining)
	out.HeldDeposit = cloneInt(e.HeldDeposit)
	return &out
}

// ──────────────────────────────────────────────
// MOCK ROLES
// ──────────────────────────────────────────────

// MockRoles is a mock role checker and role repository.
type MockRoles struct {
	mu    sync.RWMutex
	roles map[string]map[domain.Role]bool

	// Error injection
	Error error
}

// NewMockRoles creates a new MockRoles.
func NewMockRoles() *MockRoles {
	return &MockRoles{roles: make(map[string]map[domain.Role]bool)}
}

func (m *MockRoles) HasRole(ctx context.Context, address string, role domain.Role) (bool, error) {
	if m.Error != nil {
		return false, m.Error
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[address][role], nil
}

func (m *MockRoles) Grant(ctx context.Context, address string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[address] == nil {
		m.roles[address] = make(map[domain.Role]bool)
	}
	m.roles[address][role] = true
	return nil
}

// Revoke removes a role from address.
func (m *MockRoles) Revoke(address string, role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles[address], role)
}

func (m *MockRoles) IsHost(ctx context.Context, address string) (bool, error) {
	return m.HasRole(ctx, address, domain.RoleHost)
}

func (m *MockRoles) IsGuest(ctx context.Context, address string) (bool, error) {
	return m.HasRole(ctx, address, domain.RoleGuest)
}

func (m *MockRoles) IsManager(ctx context.Context, address string) (bool, error) {
	return m.HasRole(ctx, address, domain.RoleManager)
}

// ──────────────────────────────────────────────
// MOCK CAR CATALOG
// ──────────────────────────────────────────────

// MockCars is a mock car catalog.
type MockCars struct {
	mu   sync.RWMutex
	cars map[int64]*domain.Car

	GetCallCount int32
}

// NewMockCars creates a new MockCars.
func NewMockCars() *MockCars {
	return &MockCars{cars: make(map[int64]*domain.Car)}
}

// AddCar adds a car to the catalog.
func (m *MockCars) AddCar(car *domain.Car) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *car
	m.cars[car.ID] = &c
}

func (m *MockCars) GetByID(ctx context.Context, id int64) (*domain.Car, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	car, ok := m.cars[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *car
	return &c, nil
}

func (m *MockCars) Upsert(ctx context.Context, car *domain.Car) error {
	m.AddCar(car)
	return nil
}

// ──────────────────────────────────────────────
// MOCK CAR LOCATOR
// ──────────────────────────────────────────────

// MockLocator is an in-memory geo index.
type MockLocator struct {
	mu     sync.Mutex
	points map[int64]*domain.Location

	Error error
}

// NewMockLocator creates a new MockLocator.
func NewMockLocator() *MockLocator {
	return &MockLocator{points: make(map[int64]*domain.Location)}
}

// Index places a car on the map.
func (m *MockLocator) Index(carID int64, lat, lng float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[carID] = domain.NewLocation(lat, lng)
}

func (m *MockLocator) FindNearbyCars(ctx context.Context, lat, lng, radiusMiles float64) ([]service.NearbyCar, error) {
	if m.Error != nil {
		return nil, m.Error
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	at := domain.NewLocation(lat, lng)
	var out []service.NearbyCar
	for id, p := range m.points {
		if miles := domain.DistanceMiles(at, p); miles <= radiusMiles {
			out = append(out, service.NearbyCar{CarID: id, Miles: miles})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Miles < out[j].Miles })
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *MockPublisher) Publish(ctx context.Context, event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Count returns how many events of eventType were published.
func (m *MockPublisher) Count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// MOCK TRIP CACHE
// ──────────────────────────────────────────────

// MockTripCache is a mock read cache.
type MockTripCache struct {
	mu    sync.Mutex
	trips map[int64]*domain.Trip

	InvalidateCount int32
}

// NewMockTripCache creates a new MockTripCache.
func NewMockTripCache() *MockTripCache {
	return &MockTripCache{trips: make(map[int64]*domain.Trip)}
}

func (m *MockTripCache) GetTrip(ctx context.Context, id int64) (*domain.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trips[id]; ok {
		return cloneTrip(t), nil
	}
	return nil, nil
}

func (m *MockTripCache) SetTrip(ctx context.Context, trip *domain.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = cloneTrip(trip)
	return nil
}

func (m *MockTripCache) InvalidateTrip(ctx context.Context, id int64) error {
	atomic.AddInt32(&m.InvalidateCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips, id)
	return nil
}

// Cached reports whether trip id is in the cache.
func (m *MockTripCache) Cached(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.trips[id]
	return ok
}
