package domain

import "time"

// EventKind is a lifecycle event that accrues referral points.
type EventKind string

const (
	EventSetKYC            EventKind = "SET_KYC"
	EventPassCivic         EventKind = "PASS_CIVIC"
	EventAddCar            EventKind = "ADD_CAR"
	EventCreateTrip        EventKind = "CREATE_TRIP"
	EventFinishTripAsHost  EventKind = "FINISH_TRIP_AS_HOST"
	EventFinishTripAsGuest EventKind = "FINISH_TRIP_AS_GUEST"
	EventUnlistedCar       EventKind = "UNLISTED_CAR"
	EventDaily             EventKind = "DAILY"
)

// EventKinds lists every kind in a stable order.
var EventKinds = []EventKind{
	EventSetKYC,
	EventPassCivic,
	EventAddCar,
	EventCreateTrip,
	EventFinishTripAsHost,
	EventFinishTripAsGuest,
	EventUnlistedCar,
	EventDaily,
}

// IsValid reports whether k is a known kind.
func (k EventKind) IsValid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ReferralRecord is the point ledger entry of one address.
type ReferralRecord struct {
	Address string

	// ReferralHash is this address's own hash, empty until generated.
	ReferralHash string
	// ReferrerHash is the hash this address signed up with.
	ReferrerHash string

	// Pending holds own ready-to-claim points by event kind.
	Pending map[EventKind]int64
	// HashPending holds referrer shares earned through this address's hash.
	HashPending map[EventKind]int64

	// ClaimedPoints only grows, and only through a claim.
	ClaimedPoints int64
	SpentPoints   int64
	// Debt is a penalty that could not be taken from pending points;
	// it is netted against future claims.
	Debt int64

	Occurrences map[EventKind]int64
	// Units records qualifying units (car id, trip id) already rewarded or penalized per kind.
	Units map[EventKind][]string

	LastDailyClaim time.Time
	UpdatedAt      time.Time
}

// NewReferralRecord returns an empty ledger entry for address.
func NewReferralRecord(address string) *ReferralRecord {
	return &ReferralRecord{
		Address:     address,
		Pending:     make(map[EventKind]int64),
		HashPending: make(map[EventKind]int64),
		Occurrences: make(map[EventKind]int64),
		Units:       make(map[EventKind][]string),
	}
}

// Available returns the spendable balance.
func (r *ReferralRecord) Available() int64 {
	return r.ClaimedPoints - r.SpentPoints
}

// HasUnit reports whether unit was already recorded under kind.
func (r *ReferralRecord) HasUnit(kind EventKind, unit string) bool {
	for _, u := range r.Units[kind] {
		if u == unit {
			return true
		}
	}
	return false
}

// AddUnit records unit under kind.
func (r *ReferralRecord) AddUnit(kind EventKind, unit string) {
	if r.Units == nil {
		r.Units = make(map[EventKind][]string)
	}
	r.Units[kind] = append(r.Units[kind], unit)
}

// PendingTotal sums own ready-to-claim points.
func (r *ReferralRecord) PendingTotal() int64 {
	var total int64
	for _, v := range r.Pending {
		total += v
	}
	return total
}

// HashPendingTotal sums ready-to-claim referrer shares.
func (r *ReferralRecord) HashPendingTotal() int64 {
	var total int64
	for _, v := range r.HashPending {
		total += v
	}
	return total
}

// Clone returns a deep copy.
func (r *ReferralRecord) Clone() *ReferralRecord {
	c := *r
	c.Pending = copyPoints(r.Pending)
	c.HashPending = copyPoints(r.HashPending)
	c.Occurrences = copyPoints(r.Occurrences)
	c.Units = make(map[EventKind][]string, len(r.Units))
	for k, v := range r.Units {
		c.Units[k] = append([]string(nil), v...)
	}
	return &c
}

func copyPoints(m map[EventKind]int64) map[EventKind]int64 {
	out := make(map[EventKind]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PointsEntry is one row of a ready-to-claim listing.
type PointsEntry struct {
	Kind    EventKind
	Points  int64
	OneTime bool
}
