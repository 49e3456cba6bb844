package domain

import (
	"math/big"
	"time"
)

// ClaimType identifies what a claim is for.
type ClaimType int

const (
	ClaimTypeTolls ClaimType = iota
	ClaimTypeTickets
	ClaimTypeLateReturn
	ClaimTypeSmoking
	ClaimTypeCleanliness
	ClaimTypeExtraMiles
	ClaimTypeExtraFuel
	ClaimTypeDamage
	ClaimTypeFaultyVehicle
	ClaimTypeListingMismatch
	ClaimTypeOther
)

var claimTypeNames = map[ClaimType]string{
	ClaimTypeTolls:           "TOLLS",
	ClaimTypeTickets:         "TICKETS",
	ClaimTypeLateReturn:      "LATE_RETURN",
	ClaimTypeSmoking:         "SMOKING",
	ClaimTypeCleanliness:     "CLEANLINESS",
	ClaimTypeExtraMiles:      "EXTRA_MILES",
	ClaimTypeExtraFuel:       "EXTRA_FUEL",
	ClaimTypeDamage:          "DAMAGE",
	ClaimTypeFaultyVehicle:   "FAULTY_VEHICLE",
	ClaimTypeListingMismatch: "LISTING_MISMATCH",
	ClaimTypeOther:           "OTHER",
}

func (t ClaimType) String() string {
	if name, ok := claimTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid reports whether t is a known claim type.
func (t ClaimType) IsValid() bool {
	_, ok := claimTypeNames[t]
	return ok
}

// ClaimParty is the taxonomy partition a claim type belongs to.
type ClaimParty string

const (
	ClaimPartyHost   ClaimParty = "HOST"
	ClaimPartyGuest  ClaimParty = "GUEST"
	ClaimPartyEither ClaimParty = "EITHER"
)

// Allows reports whether a trip participant with the given role may file under this partition.
func (p ClaimParty) Allows(role Role) bool {
	switch p {
	case ClaimPartyEither:
		return role == RoleHost || role == RoleGuest
	case ClaimPartyHost:
		return role == RoleHost
	case ClaimPartyGuest:
		return role == RoleGuest
	}
	return false
}

// ClaimStatus represents the current status of a claim.
type ClaimStatus string

const (
	ClaimStatusCreated  ClaimStatus = "CREATED"
	ClaimStatusRejected ClaimStatus = "REJECTED"
	ClaimStatusPaid     ClaimStatus = "PAID"
)

// Claim is a post-trip monetary dispute raised by one trip participant against the other.
type Claim struct {
	ID                int64
	TripID            int64
	TripSequence      int // 1-based number of the claim within its trip.
	Type              ClaimType
	Description       string
	PhotosURL         string
	AmountInFiatCents int64
	CreatedBy         string
	CreatorRole       Role
	Status            ClaimStatus
	Deadline          time.Time
	CreatedAt         time.Time
	ResolvedAt        time.Time
	ResolvedBy        string
	PaidCurrency      string
	PaidAmount        *big.Int
}

// IsPending reports whether the claim still awaits payment or rejection.
func (c *Claim) IsPending() bool {
	return c.Status == ClaimStatusCreated
}

// Expired reports whether the claim deadline has passed at now.
func (c *Claim) Expired(now time.Time) bool {
	return !c.Deadline.IsZero() && now.After(c.Deadline)
}

// Counterparty returns the role the claim is filed against.
func (c *Claim) Counterparty() Role {
	if c.CreatorRole == RoleHost {
		return RoleGuest
	}
	return RoleHost
}
