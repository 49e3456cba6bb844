package service

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"rental/internal/domain"
)

var (
	// ErrStateViolation is returned when the caller's role or the trip status does not allow a transition.
	ErrStateViolation = errors.New("state violation")

	// ErrRoleClaimMismatch is returned when a claim type is not permitted for the caller.
	ErrRoleClaimMismatch = errors.New("claim type not permitted for caller")

	// ErrInvalidClaimState is returned when acting on a claim that is not pending or is past its deadline.
	ErrInvalidClaimState = errors.New("invalid claim state")

	// ErrInsufficientPayment is returned when the value sent does not match the required amount.
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrInsufficientPoints is returned when a redemption exceeds the available points.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidTripWindow is returned when the trip end is not after its start.
	ErrInvalidTripWindow = errors.New("invalid trip window")

	// ErrCarUnavailable is returned when the car is unlisted, owned by the caller, or already booked.
	ErrCarUnavailable = errors.New("car unavailable for the requested window")

	// ErrInvalidReadings is returned when fuel or odometer readings are out of range.
	ErrInvalidReadings = errors.New("invalid readings")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidClaimAmount is returned when a claim amount is not positive.
	ErrInvalidClaimAmount = errors.New("invalid claim amount")

	// ErrInvalidCarPrice is returned when a reported car has a negative price or deposit.
	ErrInvalidCarPrice = errors.New("invalid car price")

	// ErrInvalidAddress is returned when an address is empty.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidEventKind is returned for an unknown referral event kind.
	ErrInvalidEventKind = errors.New("invalid event kind")

	// ErrDiscountUnavailable is returned when no discount is configured for the caller's tier.
	ErrDiscountUnavailable = errors.New("no referral discount for tier")

	// ErrReceiptNotReady is returned when a trip has no final money movement yet.
	ErrReceiptNotReady = errors.New("receipt not ready")

	// ErrForbidden is returned when the caller lacks the role for an administrative operation.
	ErrForbidden = errors.New("forbidden")
)

// StateViolationError identifies the offending (role, expected status) pair of a rejected transition.
type StateViolationError struct {
	Op       string
	Role     domain.Role
	Expected []domain.TripStatus
	Found    domain.TripStatus
	Reason   string
}

func (e *StateViolationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", e.Op)
	if e.Reason != "" {
		b.WriteString(e.Reason)
		return b.String()
	}

	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	fmt.Fprintf(&b, "role %s expected status %s, found %s", e.Role, strings.Join(expected, " or "), e.Found)
	return b.String()
}

func (e *StateViolationError) Unwrap() error { return ErrStateViolation }

// PaymentMismatchError reports the required and received token amounts.
type PaymentMismatchError struct {
	Currency string
	Required *big.Int
	Received *big.Int
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("insufficient payment: required %s %s, received %s", e.Required, e.Currency, e.Received)
}

func (e *PaymentMismatchError) Unwrap() error { return ErrInsufficientPayment }

// RoleClaimError reports a claim type filed by a role outside its partition.
type RoleClaimError struct {
	Role domain.Role
	Type domain.ClaimType
}

func (e *RoleClaimError) Error() string {
	if e.Role == "" {
		return "only for trip guest or host"
	}
	return fmt.Sprintf("claim type %s not permitted for %s", e.Type, e.Role)
}

func (e *RoleClaimError) Unwrap() error { return ErrRoleClaimMismatch }

// ClaimStateError reports why a claim cannot be acted on.
type ClaimStateError struct {
	ClaimID int64
	Status  domain.ClaimStatus
	Reason  string
}

func (e *ClaimStateError) Error() string {
	return fmt.Sprintf("claim %d (%s): %s", e.ClaimID, e.Status, e.Reason)
}

func (e *ClaimStateError) Unwrap() error { return ErrInvalidClaimState }

// PointsError reports a redemption above the available balance.
type PointsError struct {
	Required  int64
	Available int64
}

func (e *PointsError) Error() string {
	return fmt.Sprintf("insufficient points: required %d, available %d", e.Required, e.Available)
}

func (e *PointsError) Unwrap() error { return ErrInsufficientPoints }
