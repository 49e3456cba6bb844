package service

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"rental/internal/config"
	"rental/internal/domain"
	"rental/internal/repository"
)

// ClaimService resolves post-trip disputes between a trip's guest and host.
type ClaimService struct {
	store         repository.Store
	locker        Locker
	settlement    *SettlementService
	converter     TokenConverter
	notifications *NotificationService
	cache         TripCache // optional
	policy        config.ClaimPolicy
	now           func() time.Time
}

// NewClaimService creates a new ClaimService.
func NewClaimService(
	store repository.Store,
	locker Locker,
	settlement *SettlementService,
	converter TokenConverter,
	notifications *NotificationService,
	cache TripCache,
	policy config.ClaimPolicy,
) *ClaimService {
	return &ClaimService{
		store:         store,
		locker:        locker,
		settlement:    settlement,
		converter:     converter,
		notifications: notifications,
		cache:         cache,
		policy:        policy,
		now:           time.Now,
	}
}

// CreateClaimRequest contains the parameters for filing a claim.
type CreateClaimRequest struct {
	TripID            int64
	Type              domain.ClaimType
	Description       string
	PhotosURL         string
	AmountInFiatCents int64
}

// CreateClaim files a claim against the other participant of a trip.
func (s *ClaimService) CreateClaim(ctx context.Context, caller string, req CreateClaimRequest) (*domain.Claim, error) {
	if txn := newrelic.FromContext(ctx); txn != nil {
		defer txn.StartSegment("ClaimService/createClaim").End()
	}

	if req.AmountInFiatCents <= 0 {
		return nil, ErrInvalidClaimAmount
	}

	unlock, err := s.locker.Lock(ctx, tripLockKey(req.TripID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		claim       *domain.Claim
		counterpart string
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		trip, err := repos.Trips.GetByIDForUpdate(ctx, req.TripID)
		if err != nil {
			return err
		}

		role := participantRole(trip, caller)
		if role == "" {
			return &RoleClaimError{Type: req.Type}
		}
		if !trip.Status.AtLeast(domain.TripStatusApproved) {
			return &StateViolationError{
				Op:     "createClaim",
				Role:   role,
				Found:  trip.Status,
				Reason: "claims require an approved trip that was not canceled, found " + string(trip.Status),
			}
		}

		party, ok := s.policy.ClaimParty(req.Type)
		if !ok || !party.Allows(role) {
			return &RoleClaimError{Role: role, Type: req.Type}
		}

		existing, err := repos.Claims.ListByTrip(ctx, trip.ID)
		if err != nil {
			return err
		}

		now := s.now()
		c := &domain.Claim{
			TripID:            trip.ID,
			TripSequence:      len(existing) + 1,
			Type:              req.Type,
			Description:       req.Description,
			PhotosURL:         req.PhotosURL,
			AmountInFiatCents: req.AmountInFiatCents,
			CreatedBy:         caller,
			CreatorRole:       role,
			Status:            domain.ClaimStatusCreated,
			Deadline:          now.Add(s.policy.Window),
			CreatedAt:         now,
		}
		if err := repos.Claims.Create(ctx, c); err != nil {
			return err
		}

		claim = c
		counterpart = participant(trip, c.Counterparty())
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CLAIM] claim=%d (%s) filed on trip=%d by %s for %d cents",
		claim.ID, claim.Type, claim.TripID, claim.CreatorRole, claim.AmountInFiatCents)
	if s.notifications != nil {
		_ = s.notifications.NotifyClaimCreated(ctx, claim, counterpart)
	}
	return claim, nil
}

// RejectClaim rejects a pending claim. Only the party the claim is against
// may reject it, except for shared types which either party may reject.
// No funds move.
func (s *ClaimService) RejectClaim(ctx context.Context, caller string, claimID int64) (*domain.Claim, error) {
	return s.resolve(ctx, claimID, "rejectClaim", func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, claim *domain.Claim) error {
		role := participantRole(trip, caller)
		if role == "" {
			return &RoleClaimError{Type: claim.Type}
		}
		party, _ := s.policy.ClaimParty(claim.Type)
		if party != domain.ClaimPartyEither && role != claim.Counterparty() {
			return &RoleClaimError{Role: role, Type: claim.Type}
		}

		claim.Status = domain.ClaimStatusRejected
		claim.ResolvedBy = caller
		return nil
	})
}

// PayClaimRequest contains the payment sent for a claim.
type PayClaimRequest struct {
	Currency string
	Amount   *big.Int
}

// PayClaim pays a pending claim from the party it is against to its creator.
// The claim amount is converted at the current rate; any excess is credited
// back to the payer.
func (s *ClaimService) PayClaim(ctx context.Context, caller string, claimID int64, req PayClaimRequest) (*domain.Claim, error) {
	return s.resolve(ctx, claimID, "payClaim", func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, claim *domain.Claim) error {
		role := participantRole(trip, caller)
		if role == "" {
			return &RoleClaimError{Type: claim.Type}
		}
		if role != claim.Counterparty() {
			return &RoleClaimError{Role: role, Type: claim.Type}
		}

		required, _, err := s.converter.ToTokenAmount(ctx, claim.AmountInFiatCents, req.Currency)
		if err != nil {
			return err
		}
		if req.Amount == nil || req.Amount.Cmp(required) < 0 {
			received := new(big.Int)
			if req.Amount != nil {
				received.Set(req.Amount)
			}
			return &PaymentMismatchError{Currency: req.Currency, Required: required, Received: received}
		}

		if err := s.settlement.TransferDirect(ctx, repos, trip.ID, claim.ID, caller, claim.CreatedBy, req.Currency, required, domain.TransferKindClaimPayment); err != nil {
			return err
		}
		change := new(big.Int).Sub(req.Amount, required)
		if err := s.settlement.TransferDirect(ctx, repos, trip.ID, claim.ID, caller, caller, req.Currency, change, domain.TransferKindClaimChange); err != nil {
			return err
		}

		claim.Status = domain.ClaimStatusPaid
		claim.ResolvedBy = caller
		claim.PaidCurrency = req.Currency
		claim.PaidAmount = required
		return nil
	})
}

// resolve runs a pay or reject on a pending claim and releases the trip's
// held deposit once no claim on the trip is pending.
func (s *ClaimService) resolve(ctx context.Context, claimID int64, op string, apply func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, claim *domain.Claim) error) (*domain.Claim, error) {
	if txn := newrelic.FromContext(ctx); txn != nil {
		defer txn.StartSegment("ClaimService/" + op).End()
	}

	existing, err := s.store.Repositories().Claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, tripLockKey(existing.TripID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		claim    *domain.Claim
		guest    string
		released bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		c, err := repos.Claims.GetByIDForUpdate(ctx, claimID)
		if err != nil {
			return err
		}
		if !c.IsPending() {
			return &ClaimStateError{ClaimID: c.ID, Status: c.Status, Reason: "claim is not pending"}
		}
		now := s.now()
		if c.Expired(now) {
			return &ClaimStateError{ClaimID: c.ID, Status: c.Status, Reason: "claim deadline has passed"}
		}

		trip, err := repos.Trips.GetByID(ctx, c.TripID)
		if err != nil {
			return err
		}
		if err := apply(ctx, repos, trip, c); err != nil {
			return err
		}

		c.ResolvedAt = now
		if err := repos.Claims.Update(ctx, c); err != nil {
			return err
		}

		if released, err = s.releaseIfClear(ctx, repos, trip.ID, now); err != nil {
			return err
		}
		claim = c
		guest = trip.Guest
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CLAIM] claim=%d on trip=%d %s by %s", claim.ID, claim.TripID, claim.Status, claim.ResolvedBy)
	if s.notifications != nil {
		_ = s.notifications.NotifyClaimResolved(ctx, claim)
	}
	if released {
		s.afterRelease(ctx, claim.TripID, guest)
	}
	return claim, nil
}

// ReleaseStaleDeposit returns a held deposit once every claim still pending
// on the trip is past its deadline.
func (s *ClaimService) ReleaseStaleDeposit(ctx context.Context, tripID int64) (bool, error) {
	unlock, err := s.locker.Lock(ctx, tripLockKey(tripID))
	if err != nil {
		return false, err
	}
	defer unlock()

	var (
		released bool
		guest    string
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		trip, err := repos.Trips.GetByID(ctx, tripID)
		if err != nil {
			return err
		}
		guest = trip.Guest
		released, err = s.releaseIfClear(ctx, repos, tripID, s.now())
		return err
	})
	if err != nil {
		return false, err
	}
	if released {
		log.Printf("[CLAIM] held deposit of trip=%d released", tripID)
		s.afterRelease(ctx, tripID, guest)
	}
	return released, nil
}

// afterRelease drops the cached trip, whose transaction info changed, and tells the guest.
func (s *ClaimService) afterRelease(ctx context.Context, tripID int64, guest string) {
	if s.cache != nil {
		if err := s.cache.InvalidateTrip(ctx, tripID); err != nil {
			log.Printf("failed to invalidate trip %d: %v", tripID, err)
		}
	}
	if s.notifications != nil {
		_ = s.notifications.NotifyDepositReleased(ctx, tripID, guest)
	}
}

// releaseIfClear releases the held deposit when no claim on the trip can still be acted on.
func (s *ClaimService) releaseIfClear(ctx context.Context, repos repository.Repositories, tripID int64, now time.Time) (bool, error) {
	claims, err := repos.Claims.ListByTrip(ctx, tripID)
	if err != nil {
		return false, err
	}
	for _, c := range claims {
		if c.IsPending() && !c.Expired(now) {
			return false, nil
		}
	}
	return s.settlement.ReleaseHeldDeposit(ctx, repos, tripID)
}

// closePendingClaims rejects the claims still pending on a trip being canceled.
func closePendingClaims(ctx context.Context, repos repository.Repositories, tripID int64, by string, now time.Time) error {
	claims, err := repos.Claims.ListByTrip(ctx, tripID)
	if err != nil {
		return err
	}
	for _, c := range claims {
		if !c.IsPending() {
			continue
		}
		c.Status = domain.ClaimStatusRejected
		c.ResolvedBy = by
		c.ResolvedAt = now
		if err := repos.Claims.Update(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// GetClaim returns a claim to a participant of its trip.
func (s *ClaimService) GetClaim(ctx context.Context, caller string, claimID int64) (*domain.Claim, error) {
	repos := s.store.Repositories()
	claim, err := repos.Claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	trip, err := repos.Trips.GetByID(ctx, claim.TripID)
	if err != nil {
		return nil, err
	}
	if participantRole(trip, caller) == "" {
		return nil, ErrForbidden
	}
	return claim, nil
}

// ListTripClaims returns the claims of a trip in filing order.
func (s *ClaimService) ListTripClaims(ctx context.Context, caller string, tripID int64) ([]*domain.Claim, error) {
	repos := s.store.Repositories()
	trip, err := repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if participantRole(trip, caller) == "" {
		return nil, ErrForbidden
	}
	return repos.Claims.ListByTrip(ctx, tripID)
}

// ListMyClaims returns the claims on trips where caller is a participant.
func (s *ClaimService) ListMyClaims(ctx context.Context, caller string, limit int) ([]*domain.Claim, error) {
	if caller == "" {
		return nil, ErrInvalidAddress
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.Repositories().Claims.ListByParticipant(ctx, caller, limit)
}

func participantRole(trip *domain.Trip, address string) domain.Role {
	switch address {
	case "":
		return ""
	case trip.Host:
		return domain.RoleHost
	case trip.Guest:
		return domain.RoleGuest
	}
	return ""
}

func participant(trip *domain.Trip, role domain.Role) string {
	if role == domain.RoleHost {
		return trip.Host
	}
	return trip.Guest
}
