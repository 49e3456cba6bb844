package service

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"rental/internal/domain"
	"rental/internal/repository"
)

const maxFuelLevel = 100

type systemActorKey struct{}

// WithSystemActor marks ctx as carrying the automation actor. Only the
// automation sweeper sets it; it is never derived from a request.
func WithSystemActor(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemActorKey{}, true)
}

func isSystem(ctx context.Context) bool {
	v, _ := ctx.Value(systemActorKey{}).(bool)
	return v
}

// TripServiceDeps holds the collaborators of a TripService.
type TripServiceDeps struct {
	Store         repository.Store
	Locker        Locker
	Roles         RoleChecker
	Cars          CarCatalog
	Calculator    *PaymentCalculator
	Settlement    *SettlementService
	Referral      *ReferralService
	Notifications *NotificationService
	Receipts      *ReceiptService
	Cache         TripCache // optional
}

// TripService drives the trip lifecycle.
type TripService struct {
	store         repository.Store
	locker        Locker
	roles         RoleChecker
	cars          CarCatalog
	calculator    *PaymentCalculator
	settlement    *SettlementService
	referral      *ReferralService
	notifications *NotificationService
	receipts      *ReceiptService
	cache         TripCache
	now           func() time.Time
}

// NewTripService creates a new TripService.
func NewTripService(deps TripServiceDeps) *TripService {
	return &TripService{
		store:         deps.Store,
		locker:        deps.Locker,
		roles:         deps.Roles,
		cars:          deps.Cars,
		calculator:    deps.Calculator,
		settlement:    deps.Settlement,
		referral:      deps.Referral,
		notifications: deps.Notifications,
		receipts:      deps.Receipts,
		cache:         deps.Cache,
		now:           time.Now,
	}
}

// TripRequest contains the parameters for requesting a trip.
type TripRequest struct {
	CarID         int64
	StartDateTime time.Time
	EndDateTime   time.Time
	Currency      string
	PickUp        *domain.Location
	Return        *domain.Location
	// Payment is the token amount sent with the request. It must equal the quoted total.
	Payment             *big.Int
	UseReferralDiscount bool
	ReferralHash        string
}

// CreateTripRequest locks the price, escrows the payment and creates the trip in Created.
func (s *TripService) CreateTripRequest(ctx context.Context, caller string, req TripRequest) (*domain.Trip, error) {
	const op = "createTripRequest"
	if txn := newrelic.FromContext(ctx); txn != nil {
		defer txn.StartSegment("TripService/" + op).End()
	}

	if caller == "" {
		return nil, ErrInvalidAddress
	}
	if !req.EndDateTime.After(req.StartDateTime) {
		return nil, ErrInvalidTripWindow
	}
	if req.PickUp != nil && !req.PickUp.IsValid() {
		return nil, ErrInvalidLocation
	}
	if req.Return != nil && !req.Return.IsValid() {
		return nil, ErrInvalidLocation
	}

	isGuest, err := s.roles.IsGuest(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !isGuest {
		return nil, &StateViolationError{Op: op, Role: domain.RoleGuest, Reason: "caller does not hold the guest role"}
	}

	unlock, err := s.locker.Lock(ctx, carLockKey(req.CarID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	car, err := s.cars.GetByID(ctx, req.CarID)
	if err != nil {
		return nil, err
	}
	if !car.Listed || car.Host == caller {
		return nil, ErrCarUnavailable
	}

	var trip *domain.Trip
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		booked, err := repos.Trips.ListActiveForCar(ctx, car.ID, req.StartDateTime, req.EndDateTime)
		if err != nil {
			return err
		}
		if len(booked) > 0 {
			return ErrCarUnavailable
		}

		var referralPercent int64
		if req.UseReferralDiscount {
			if referralPercent, err = s.referral.redeem(ctx, repos, caller, domain.EventCreateTrip); err != nil {
				return err
			}
		}

		days := domain.TripDays(req.StartDateTime, req.EndDateTime)
		info, err := s.calculator.quote(ctx, car, days, CalculatePaymentsRequest{
			CarID:                   car.ID,
			StartDateTime:           req.StartDateTime,
			EndDateTime:             req.EndDateTime,
			Currency:                req.Currency,
			PickUp:                  req.PickUp,
			Return:                  req.Return,
			ReferralDiscountPercent: referralPercent,
		})
		if err != nil {
			return err
		}

		now := s.now()
		t := &domain.Trip{
			CarID:           car.ID,
			Guest:           caller,
			Host:            car.Host,
			Status:          domain.TripStatusCreated,
			StartDateTime:   req.StartDateTime,
			EndDateTime:     req.EndDateTime,
			Currency:        req.Currency,
			PaymentInfo:     *info,
			PickUpLocation:  req.PickUp,
			ReturnLocation:  req.Return,
			CreatedAt:       now,
			StatusChangedAt: now,
		}
		if err := repos.Trips.Create(ctx, t); err != nil {
			return err
		}
		if _, err := s.settlement.Hold(ctx, repos, t, req.Payment); err != nil {
			return err
		}
		if err := s.referral.accrue(ctx, repos, AccrualEvent{
			Address:      caller,
			Kind:         domain.EventCreateTrip,
			Unit:         unitID(t.ID),
			ReferralHash: req.ReferralHash,
			TripDays:     days,
		}); err != nil {
			return err
		}

		trip = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[TRIP] trip=%d requested by %s for car=%d, total=%d cents", trip.ID, caller, trip.CarID, trip.PaymentInfo.TotalInFiatCents)
	s.afterCommit(ctx, trip)
	return trip, nil
}

// ApproveTripRequest moves a Created trip to Approved.
func (s *TripService) ApproveTripRequest(ctx context.Context, caller string, tripID int64) (*domain.Trip, error) {
	return s.transition(ctx, caller, tripID, step{
		op:    "approveTripRequest",
		roles: []domain.Role{domain.RoleHost},
		from:  []domain.TripStatus{domain.TripStatusCreated},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			trip.Status = domain.TripStatusApproved
			return nil
		},
	})
}

// RejectTripRequest cancels a trip before check-in and refunds the escrow
// according to the refund table entry of (role, prior status).
func (s *TripService) RejectTripRequest(ctx context.Context, caller string, tripID int64) (*domain.Trip, error) {
	return s.transition(ctx, caller, tripID, step{
		op:     "rejectTripRequest",
		roles:  []domain.Role{domain.RoleHost, domain.RoleGuest},
		system: true,
		from:   []domain.TripStatus{domain.TripStatusCreated, domain.TripStatusApproved},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			info, err := s.settlement.SettleCancellation(ctx, repos, trip, role, trip.Status)
			if err != nil {
				return err
			}
			trip.TransactionInfo = info
			trip.Status = domain.TripStatusCanceled
			return closePendingClaims(ctx, repos, trip.ID, caller, s.now())
		},
	})
}

// CheckInByHostRequest contains the host's check-in data.
type CheckInByHostRequest struct {
	Readings  domain.Readings
	Insurance *domain.InsuranceInfo
}

// CheckInByHost records the host's readings and insurance details.
func (s *TripService) CheckInByHost(ctx context.Context, caller string, tripID int64, req CheckInByHostRequest) (*domain.Trip, error) {
	if err := validateReadings(req.Readings); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, tripID, step{
		op:    "checkInByHost",
		roles: []domain.Role{domain.RoleHost},
		from:  []domain.TripStatus{domain.TripStatusApproved},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			r := req.Readings
			trip.HostCheckIn = &r
			trip.Insurance = req.Insurance
			trip.Status = domain.TripStatusCheckedInByHost
			return nil
		},
	})
}

// CheckInByGuest records the guest's readings at pickup.
func (s *TripService) CheckInByGuest(ctx context.Context, caller string, tripID int64, readings domain.Readings) (*domain.Trip, error) {
	if err := validateReadings(readings); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, tripID, step{
		op:    "checkInByGuest",
		roles: []domain.Role{domain.RoleGuest},
		from:  []domain.TripStatus{domain.TripStatusCheckedInByHost},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			r := readings
			trip.GuestCheckIn = &r
			trip.Status = domain.TripStatusCheckedInByGuest
			return nil
		},
	})
}

// CheckOutRequest contains the readings at return.
type CheckOutRequest struct {
	// Readings may be nil only for a forced host check-out.
	Readings     *domain.Readings
	ReferralHash string
}

// CheckOutByGuest records the guest's readings at return.
func (s *TripService) CheckOutByGuest(ctx context.Context, caller string, tripID int64, req CheckOutRequest) (*domain.Trip, error) {
	if req.Readings == nil {
		return nil, ErrInvalidReadings
	}
	if err := validateReadings(*req.Readings); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, tripID, step{
		op:    "checkOutByGuest",
		roles: []domain.Role{domain.RoleGuest},
		from:  []domain.TripStatus{domain.TripStatusCheckedInByGuest},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			if req.Readings.Odometer < trip.StartReadings().Odometer {
				return ErrInvalidReadings
			}
			r := *req.Readings
			trip.GuestCheckOut = &r
			trip.Status = domain.TripStatusCheckedOutByGuest
			return s.referral.accrue(ctx, repos, AccrualEvent{
				Address:      trip.Guest,
				Kind:         domain.EventFinishTripAsGuest,
				Unit:         unitID(trip.ID),
				ReferralHash: req.ReferralHash,
				TripDays:     trip.PaymentInfo.TotalTripDays,
			})
		},
	})
}

// CheckOutByHost records the host's readings at return. From CheckedInByGuest
// it takes the path where the guest never checked out; the guest then
// confirms with ConfirmCheckOut.
func (s *TripService) CheckOutByHost(ctx context.Context, caller string, tripID int64, req CheckOutRequest) (*domain.Trip, error) {
	if req.Readings == nil && !isSystem(ctx) {
		return nil, ErrInvalidReadings
	}
	if req.Readings != nil {
		if err := validateReadings(*req.Readings); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, caller, tripID, step{
		op:     "checkOutByHost",
		roles:  []domain.Role{domain.RoleHost},
		system: true,
		from:   []domain.TripStatus{domain.TripStatusCheckedOutByGuest, domain.TripStatusCheckedInByGuest},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			r := trip.EndReadings()
			if trip.GuestCheckOut == nil {
				r = trip.StartReadings()
			}
			if req.Readings != nil {
				if req.Readings.Odometer < trip.StartReadings().Odometer {
					return ErrInvalidReadings
				}
				r = *req.Readings
			}
			trip.HostCheckOut = &r
			trip.CheckedOutWithoutGuest = trip.Status == domain.TripStatusCheckedInByGuest
			trip.Status = domain.TripStatusCheckedOutByHost
			return nil
		},
	})
}

// FinishTripRequest contains the host's finish options.
type FinishTripRequest struct {
	ReferralHash string
	// UseReferralDiscount spends the host's points on a platform fee discount.
	UseReferralDiscount bool
}

// FinishTrip settles the escrow and moves the trip to Finished. The deposit
// is held back while a claim on the trip is pending.
func (s *TripService) FinishTrip(ctx context.Context, caller string, tripID int64, req FinishTripRequest) (*domain.Trip, error) {
	return s.transition(ctx, caller, tripID, step{
		op:     "finishTrip",
		roles:  []domain.Role{domain.RoleHost},
		system: true,
		from:   []domain.TripStatus{domain.TripStatusCheckedOutByHost, domain.TripStatusCheckedOutByGuest},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			var feeDiscount int64
			if req.UseReferralDiscount && role == domain.RoleHost {
				percent, err := s.referral.redeem(ctx, repos, trip.Host, domain.EventFinishTripAsHost)
				if err != nil {
					return err
				}
				feeDiscount = percent
			}
			if err := s.finish(ctx, repos, trip, feeDiscount); err != nil {
				return err
			}
			return s.referral.accrue(ctx, repos, AccrualEvent{
				Address:      trip.Host,
				Kind:         domain.EventFinishTripAsHost,
				Unit:         unitID(trip.ID),
				ReferralHash: req.ReferralHash,
				TripDays:     trip.PaymentInfo.TotalTripDays,
			})
		},
	})
}

// ConfirmCheckOut is the guest's confirmation of a trip the host checked out
// alone. It finishes the trip if the host has not yet; on a trip already
// finished that way it changes nothing but the guest's points.
func (s *TripService) ConfirmCheckOut(ctx context.Context, caller string, tripID int64) (*domain.Trip, error) {
	const op = "confirmCheckOut"
	return s.transition(ctx, caller, tripID, step{
		op:    op,
		roles: []domain.Role{domain.RoleGuest},
		from:  []domain.TripStatus{domain.TripStatusCheckedOutByHost, domain.TripStatusFinished},
		apply: func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error {
			if !trip.CheckedOutWithoutGuest {
				return &StateViolationError{Op: op, Role: role, Found: trip.Status, Reason: "trip was not checked out by the host alone"}
			}
			if trip.Status == domain.TripStatusCheckedOutByHost {
				if err := s.finish(ctx, repos, trip, 0); err != nil {
					return err
				}
				if err := s.referral.accrue(ctx, repos, AccrualEvent{
					Address:  trip.Host,
					Kind:     domain.EventFinishTripAsHost,
					Unit:     unitID(trip.ID),
					TripDays: trip.PaymentInfo.TotalTripDays,
				}); err != nil {
					return err
				}
			}
			return s.referral.accrue(ctx, repos, AccrualEvent{
				Address:  trip.Guest,
				Kind:     domain.EventFinishTripAsGuest,
				Unit:     unitID(trip.ID),
				TripDays: trip.PaymentInfo.TotalTripDays,
			})
		},
	})
}

func (s *TripService) finish(ctx context.Context, repos repository.Repositories, trip *domain.Trip, feeDiscount int64) error {
	claims, err := repos.Claims.ListByTrip(ctx, trip.ID)
	if err != nil {
		return err
	}
	now := s.now()
	holdDeposit := false
	for _, c := range claims {
		if c.IsPending() && !c.Expired(now) {
			holdDeposit = true
			break
		}
	}

	info, err := s.settlement.SettleFinish(ctx, repos, trip, holdDeposit, feeDiscount)
	if err != nil {
		return err
	}
	trip.TransactionInfo = info
	trip.Status = domain.TripStatusFinished

	log.Printf("[TRIP] trip=%d finished: earnings=%d fee=%d deposit_refund=%d held=%t",
		trip.ID, info.TripEarningsInFiatCents, info.PlatformFeeInFiatCents, info.DepositRefundInFiatCents, info.DepositHeld)
	return nil
}

// GetTrip returns a trip to one of its participants.
func (s *TripService) GetTrip(ctx context.Context, caller string, tripID int64) (*domain.Trip, error) {
	trip, err := s.load(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !isSystem(ctx) && caller != trip.Guest && caller != trip.Host {
		return nil, ErrForbidden
	}
	return trip, nil
}

// ListTrips returns the trips where caller is the guest or the host, newest first.
func (s *TripService) ListTrips(ctx context.Context, caller string, limit int) ([]*domain.Trip, error) {
	if caller == "" {
		return nil, ErrInvalidAddress
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.Repositories().Trips.ListByParticipant(ctx, caller, limit)
}

// GetTripReceipt returns the receipt of a finished or canceled trip.
func (s *TripService) GetTripReceipt(ctx context.Context, caller string, tripID int64) (*domain.Receipt, error) {
	trip, err := s.GetTrip(ctx, caller, tripID)
	if err != nil {
		return nil, err
	}
	return s.receipts.GenerateReceipt(ctx, trip)
}

func (s *TripService) load(ctx context.Context, tripID int64) (*domain.Trip, error) {
	if s.cache != nil {
		if trip, err := s.cache.GetTrip(ctx, tripID); err == nil && trip != nil {
			return trip, nil
		}
	}
	trip, err := s.store.Repositories().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetTrip(ctx, trip); err != nil {
			log.Printf("failed to cache trip %d: %v", tripID, err)
		}
	}
	return trip, nil
}

// step describes one guarded transition.
type step struct {
	op    string
	roles []domain.Role
	// system allows the automation actor to force the transition.
	system bool
	from   []domain.TripStatus
	apply  func(ctx context.Context, repos repository.Repositories, trip *domain.Trip, role domain.Role) error
}

// transition serializes on the trip, re-reads it under a row lock, checks
// the caller and the status, and commits apply's changes in one transaction.
func (s *TripService) transition(ctx context.Context, caller string, tripID int64, st step) (*domain.Trip, error) {
	if txn := newrelic.FromContext(ctx); txn != nil {
		defer txn.StartSegment("TripService/" + st.op).End()
	}

	unlock, err := s.locker.Lock(ctx, tripLockKey(tripID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		trip  *domain.Trip
		prior domain.TripStatus
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		t, err := repos.Trips.GetByIDForUpdate(ctx, tripID)
		if err != nil {
			return err
		}

		role, err := s.authorize(ctx, caller, t, st)
		if err != nil {
			return err
		}
		if !statusIn(t.Status, st.from) {
			return &StateViolationError{Op: st.op, Role: role, Expected: st.from, Found: t.Status}
		}

		prior = t.Status
		if err := st.apply(ctx, repos, t, role); err != nil {
			return err
		}
		if t.Status != prior {
			t.StatusChangedAt = s.now()
		}
		if err := repos.Trips.Update(ctx, t); err != nil {
			return err
		}
		trip = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if trip.Status != prior {
		log.Printf("[TRIP] trip=%d %s: %s -> %s", trip.ID, st.op, prior, trip.Status)
		s.afterCommit(ctx, trip)
	}
	return trip, nil
}

func (s *TripService) authorize(ctx context.Context, caller string, trip *domain.Trip, st step) (domain.Role, error) {
	if isSystem(ctx) {
		if !st.system {
			return domain.RoleSystem, &StateViolationError{Op: st.op, Role: domain.RoleSystem, Reason: "transition cannot be forced"}
		}
		return domain.RoleSystem, nil
	}

	for _, role := range st.roles {
		var (
			ok  bool
			err error
		)
		switch {
		case role == domain.RoleHost && caller == trip.Host:
			ok, err = s.roles.IsHost(ctx, caller)
		case role == domain.RoleGuest && caller == trip.Guest:
			ok, err = s.roles.IsGuest(ctx, caller)
		}
		if err != nil {
			return "", err
		}
		if ok {
			return role, nil
		}
	}

	names := make([]string, len(st.roles))
	for i, r := range st.roles {
		names[i] = strings.ToLower(string(r))
	}
	return st.roles[0], &StateViolationError{
		Op:     st.op,
		Role:   st.roles[0],
		Found:  trip.Status,
		Reason: fmt.Sprintf("caller is not the trip %s", strings.Join(names, " or ")),
	}
}

func (s *TripService) afterCommit(ctx context.Context, trip *domain.Trip) {
	if s.cache != nil {
		if err := s.cache.InvalidateTrip(ctx, trip.ID); err != nil {
			log.Printf("failed to invalidate trip %d: %v", trip.ID, err)
		}
	}
	if s.notifications != nil {
		_ = s.notifications.NotifyTripStatusChanged(ctx, trip)
	}
	if s.receipts != nil && trip.Status.IsTerminal() {
		s.receipts.PublishReceipt(ctx, trip)
	}
}

func statusIn(status domain.TripStatus, set []domain.TripStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func validateReadings(r domain.Readings) error {
	if r.FuelLevel < 0 || r.FuelLevel > maxFuelLevel || r.Odometer < 0 {
		return ErrInvalidReadings
	}
	return nil
}
