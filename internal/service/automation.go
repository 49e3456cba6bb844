package service

import (
	"context"
	"errors"
	"log"
	"time"

	"rental/internal/config"
	"rental/internal/domain"
	"rental/internal/repository"
)

const automationLeaderKey = "automation"

// LeaderLock elects the single instance that runs the sweeper.
type LeaderLock interface {
	// TryLeader reports whether this instance holds key for the next ttl.
	TryLeader(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// SweepResult counts the transitions forced by one sweep.
type SweepResult struct {
	Rejected         int
	CheckedOut       int
	Finished         int
	DepositsReleased int
}

// AutomationService forces transitions on trips whose participants went
// silent. It calls the same guarded operations as participants do, as the
// system actor.
type AutomationService struct {
	store  repository.Store
	trips  *TripService
	claims *ClaimService
	leader LeaderLock // optional
	cfg    config.AutomationConfig
	now    func() time.Time
}

// NewAutomationService creates a new AutomationService.
func NewAutomationService(store repository.Store, trips *TripService, claims *ClaimService, leader LeaderLock, cfg config.AutomationConfig) *AutomationService {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &AutomationService{
		store:  store,
		trips:  trips,
		claims: claims,
		leader: leader,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *AutomationService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.leader != nil {
				ok, err := s.leader.TryLeader(ctx, automationLeaderKey, s.cfg.Interval)
				if err != nil {
					log.Printf("automation leader check failed: %v", err)
					continue
				}
				if !ok {
					continue
				}
			}
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("automation sweep failed: %v", err)
			}
		}
	}
}

// Sweep applies every timeout rule once. Trips that already moved on are skipped.
func (s *AutomationService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	sys := WithSystemActor(ctx)
	now := s.now()
	cutoff := now.Add(-s.cfg.Grace)
	trips := s.store.Repositories().Trips

	// Requests never answered by the host.
	created, err := trips.ListOverdue(ctx, []domain.TripStatus{domain.TripStatusCreated}, repository.ByStartTime, cutoff, s.cfg.Batch)
	if err != nil {
		return result, err
	}
	for _, t := range created {
		if s.apply(t, "reject", func() error {
			_, err := s.trips.RejectTripRequest(sys, "", t.ID)
			return err
		}) {
			result.Rejected++
		}
	}

	// Guest never checked out.
	checkedIn, err := trips.ListOverdue(ctx, []domain.TripStatus{domain.TripStatusCheckedInByGuest}, repository.ByEndTime, cutoff, s.cfg.Batch)
	if err != nil {
		return result, err
	}
	for _, t := range checkedIn {
		if s.apply(t, "check out", func() error {
			_, err := s.trips.CheckOutByHost(sys, "", t.ID, CheckOutRequest{})
			return err
		}) {
			result.CheckedOut++
		}
	}

	// Host never finished.
	checkedOut, err := trips.ListOverdue(ctx, []domain.TripStatus{domain.TripStatusCheckedOutByGuest, domain.TripStatusCheckedOutByHost}, repository.ByEndTime, cutoff, s.cfg.Batch)
	if err != nil {
		return result, err
	}
	for _, t := range checkedOut {
		if s.apply(t, "finish", func() error {
			_, err := s.trips.FinishTrip(sys, "", t.ID, FinishTripRequest{})
			return err
		}) {
			result.Finished++
		}
	}

	// Deposits held for claims nobody acted on before the deadline.
	held, err := s.store.Repositories().Escrows.ListReleasable(ctx, now, s.cfg.Batch)
	if err != nil {
		return result, err
	}
	for _, e := range held {
		released, err := s.claims.ReleaseStaleDeposit(ctx, e.TripID)
		if err != nil {
			log.Printf("automation: release deposit of trip %d failed: %v", e.TripID, err)
			continue
		}
		if released {
			result.DepositsReleased++
		}
	}

	if result != (SweepResult{}) {
		log.Printf("[AUTOMATION] rejected=%d checked_out=%d finished=%d deposits_released=%d",
			result.Rejected, result.CheckedOut, result.Finished, result.DepositsReleased)
	}
	return result, nil
}

// apply runs one forced transition. A trip another caller already moved is skipped silently.
func (s *AutomationService) apply(t *domain.Trip, action string, fn func() error) bool {
	err := fn()
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrStateViolation):
		return false
	default:
		log.Printf("automation: %s trip %d failed: %v", action, t.ID, err)
		return false
	}
}
