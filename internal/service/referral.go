package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"rental/internal/config"
	"rental/internal/domain"
	"rental/internal/repository"
)

// referralNamespace seeds the stable per-address referral hash.
var referralNamespace = uuid.MustParse("6f1c1a52-3d3e-4d8a-9a57-6a3f1f0e2b41")

// AccrualEvent is a qualifying lifecycle event for the referral ledger.
type AccrualEvent struct {
	Address string
	Kind    domain.EventKind
	// Unit is the qualifying unit (car or trip id). The same unit never accrues twice.
	Unit         string
	ReferralHash string
	TripDays     int64
}

// ReadyToClaim is the claimable view of one ledger entry.
type ReadyToClaim struct {
	Address       string               `json:"address"`
	Entries       []domain.PointsEntry `json:"entries"`
	Total         int64                `json:"total"`
	HashEntries   []domain.PointsEntry `json:"hash_entries"`
	HashTotal     int64                `json:"hash_total"`
	ClaimedPoints int64                `json:"claimed_points"`
	SpentPoints   int64                `json:"spent_points"`
	Available     int64                `json:"available"`
	Debt          int64                `json:"debt"`
	Tier          int                  `json:"tier"`
	ReferralHash  string               `json:"referral_hash,omitempty"`
}

// ProgramInfo is the current point program.
type ProgramInfo struct {
	Version int64                 `json:"version"`
	Program config.ReferralPolicy `json:"program"`
}

// ReferralService is the two-tier referral point ledger.
type ReferralService struct {
	store  repository.Store
	locker Locker
	roles  RoleChecker

	mu      sync.RWMutex
	program config.ReferralPolicy
	version int64

	now func() time.Time
}

// NewReferralService creates a new ReferralService.
func NewReferralService(store repository.Store, locker Locker, roles RoleChecker, policy *config.Policy) *ReferralService {
	return &ReferralService{
		store:   store,
		locker:  locker,
		roles:   roles,
		program: policy.Referral.Clone(),
		version: policy.Version,
		now:     time.Now,
	}
}

func (s *ReferralService) snapshot() config.ReferralPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.program.Clone()
}

// accrue applies one event to the ledger inside the caller's transaction.
func (s *ReferralService) accrue(ctx context.Context, repos repository.Repositories, ev AccrualEvent) error {
	if ev.Address == "" {
		return ErrInvalidAddress
	}
	if ev.Kind == domain.EventUnlistedCar {
		return s.penalize(ctx, repos, ev.Address, ev.Unit)
	}

	program := s.snapshot()
	rec, err := s.loadForUpdate(ctx, repos, ev.Address)
	if err != nil {
		return err
	}

	if ev.Unit != "" {
		if rec.HasUnit(ev.Kind, ev.Unit) {
			return nil
		}
		rec.AddUnit(ev.Kind, ev.Unit)
	}

	first := rec.Occurrences[ev.Kind] == 0
	rec.Occurrences[ev.Kind]++

	if rule, ok := oneTimeRule(program, ev.Kind); ok && first {
		if rec.ReferrerHash == "" && ev.ReferralHash != "" {
			if owner, err := s.hashOwner(ctx, repos, ev.ReferralHash); err != nil {
				return err
			} else if owner != "" && owner != rec.Address {
				rec.ReferrerHash = ev.ReferralHash
			}
		}

		points := rule.Points
		if rec.ReferrerHash != "" {
			points = rule.PointsWithHash
		}
		rec.Pending[ev.Kind] += points

		if rec.ReferrerHash != "" {
			if err := s.creditReferrer(ctx, repos, program, rec, ev.Kind); err != nil {
				return err
			}
		}
	}

	for _, rule := range program.Permanent {
		if rule.Kind != ev.Kind {
			continue
		}
		if rule.MinOccurrence > 0 && rec.Occurrences[ev.Kind] < rule.MinOccurrence {
			continue
		}
		if rule.MinTripDays > 0 && ev.TripDays < rule.MinTripDays {
			continue
		}
		rec.Pending[ev.Kind] += rule.Points
	}

	rec.UpdatedAt = s.now()
	return repos.Referrals.Save(ctx, rec)
}

func (s *ReferralService) creditReferrer(ctx context.Context, repos repository.Repositories, program config.ReferralPolicy, rec *domain.ReferralRecord, kind domain.EventKind) error {
	var share int64
	for _, r := range program.ReferrerShare {
		if r.Kind == kind {
			share = r.Points
		}
	}
	if share == 0 {
		return nil
	}

	owner, err := repos.Referrals.GetByHash(ctx, rec.ReferrerHash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner, err = repos.Referrals.GetForUpdate(ctx, owner.Address); err != nil {
		return err
	}

	owner.HashPending[kind] += share
	owner.UpdatedAt = s.now()
	return repos.Referrals.Save(ctx, owner)
}

// penalize applies the unlist penalty for a car once. The penalty is taken from
// pending car points first and the rest becomes debt against future claims.
func (s *ReferralService) penalize(ctx context.Context, repos repository.Repositories, address, unit string) error {
	program := s.snapshot()
	rec, err := s.loadForUpdate(ctx, repos, address)
	if err != nil {
		return err
	}
	if !rec.HasUnit(domain.EventAddCar, unit) || rec.HasUnit(domain.EventUnlistedCar, unit) {
		return nil
	}
	rec.AddUnit(domain.EventUnlistedCar, unit)
	rec.Occurrences[domain.EventUnlistedCar]++

	penalty := program.UnlistPenalty
	fromPending := min(penalty, rec.Pending[domain.EventAddCar])
	rec.Pending[domain.EventAddCar] -= fromPending
	if rec.Pending[domain.EventAddCar] == 0 {
		delete(rec.Pending, domain.EventAddCar)
	}
	rec.Debt += penalty - fromPending

	rec.UpdatedAt = s.now()
	return repos.Referrals.Save(ctx, rec)
}

// redeem spends points on the discount configured for (kind, tier of address).
func (s *ReferralService) redeem(ctx context.Context, repos repository.Repositories, address string, kind domain.EventKind) (int64, error) {
	program := s.snapshot()
	rec, err := s.loadForUpdate(ctx, repos, address)
	if err != nil {
		return 0, err
	}

	discount, ok := discountFor(program, kind, tierFor(program, rec.ClaimedPoints))
	if !ok {
		return 0, ErrDiscountUnavailable
	}
	if rec.Available() < discount.PointsCost {
		return 0, &PointsError{Required: discount.PointsCost, Available: rec.Available()}
	}

	rec.SpentPoints += discount.PointsCost
	rec.UpdatedAt = s.now()
	if err := repos.Referrals.Save(ctx, rec); err != nil {
		return 0, err
	}
	return discount.Percent, nil
}

// RecordEvent applies an event reported by an external collaborator.
func (s *ReferralService) RecordEvent(ctx context.Context, caller string, ev AccrualEvent) error {
	if !ev.Kind.IsValid() || ev.Kind == domain.EventDaily {
		return ErrInvalidEventKind
	}
	if err := s.requireManager(ctx, caller); err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, referralLockKey(ev.Address))
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return s.accrue(ctx, repos, ev)
	})
}

// ClaimPoints moves all own ready-to-claim points into the claimed total and
// returns the amount added. Daily points are granted at most once per day.
// Calling it with nothing pending changes nothing.
func (s *ReferralService) ClaimPoints(ctx context.Context, address string) (int64, error) {
	if address == "" {
		return 0, ErrInvalidAddress
	}
	program := s.snapshot()

	unlock, err := s.locker.Lock(ctx, referralLockKey(address))
	if err != nil {
		return 0, err
	}
	defer unlock()

	var claimed int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		rec, err := repos.Referrals.GetForUpdate(ctx, address)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now()
		if program.DailyPoints > 0 && len(rec.Occurrences) > 0 && now.Sub(rec.LastDailyClaim) >= 24*time.Hour {
			rec.Pending[domain.EventDaily] += program.DailyPoints
			rec.LastDailyClaim = now
		}

		total := rec.PendingTotal()
		if total == 0 {
			return nil
		}
		claimed = settleDebt(rec, total)
		rec.Pending = make(map[domain.EventKind]int64)
		rec.UpdatedAt = now
		return repos.Referrals.Save(ctx, rec)
	})
	if err != nil {
		return 0, err
	}

	if claimed > 0 {
		log.Printf("[REFERRAL] %s claimed %d points", address, claimed)
	}
	return claimed, nil
}

// ClaimReferralPoints moves the referrer shares earned through the caller's hash
// into the claimed total.
func (s *ReferralService) ClaimReferralPoints(ctx context.Context, address string) (int64, error) {
	if address == "" {
		return 0, ErrInvalidAddress
	}

	unlock, err := s.locker.Lock(ctx, referralLockKey(address))
	if err != nil {
		return 0, err
	}
	defer unlock()

	var claimed int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		rec, err := repos.Referrals.GetForUpdate(ctx, address)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		total := rec.HashPendingTotal()
		if total == 0 {
			return nil
		}
		claimed = settleDebt(rec, total)
		rec.HashPending = make(map[domain.EventKind]int64)
		rec.UpdatedAt = s.now()
		return repos.Referrals.Save(ctx, rec)
	})
	if err != nil {
		return 0, err
	}
	return claimed, nil
}

// settleDebt nets outstanding debt against total and adds the rest to the claimed points.
func settleDebt(rec *domain.ReferralRecord, total int64) int64 {
	applied := min(rec.Debt, total)
	rec.Debt -= applied
	rec.ClaimedPoints += total - applied
	return total - applied
}

// GenerateReferralHash returns the caller's referral hash, creating it on first use.
func (s *ReferralService) GenerateReferralHash(ctx context.Context, address string) (string, error) {
	if address == "" {
		return "", ErrInvalidAddress
	}

	unlock, err := s.locker.Lock(ctx, referralLockKey(address))
	if err != nil {
		return "", err
	}
	defer unlock()

	var hash string
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		rec, err := s.loadForUpdate(ctx, repos, address)
		if err != nil {
			return err
		}
		if rec.ReferralHash != "" {
			hash = rec.ReferralHash
			return nil
		}
		rec.ReferralHash = uuid.NewSHA1(referralNamespace, []byte(address)).String()
		rec.UpdatedAt = s.now()
		hash = rec.ReferralHash
		return repos.Referrals.Save(ctx, rec)
	})
	return hash, err
}

// GetReadyToClaim returns the claimable view of address.
func (s *ReferralService) GetReadyToClaim(ctx context.Context, address string) (*ReadyToClaim, error) {
	program := s.snapshot()

	rec, err := s.store.Repositories().Referrals.Get(ctx, address)
	if errors.Is(err, repository.ErrNotFound) {
		rec = domain.NewReferralRecord(address)
	} else if err != nil {
		return nil, err
	}

	return &ReadyToClaim{
		Address:       address,
		Entries:       pointsEntries(program, rec.Pending),
		Total:         rec.PendingTotal(),
		HashEntries:   pointsEntries(program, rec.HashPending),
		HashTotal:     rec.HashPendingTotal(),
		ClaimedPoints: rec.ClaimedPoints,
		SpentPoints:   rec.SpentPoints,
		Available:     rec.Available(),
		Debt:          rec.Debt,
		Tier:          tierFor(program, rec.ClaimedPoints),
		ReferralHash:  rec.ReferralHash,
	}, nil
}

// DiscountFor previews the discount the caller could redeem for kind.
func (s *ReferralService) DiscountFor(ctx context.Context, address string, kind domain.EventKind) (config.ReferralDiscount, error) {
	program := s.snapshot()

	rec, err := s.store.Repositories().Referrals.Get(ctx, address)
	if errors.Is(err, repository.ErrNotFound) {
		rec = domain.NewReferralRecord(address)
	} else if err != nil {
		return config.ReferralDiscount{}, err
	}

	discount, ok := discountFor(program, kind, tierFor(program, rec.ClaimedPoints))
	if !ok {
		return config.ReferralDiscount{}, ErrDiscountUnavailable
	}
	if rec.Available() < discount.PointsCost {
		return discount, &PointsError{Required: discount.PointsCost, Available: rec.Available()}
	}
	return discount, nil
}

// GetPointsInfo returns the current program tables.
func (s *ReferralService) GetPointsInfo() ProgramInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ProgramInfo{Version: s.version, Program: s.program.Clone()}
}

// ManageOneTime sets the one-time points of kind.
func (s *ReferralService) ManageOneTime(ctx context.Context, caller string, kind domain.EventKind, points, pointsWithHash int64) (int64, error) {
	if !kind.IsValid() {
		return 0, ErrInvalidEventKind
	}
	return s.update(ctx, caller, func(p *config.ReferralPolicy) {
		for i := range p.OneTime {
			if p.OneTime[i].Kind == kind {
				p.OneTime[i].Points, p.OneTime[i].PointsWithHash = points, pointsWithHash
				return
			}
		}
		p.OneTime = append(p.OneTime, config.OneTimeRule{Kind: kind, Points: points, PointsWithHash: pointsWithHash})
	})
}

// ManageReferrerShare sets the referrer share of kind.
func (s *ReferralService) ManageReferrerShare(ctx context.Context, caller string, kind domain.EventKind, points int64) (int64, error) {
	if !kind.IsValid() {
		return 0, ErrInvalidEventKind
	}
	return s.update(ctx, caller, func(p *config.ReferralPolicy) {
		for i := range p.ReferrerShare {
			if p.ReferrerShare[i].Kind == kind {
				p.ReferrerShare[i].Points = points
				return
			}
		}
		p.ReferrerShare = append(p.ReferrerShare, config.ShareRule{Kind: kind, Points: points})
	})
}

// ManageDiscount sets the (kind, tier) discount.
func (s *ReferralService) ManageDiscount(ctx context.Context, caller string, d config.ReferralDiscount) (int64, error) {
	if !d.Kind.IsValid() {
		return 0, ErrInvalidEventKind
	}
	if d.Percent < 0 || d.Percent > 100 || d.PointsCost < 0 {
		return 0, ErrDiscountUnavailable
	}
	return s.update(ctx, caller, func(p *config.ReferralPolicy) {
		for i := range p.Discounts {
			if p.Discounts[i].Kind == d.Kind && p.Discounts[i].Tier == d.Tier {
				p.Discounts[i] = d
				return
			}
		}
		p.Discounts = append(p.Discounts, d)
	})
}

// ManageTier sets the lifetime points needed for tier.
func (s *ReferralService) ManageTier(ctx context.Context, caller string, tier int, minPoints int64) (int64, error) {
	return s.update(ctx, caller, func(p *config.ReferralPolicy) {
		for i := range p.Tiers {
			if p.Tiers[i].Tier == tier {
				p.Tiers[i].MinPoints = minPoints
				return
			}
		}
		p.Tiers = append(p.Tiers, config.TierRule{Tier: tier, MinPoints: minPoints})
	})
}

func (s *ReferralService) update(ctx context.Context, caller string, apply func(p *config.ReferralPolicy)) (int64, error) {
	if err := s.requireManager(ctx, caller); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.program.Clone()
	apply(&next)
	s.program = next
	s.version++

	log.Printf("[REFERRAL] program updated to version %d by %s", s.version, caller)
	return s.version, nil
}

func (s *ReferralService) requireManager(ctx context.Context, caller string) error {
	ok, err := s.roles.IsManager(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *ReferralService) loadForUpdate(ctx context.Context, repos repository.Repositories, address string) (*domain.ReferralRecord, error) {
	return repos.Referrals.GetOrCreateForUpdate(ctx, address)
}

func (s *ReferralService) hashOwner(ctx context.Context, repos repository.Repositories, hash string) (string, error) {
	owner, err := repos.Referrals.GetByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return owner.Address, nil
}

func oneTimeRule(p config.ReferralPolicy, kind domain.EventKind) (config.OneTimeRule, bool) {
	for _, r := range p.OneTime {
		if r.Kind == kind {
			return r, true
		}
	}
	return config.OneTimeRule{}, false
}

func tierFor(p config.ReferralPolicy, claimed int64) int {
	tier := 0
	var best int64 = -1
	for _, t := range p.Tiers {
		if claimed >= t.MinPoints && t.MinPoints > best {
			tier, best = t.Tier, t.MinPoints
		}
	}
	return tier
}

func discountFor(p config.ReferralPolicy, kind domain.EventKind, tier int) (config.ReferralDiscount, bool) {
	for _, d := range p.Discounts {
		if d.Kind == kind && d.Tier == tier {
			return d, true
		}
	}
	return config.ReferralDiscount{}, false
}

func pointsEntries(p config.ReferralPolicy, points map[domain.EventKind]int64) []domain.PointsEntry {
	entries := make([]domain.PointsEntry, 0, len(points))
	for kind, v := range points {
		if v == 0 {
			continue
		}
		_, oneTime := oneTimeRule(p, kind)
		entries = append(entries, domain.PointsEntry{Kind: kind, Points: v, OneTime: oneTime})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Kind < entries[j].Kind })
	return entries
}

func unitID(id int64) string {
	return strconv.FormatInt(id, 10)
}
