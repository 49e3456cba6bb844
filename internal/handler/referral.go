package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rental/internal/config"
	"rental/internal/domain"
	"rental/internal/service"
)

// ReferralHandler handles HTTP requests for the referral program.
type ReferralHandler struct {
	referralService *service.ReferralService
}

// NewReferralHandler creates a new ReferralHandler.
func NewReferralHandler(referralService *service.ReferralService) *ReferralHandler {
	return &ReferralHandler{referralService: referralService}
}

// RecordEventBody is an event reported by an identity or catalog collaborator.
type RecordEventBody struct {
	Address      string `json:"address" binding:"required"`
	Kind         string `json:"kind" binding:"required,eventkind"`
	Unit         string `json:"unit"`
	ReferralHash string `json:"referral_hash"`
	TripDays     int64  `json:"trip_days" binding:"min=0"`
}

// OneTimeBody sets the one-time points of an event kind.
type OneTimeBody struct {
	Kind           string `json:"kind" binding:"required,eventkind"`
	Points         int64  `json:"points" binding:"min=0"`
	PointsWithHash int64  `json:"points_with_hash" binding:"min=0"`
}

// ReferrerShareBody sets the referrer share of an event kind.
type ReferrerShareBody struct {
	Kind   string `json:"kind" binding:"required,eventkind"`
	Points int64  `json:"points" binding:"min=0"`
}

// DiscountBody sets a (kind, tier) discount.
type DiscountBody struct {
	Kind       string `json:"kind" binding:"required,eventkind"`
	Tier       int    `json:"tier" binding:"required,min=1"`
	PointsCost int64  `json:"points_cost" binding:"min=0"`
	Percent    int64  `json:"percent" binding:"min=0,max=100"`
}

// TierBody sets the lifetime points needed for a tier.
type TierBody struct {
	Tier      int   `json:"tier" binding:"required,min=1"`
	MinPoints int64 `json:"min_points" binding:"min=0"`
}

// VersionResponse reports the program version after an update.
type VersionResponse struct {
	Version int64 `json:"version"`
}

// GenerateHash handles POST /v1/referral/hash
func (h *ReferralHandler) GenerateHash(c *gin.Context) {
	hash, err := h.referralService.GenerateReferralHash(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"referral_hash": hash})
}

// ClaimPoints handles POST /v1/referral/claim
func (h *ReferralHandler) ClaimPoints(c *gin.Context) {
	claimed, err := h.referralService.ClaimPoints(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"claimed": claimed})
}

// ClaimReferralPoints handles POST /v1/referral/claim-referral
func (h *ReferralHandler) ClaimReferralPoints(c *gin.Context) {
	claimed, err := h.referralService.ClaimReferralPoints(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"claimed": claimed})
}

// GetReadyToClaim handles GET /v1/referral/ready-to-claim
func (h *ReferralHandler) GetReadyToClaim(c *gin.Context) {
	address := c.DefaultQuery("address", caller(c))

	ready, err := h.referralService.GetReadyToClaim(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ready)
}

// GetPointsInfo handles GET /v1/referral/info
func (h *ReferralHandler) GetPointsInfo(c *gin.Context) {
	respondJSON(c, http.StatusOK, h.referralService.GetPointsInfo())
}

// GetDiscount handles GET /v1/referral/discount?kind=
func (h *ReferralHandler) GetDiscount(c *gin.Context) {
	kind := domain.EventKind(c.Query("kind"))
	if !kind.IsValid() {
		respondError(c, service.ErrInvalidEventKind)
		return
	}

	discount, err := h.referralService.DiscountFor(c.Request.Context(), caller(c), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{
		"kind":        discount.Kind,
		"tier":        discount.Tier,
		"points_cost": discount.PointsCost,
		"percent":     discount.Percent,
	})
}

// RecordEvent handles POST /v1/referral/events
func (h *ReferralHandler) RecordEvent(c *gin.Context) {
	var req RecordEventBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	err := h.referralService.RecordEvent(c.Request.Context(), caller(c), service.AccrualEvent{
		Address:      req.Address,
		Kind:         domain.EventKind(req.Kind),
		Unit:         req.Unit,
		ReferralHash: req.ReferralHash,
		TripDays:     req.TripDays,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ManageOneTime handles PUT /v1/referral/admin/one-time
func (h *ReferralHandler) ManageOneTime(c *gin.Context) {
	var req OneTimeBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	version, err := h.referralService.ManageOneTime(c.Request.Context(), caller(c), domain.EventKind(req.Kind), req.Points, req.PointsWithHash)
	h.respondVersion(c, version, err)
}

// ManageReferrerShare handles PUT /v1/referral/admin/referrer-share
func (h *ReferralHandler) ManageReferrerShare(c *gin.Context) {
	var req ReferrerShareBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	version, err := h.referralService.ManageReferrerShare(c.Request.Context(), caller(c), domain.EventKind(req.Kind), req.Points)
	h.respondVersion(c, version, err)
}

// ManageDiscount handles PUT /v1/referral/admin/discount
func (h *ReferralHandler) ManageDiscount(c *gin.Context) {
	var req DiscountBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	version, err := h.referralService.ManageDiscount(c.Request.Context(), caller(c), config.ReferralDiscount{
		Kind:       domain.EventKind(req.Kind),
		Tier:       req.Tier,
		PointsCost: req.PointsCost,
		Percent:    req.Percent,
	})
	h.respondVersion(c, version, err)
}

// ManageTier handles PUT /v1/referral/admin/tier
func (h *ReferralHandler) ManageTier(c *gin.Context) {
	var req TierBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	version, err := h.referralService.ManageTier(c.Request.Context(), caller(c), req.Tier, req.MinPoints)
	h.respondVersion(c, version, err)
}

func (h *ReferralHandler) respondVersion(c *gin.Context, version int64, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, VersionResponse{Version: version})
}
