package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rental/internal/domain"
	"rental/internal/service"
)

// ClaimHandler handles HTTP requests for claims.
type ClaimHandler struct {
	claimService *service.ClaimService
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(claimService *service.ClaimService) *ClaimHandler {
	return &ClaimHandler{claimService: claimService}
}

// CreateClaimBody is the HTTP request body for filing a claim.
type CreateClaimBody struct {
	TripID            int64  `json:"trip_id" binding:"required,gt=0"`
	ClaimType         *int   `json:"claim_type" binding:"required,claimtype"`
	Description       string `json:"description" binding:"max=2000"`
	PhotosURL         string `json:"photos_url" binding:"omitempty,url"`
	AmountInFiatCents int64  `json:"amount_in_fiat_cents" binding:"required,gt=0"`
}

// PayClaimBody is the HTTP request body for paying a claim.
type PayClaimBody struct {
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount" binding:"required,numeric"`
}

// ClaimResponse is the HTTP response for claim operations.
type ClaimResponse struct {
	ClaimID           int64  `json:"claim_id"`
	TripID            int64  `json:"trip_id"`
	TripSequence      int    `json:"trip_sequence"`
	ClaimType         string `json:"claim_type"`
	Description       string `json:"description"`
	PhotosURL         string `json:"photos_url,omitempty"`
	AmountInFiatCents int64  `json:"amount_in_fiat_cents"`
	CreatedBy         string `json:"created_by"`
	CreatorRole       string `json:"creator_role"`
	Status            string `json:"status"`
	Deadline          string `json:"deadline"`
	CreatedAt         string `json:"created_at"`
	ResolvedAt        string `json:"resolved_at,omitempty"`
	ResolvedBy        string `json:"resolved_by,omitempty"`
	PaidCurrency      string `json:"paid_currency,omitempty"`
	PaidAmount        string `json:"paid_amount,omitempty"`
}

func newClaimResponse(c *domain.Claim) ClaimResponse {
	resp := ClaimResponse{
		ClaimID:           c.ID,
		TripID:            c.TripID,
		TripSequence:      c.TripSequence,
		ClaimType:         c.Type.String(),
		Description:       c.Description,
		PhotosURL:         c.PhotosURL,
		AmountInFiatCents: c.AmountInFiatCents,
		CreatedBy:         c.CreatedBy,
		CreatorRole:       string(c.CreatorRole),
		Status:            string(c.Status),
		Deadline:          c.Deadline.Format(time.RFC3339),
		CreatedAt:         c.CreatedAt.Format(time.RFC3339),
		ResolvedBy:        c.ResolvedBy,
		PaidCurrency:      c.PaidCurrency,
	}
	if !c.ResolvedAt.IsZero() {
		resp.ResolvedAt = c.ResolvedAt.Format(time.RFC3339)
	}
	if c.PaidAmount != nil {
		resp.PaidAmount = c.PaidAmount.String()
	}
	return resp
}

func newClaimResponses(claims []*domain.Claim) []ClaimResponse {
	out := make([]ClaimResponse, len(claims))
	for i, c := range claims {
		out[i] = newClaimResponse(c)
	}
	return out
}

// CreateClaim handles POST /v1/claims
func (h *ClaimHandler) CreateClaim(c *gin.Context) {
	var req CreateClaimBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	claim, err := h.claimService.CreateClaim(c.Request.Context(), caller(c), service.CreateClaimRequest{
		TripID:            req.TripID,
		Type:              domain.ClaimType(*req.ClaimType),
		Description:       req.Description,
		PhotosURL:         req.PhotosURL,
		AmountInFiatCents: req.AmountInFiatCents,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, newClaimResponse(claim))
}

// RejectClaim handles POST /v1/claims/:id/reject
func (h *ClaimHandler) RejectClaim(c *gin.Context) {
	claimID, ok := parseID(c, "id")
	if !ok {
		return
	}

	claim, err := h.claimService.RejectClaim(c.Request.Context(), caller(c), claimID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newClaimResponse(claim))
}

// PayClaim handles POST /v1/claims/:id/pay
func (h *ClaimHandler) PayClaim(c *gin.Context) {
	claimID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req PayClaimBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must be a base-10 token amount"})
		return
	}

	claim, err := h.claimService.PayClaim(c.Request.Context(), caller(c), claimID, service.PayClaimRequest{
		Currency: req.Currency,
		Amount:   amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newClaimResponse(claim))
}

// GetClaim handles GET /v1/claims/:id
func (h *ClaimHandler) GetClaim(c *gin.Context) {
	claimID, ok := parseID(c, "id")
	if !ok {
		return
	}

	claim, err := h.claimService.GetClaim(c.Request.Context(), caller(c), claimID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newClaimResponse(claim))
}

// ListMyClaims handles GET /v1/claims
func (h *ClaimHandler) ListMyClaims(c *gin.Context) {
	claims, err := h.claimService.ListMyClaims(c.Request.Context(), caller(c), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newClaimResponses(claims))
}

// ListTripClaims handles GET /v1/trips/:id/claims
func (h *ClaimHandler) ListTripClaims(c *gin.Context) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}

	claims, err := h.claimService.ListTripClaims(c.Request.Context(), caller(c), tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newClaimResponses(claims))
}
