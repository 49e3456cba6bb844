package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rental/internal/domain"
	"rental/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// LocationBody is a delivery point.
type LocationBody struct {
	Lat float64 `json:"lat" binding:"min=-90,max=90"`
	Lng float64 `json:"lng" binding:"min=-180,max=180"`
}

func (b *LocationBody) location() *domain.Location {
	if b == nil {
		return nil
	}
	return domain.NewLocation(b.Lat, b.Lng)
}

// ReadingsBody is a fuel/odometer snapshot.
type ReadingsBody struct {
	FuelLevel int64 `json:"fuel_level" binding:"min=0,max=100"`
	Odometer  int64 `json:"odometer" binding:"min=0"`
}

func (b ReadingsBody) readings() domain.Readings {
	return domain.Readings{FuelLevel: b.FuelLevel, Odometer: b.Odometer}
}

// CreateTripBody is the HTTP request body for requesting a trip.
type CreateTripBody struct {
	CarID               int64         `json:"car_id" binding:"required,gt=0"`
	StartDateTime       time.Time     `json:"start_date_time" binding:"required"`
	EndDateTime         time.Time     `json:"end_date_time" binding:"required,gtfield=StartDateTime"`
	Currency            string        `json:"currency" binding:"required"`
	PickUp              *LocationBody `json:"pick_up"`
	Return              *LocationBody `json:"return"`
	Payment             string        `json:"payment" binding:"required,numeric"`
	UseReferralDiscount bool          `json:"use_referral_discount"`
	ReferralHash        string        `json:"referral_hash"`
}

// CheckInByHostBody is the HTTP request body for the host's check-in.
type CheckInByHostBody struct {
	Readings     ReadingsBody `json:"readings" binding:"required"`
	InsuranceCo  string       `json:"insurance_company"`
	PolicyNumber string       `json:"insurance_policy_number"`
}

// CheckOutBody is the HTTP request body for check-outs.
type CheckOutBody struct {
	Readings     ReadingsBody `json:"readings" binding:"required"`
	ReferralHash string       `json:"referral_hash"`
}

// FinishTripBody is the HTTP request body for finishing a trip.
type FinishTripBody struct {
	ReferralHash        string `json:"referral_hash"`
	UseReferralDiscount bool   `json:"use_referral_discount"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	TripID                 int64                   `json:"trip_id"`
	CarID                  int64                   `json:"car_id"`
	Guest                  string                  `json:"guest"`
	Host                   string                  `json:"host"`
	Status                 string                  `json:"status"`
	StartDateTime          string                  `json:"start_date_time"`
	EndDateTime            string                  `json:"end_date_time"`
	Payment                PaymentInfoResponse     `json:"payment"`
	Transaction            *domain.TransactionInfo `json:"transaction,omitempty"`
	PickUp                 *domain.Location        `json:"pick_up,omitempty"`
	Return                 *domain.Location        `json:"return,omitempty"`
	Insurance              *domain.InsuranceInfo   `json:"insurance,omitempty"`
	StartReadings          domain.Readings         `json:"start_readings"`
	EndReadings            domain.Readings         `json:"end_readings"`
	CheckedOutWithoutGuest bool                    `json:"checked_out_without_guest,omitempty"`
	StatusChangedAt        string                  `json:"status_changed_at"`
}

func newTripResponse(t *domain.Trip) TripResponse {
	return TripResponse{
		TripID:                 t.ID,
		CarID:                  t.CarID,
		Guest:                  t.Guest,
		Host:                   t.Host,
		Status:                 string(t.Status),
		StartDateTime:          t.StartDateTime.Format(time.RFC3339),
		EndDateTime:            t.EndDateTime.Format(time.RFC3339),
		Payment:                newPaymentInfoResponse(&t.PaymentInfo),
		Transaction:            t.TransactionInfo,
		PickUp:                 t.PickUpLocation,
		Return:                 t.ReturnLocation,
		Insurance:              t.Insurance,
		StartReadings:          t.StartReadings(),
		EndReadings:            t.EndReadings(),
		CheckedOutWithoutGuest: t.CheckedOutWithoutGuest,
		StatusChangedAt:        t.StatusChangedAt.Format(time.RFC3339),
	}
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	payment, ok := parseAmount(req.Payment)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payment must be a base-10 token amount"})
		return
	}

	trip, err := h.tripService.CreateTripRequest(c.Request.Context(), caller(c), service.TripRequest{
		CarID:               req.CarID,
		StartDateTime:       req.StartDateTime,
		EndDateTime:         req.EndDateTime,
		Currency:            req.Currency,
		PickUp:              req.PickUp.location(),
		Return:              req.Return.location(),
		Payment:             payment,
		UseReferralDiscount: req.UseReferralDiscount,
		ReferralHash:        req.ReferralHash,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, newTripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}

	trip, err := h.tripService.GetTrip(c.Request.Context(), caller(c), tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, newTripResponse(trip))
}

// ListTrips handles GET /v1/trips
func (h *TripHandler) ListTrips(c *gin.Context) {
	trips, err := h.tripService.ListTrips(c.Request.Context(), caller(c), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]TripResponse, len(trips))
	for i, t := range trips {
		response[i] = newTripResponse(t)
	}
	respondJSON(c, http.StatusOK, response)
}

// ApproveTrip handles POST /v1/trips/:id/approve
func (h *TripHandler) ApproveTrip(c *gin.Context) {
	h.simple(c, h.tripService.ApproveTripRequest)
}

// RejectTrip handles POST /v1/trips/:id/reject
func (h *TripHandler) RejectTrip(c *gin.Context) {
	h.simple(c, h.tripService.RejectTripRequest)
}

// ConfirmCheckOut handles POST /v1/trips/:id/confirm
func (h *TripHandler) ConfirmCheckOut(c *gin.Context) {
	h.simple(c, h.tripService.ConfirmCheckOut)
}

// CheckInByHost handles POST /v1/trips/:id/check-in/host
func (h *TripHandler) CheckInByHost(c *gin.Context) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req CheckInByHostBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	in := service.CheckInByHostRequest{Readings: req.Readings.readings()}
	if req.InsuranceCo != "" || req.PolicyNumber != "" {
		in.Insurance = &domain.InsuranceInfo{Company: req.InsuranceCo, PolicyNumber: req.PolicyNumber}
	}

	trip, err := h.tripService.CheckInByHost(c.Request.Context(), caller(c), tripID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newTripResponse(trip))
}

// CheckInByGuest handles POST /v1/trips/:id/check-in/guest
func (h *TripHandler) CheckInByGuest(c *gin.Context) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ReadingsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	trip, err := h.tripService.CheckInByGuest(c.Request.Context(), caller(c), tripID, req.readings())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newTripResponse(trip))
}

// CheckOutByGuest handles POST /v1/trips/:id/check-out/guest
func (h *TripHandler) CheckOutByGuest(c *gin.Context) {
	h.checkOut(c, h.tripService.CheckOutByGuest)
}

// CheckOutByHost handles POST /v1/trips/:id/check-out/host
func (h *TripHandler) CheckOutByHost(c *gin.Context) {
	h.checkOut(c, h.tripService.CheckOutByHost)
}

// FinishTrip handles POST /v1/trips/:id/finish
func (h *TripHandler) FinishTrip(c *gin.Context) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req FinishTripBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	trip, err := h.tripService.FinishTrip(c.Request.Context(), caller(c), tripID, service.FinishTripRequest{
		ReferralHash:        req.ReferralHash,
		UseReferralDiscount: req.UseReferralDiscount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newTripResponse(trip))
}

// GetReceipt handles GET /v1/trips/:id/receipt
func (h *TripHandler) GetReceipt(c *gin.Context) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}

	receipt, err := h.tripService.GetTripReceipt(c.Request.Context(), caller(c), tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, service.FormatReceipt(receipt))
		return
	}
	respondJSON(c, http.StatusOK, receipt)
}

func (h *TripHandler) simple(c *gin.Context, op func(ctx context.Context, caller string, tripID int64) (*domain.Trip, error)) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}

	trip, err := op(c.Request.Context(), caller(c), tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newTripResponse(trip))
}

func (h *TripHandler) checkOut(c *gin.Context, op func(ctx context.Context, caller string, tripID int64, req service.CheckOutRequest) (*domain.Trip, error)) {
	tripID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req CheckOutBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	readings := req.Readings.readings()
	trip, err := op(c.Request.Context(), caller(c), tripID, service.CheckOutRequest{
		Readings:     &readings,
		ReferralHash: req.ReferralHash,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, newTripResponse(trip))
}
