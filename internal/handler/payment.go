package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rental/internal/domain"
	"rental/internal/service"
)

// PaymentHandler handles HTTP requests for trip pricing.
type PaymentHandler struct {
	calculator *service.PaymentCalculator
	referral   *service.ReferralService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(calculator *service.PaymentCalculator, referral *service.ReferralService) *PaymentHandler {
	return &PaymentHandler{calculator: calculator, referral: referral}
}

// CalculatePaymentsBody is the HTTP request body for pricing a trip.
type CalculatePaymentsBody struct {
	CarID               int64         `json:"car_id" binding:"required,gt=0"`
	StartDateTime       time.Time     `json:"start_date_time" binding:"required"`
	EndDateTime         time.Time     `json:"end_date_time" binding:"required,gtfield=StartDateTime"`
	Currency            string        `json:"currency" binding:"required"`
	PickUp              *LocationBody `json:"pick_up"`
	Return              *LocationBody `json:"return"`
	UseReferralDiscount bool          `json:"use_referral_discount"`
}

// PaymentInfoResponse is the locked price of a trip.
type PaymentInfoResponse struct {
	TotalDayPriceInFiatCents int64  `json:"total_day_price_in_fiat_cents"`
	TotalTripDays            int64  `json:"total_trip_days"`
	DiscountAmount           int64  `json:"discount_amount"`
	ReferralDiscountPercent  int64  `json:"referral_discount_percent"`
	SalesTaxInFiatCents      int64  `json:"sales_tax_in_fiat_cents"`
	GovernmentTaxInFiatCents int64  `json:"government_tax_in_fiat_cents"`
	DepositInFiatCents       int64  `json:"deposit_in_fiat_cents"`
	DeliveryFeeInFiatCents   int64  `json:"delivery_fee_in_fiat_cents"`
	TotalInFiatCents         int64  `json:"total_in_fiat_cents"`
	Currency                 string `json:"currency"`
	Rate                     string `json:"rate"`
	RateDecimals             uint8  `json:"rate_decimals"`
	TokenDecimals            uint8  `json:"token_decimals"`
	TotalInTokens            string `json:"total_in_tokens"`
}

func newPaymentInfoResponse(p *domain.PaymentInfo) PaymentInfoResponse {
	return PaymentInfoResponse{
		TotalDayPriceInFiatCents: p.TotalDayPriceInFiatCents,
		TotalTripDays:            p.TotalTripDays,
		DiscountAmount:           p.DiscountAmount,
		ReferralDiscountPercent:  p.ReferralDiscountPercent,
		SalesTaxInFiatCents:      p.SalesTaxInFiatCents,
		GovernmentTaxInFiatCents: p.GovernmentTaxInFiatCents,
		DepositInFiatCents:       p.DepositInFiatCents,
		DeliveryFeeInFiatCents:   p.DeliveryFeeInFiatCents,
		TotalInFiatCents:         p.TotalInFiatCents,
		Currency:                 p.SettlementCurrency,
		Rate:                     amountString(p.SettlementRate),
		RateDecimals:             p.SettlementRateDecimals,
		TokenDecimals:            p.SettlementTokenDecimals,
		TotalInTokens:            amountString(p.TotalInTokens),
	}
}

// CalculatePayments handles POST /v1/payments/calculate
func (h *PaymentHandler) CalculatePayments(c *gin.Context) {
	var req CalculatePaymentsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	var referralPercent int64
	if req.UseReferralDiscount {
		discount, err := h.referral.DiscountFor(c.Request.Context(), caller(c), domain.EventCreateTrip)
		if err != nil {
			respondError(c, err)
			return
		}
		referralPercent = discount.Percent
	}

	info, err := h.calculator.CalculatePayments(c.Request.Context(), service.CalculatePaymentsRequest{
		CarID:                   req.CarID,
		StartDateTime:           req.StartDateTime,
		EndDateTime:             req.EndDateTime,
		Currency:                req.Currency,
		PickUp:                  req.PickUp.location(),
		Return:                  req.Return.location(),
		ReferralDiscountPercent: referralPercent,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, newPaymentInfoResponse(info))
}
